// Package transporttest provides an in-memory transport.Transport for adapter
// tests.
package transporttest

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"openlimits/internal/transport"
)

type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
	Auth   transport.AuthType
}

// Responder answers a recorded call.
type Responder func(call Call) ([]byte, error)

// Recorder records every call and answers from registered routes keyed by
// "METHOD path". Unrouted calls fail.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	routes map[string]Responder
}

func NewRecorder() *Recorder {
	return &Recorder{routes: make(map[string]Responder)}
}

func (r *Recorder) Handle(method, path string, fn Responder) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[method+" "+path] = fn
	return r
}

// Reply registers a fixed body for a route.
func (r *Recorder) Reply(method, path, body string) *Recorder {
	return r.Handle(method, path, func(Call) ([]byte, error) { return []byte(body), nil })
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *Recorder) Get(ctx context.Context, path string, query url.Values, auth transport.AuthType) ([]byte, error) {
	return r.record(ctx, Call{Method: "GET", Path: path, Query: query, Auth: auth})
}

func (r *Recorder) Post(ctx context.Context, path string, query url.Values, body []byte, auth transport.AuthType) ([]byte, error) {
	return r.record(ctx, Call{Method: "POST", Path: path, Query: query, Body: body, Auth: auth})
}

func (r *Recorder) Put(ctx context.Context, path string, query url.Values, auth transport.AuthType) ([]byte, error) {
	return r.record(ctx, Call{Method: "PUT", Path: path, Query: query, Auth: auth})
}

func (r *Recorder) Delete(ctx context.Context, path string, query url.Values, auth transport.AuthType) ([]byte, error) {
	return r.record(ctx, Call{Method: "DELETE", Path: path, Query: query, Auth: auth})
}

func (r *Recorder) record(ctx context.Context, call Call) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	fn := r.routes[call.Method+" "+call.Path]
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("transporttest: no route for %s %s", call.Method, call.Path)
	}
	return fn(call)
}

var _ transport.Transport = (*Recorder)(nil)
