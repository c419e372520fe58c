// Package transport performs signed REST requests on behalf of the exchange
// adapters and returns raw response bodies.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"openlimits/internal/core"
	"openlimits/internal/logger"
)

type AuthType int

const (
	AuthNone AuthType = iota
	AuthAPIKey
	AuthSigned
)

// Transport is the collaborator adapters use to reach an exchange. Bodies are
// returned undecoded so adapters own the mapping into the domain model.
type Transport interface {
	Get(ctx context.Context, path string, query url.Values, auth AuthType) ([]byte, error)
	Post(ctx context.Context, path string, query url.Values, body []byte, auth AuthType) ([]byte, error)
	Put(ctx context.Context, path string, query url.Values, auth AuthType) ([]byte, error)
	Delete(ctx context.Context, path string, query url.Values, auth AuthType) ([]byte, error)
}

// Signer adds credentials to an outgoing request.
type Signer interface {
	Sign(req *http.Request, body []byte, auth AuthType) error
}

// ErrorDecoder turns a non-2xx body into an exchange-specific error. Returning
// nil falls back to a StatusError.
type ErrorDecoder func(status int, body []byte) error

type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	Signer            Signer
	DecodeError       ErrorDecoder
	Log               *logger.Log
}

type HTTPClient struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	limiter     *rate.Limiter
	signer      Signer
	decodeError ErrorDecoder
	log         *logger.Entry
}

func NewHTTPClient(opts Options) *HTTPClient {
	timeout := 15 * time.Second
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "openlimits-go"
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		userAgent:   userAgent,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(limit, burst),
		signer:      opts.Signer,
		decodeError: opts.DecodeError,
		log:         log.WithComponent("transport"),
	}
}

func (c *HTTPClient) Get(ctx context.Context, path string, query url.Values, auth AuthType) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, query, nil, auth)
}

func (c *HTTPClient) Post(ctx context.Context, path string, query url.Values, body []byte, auth AuthType) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, query, body, auth)
}

func (c *HTTPClient) Put(ctx context.Context, path string, query url.Values, auth AuthType) ([]byte, error) {
	return c.do(ctx, http.MethodPut, path, query, nil, auth)
}

func (c *HTTPClient) Delete(ctx context.Context, path string, query url.Values, auth AuthType) ([]byte, error) {
	return c.do(ctx, http.MethodDelete, path, query, nil, auth)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body []byte, auth AuthType) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		// Wait fails early, before ctx expires, when the reservation would
		// outlast the deadline.
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			return nil, fmt.Errorf("%s %s: rate limit wait: %w: %w", method, path, core.ErrTransportTimeout, err)
		}
		return nil, classifyNetError(method, path, err)
	}
	urlStr := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		urlStr += "?" + encoded
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, core.ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != AuthNone {
		if c.signer == nil {
			return nil, fmt.Errorf("%s %s: credentials required: %w", method, path, core.ErrUnauthorized)
		}
		if err := c.signer.Sign(req, body, auth); err != nil {
			return nil, fmt.Errorf("%s %s: sign: %w: %w", method, path, core.ErrUnauthorized, err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithFields(logger.Fields{"method": method, "path": path}).WithError(err).Warn("request failed")
		return nil, classifyNetError(method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyNetError(method, path, err)
	}
	if c.log.DebugEnabled() {
		c.log.WithFields(logger.Fields{
			"method":      method,
			"path":        path,
			"status":      resp.StatusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"bytes":       len(respBody),
		}).Debug("request done")
	}
	if resp.StatusCode/100 != 2 {
		return nil, c.statusError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (c *HTTPClient) statusError(status int, body []byte) error {
	statusErr := &StatusError{Status: status, Body: strings.TrimSpace(string(body))}
	if c.decodeError != nil {
		if apiErr := c.decodeError(status, body); apiErr != nil {
			return errors.Join(apiErr, statusErr)
		}
	}
	return statusErr
}

// StatusError is a non-2xx response. It unwraps to the error kind implied by
// the status code.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return core.ErrUnauthorized
	case e.Status == http.StatusTooManyRequests || e.Status == 418:
		return core.ErrRateLimited
	case e.Status == http.StatusGatewayTimeout || e.Status == http.StatusRequestTimeout:
		return core.ErrTransportTimeout
	}
	return core.ErrTransport
}

func classifyNetError(method, path string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s %s: %w: %w", method, path, core.ErrTransportTimeout, err)
	}
	return fmt.Errorf("%s %s: %w: %w", method, path, core.ErrTransport, err)
}
