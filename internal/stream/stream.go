// Package stream runs a websocket market data subscription and checks the
// sequence contiguity of book deltas.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"openlimits/internal/core"
	"openlimits/internal/logger"
)

// ErrStreamClosed is returned by Next once Close has been called.
var ErrStreamClosed = errors.New("stream closed")

// GapError reports that one or more sequence numbers were never delivered.
type GapError struct {
	ProductID string
	Expected  uint64
	Got       uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("%s: expected sequence %d, got %d", e.ProductID, e.Expected, e.Got)
}

func (e *GapError) Unwrap() error { return core.ErrSequenceGapDetected }

// Decoder turns one websocket frame into zero or more market events.
// Control frames (subscription acks, heartbeats) decode to nothing.
type Decoder func(data []byte) ([]core.MarketEvent, error)

type Options struct {
	URL       string
	Subscribe []byte
	Decode    Decoder
	Keepalive time.Duration
	Buffer    int
	Dialer    *websocket.Dialer
	Log       *logger.Log
}

type Subscription struct {
	conn   *websocket.Conn
	decode Decoder
	log    *logger.Entry

	msgs      chan []byte
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	readErr   error

	// Next is not safe for concurrent use; these are owned by the caller's goroutine.
	pending []core.MarketEvent
	held      *core.MarketEvent
	last      uint64
	lastFirst uint64
	started   bool
}

func Dial(ctx context.Context, opts Options) (*Subscription, error) {
	if opts.URL == "" {
		return nil, errors.New("ws url required")
	}
	if opts.Decode == nil {
		return nil, errors.New("decoder required")
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	conn, _, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %w", opts.URL, core.ErrTransport, err)
	}
	if len(opts.Subscribe) > 0 {
		if dl, ok := ctx.Deadline(); ok {
			_ = conn.SetWriteDeadline(dl)
		}
		err := conn.WriteMessage(websocket.TextMessage, opts.Subscribe)
		_ = conn.SetWriteDeadline(time.Time{})
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("subscribe: %w: %w", core.ErrTransport, err)
		}
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	s := &Subscription{
		conn:   conn,
		decode: opts.Decode,
		log:    log.WithComponent("stream").WithFields(logger.Fields{"url": opts.URL}),
		msgs:   make(chan []byte, buffer),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.log.Info("stream connected")
	go s.readLoop(opts.Keepalive)
	if opts.Keepalive > 0 {
		go s.pingLoop(opts.Keepalive)
	}
	return s, nil
}

func (s *Subscription) readLoop(keepalive time.Duration) {
	defer close(s.done)
	defer close(s.msgs)

	readTimeout := time.Duration(0)
	if keepalive > 0 {
		readTimeout = keepalive * 3
		if readTimeout < 30*time.Second {
			readTimeout = 30 * time.Second
		}
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
	}
	for {
		if readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = err
			return
		}
		if len(data) == 0 {
			continue
		}
		select {
		case s.msgs <- data:
		case <-s.closed:
			return
		}
	}
}

func (s *Subscription) pingLoop(keepalive time.Duration) {
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				s.log.WithError(err).Warn("stream ping failed")
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Next returns the next market event. A *GapError is returned when a book
// delta does not continue the previous one, including a delta that ends
// before the last delivered one began (a feed-side sequence reset). The delta
// that exposed the gap is delivered by the following call and tracking
// resumes from it. Deltas overlapping the last delivered one are skipped.
func (s *Subscription) Next(ctx context.Context) (core.MarketEvent, error) {
	for {
		if s.isClosed() {
			return core.MarketEvent{}, ErrStreamClosed
		}
		if s.held != nil {
			ev := *s.held
			s.held = nil
			s.advance(ev)
			return ev, nil
		}
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			if ev.Delta == nil {
				return ev, nil
			}
			switch {
			case !s.started || ev.Delta.FirstSequence <= s.last+1 && ev.Delta.Sequence > s.last:
				s.advance(ev)
				return ev, nil
			case ev.Delta.Sequence <= s.last && ev.Delta.Sequence >= s.lastFirst:
				// overlaps the delta already applied
				continue
			case ev.Delta.Sequence < s.lastFirst:
				s.log.WithFields(logger.Fields{
					"product": ev.ProductID,
					"last":    s.last,
					"first":   ev.Delta.FirstSequence,
					"seq":     ev.Delta.Sequence,
				}).Warn("stream sequence moved backwards")
				s.held = &ev
				return core.MarketEvent{}, &GapError{ProductID: ev.ProductID, Expected: s.last + 1, Got: ev.Delta.FirstSequence}
			default:
				s.held = &ev
				return core.MarketEvent{}, &GapError{ProductID: ev.ProductID, Expected: s.last + 1, Got: ev.Delta.FirstSequence}
			}
		}

		var data []byte
		select {
		case <-ctx.Done():
			return core.MarketEvent{}, ctx.Err()
		case <-s.closed:
			return core.MarketEvent{}, ErrStreamClosed
		case msg, ok := <-s.msgs:
			if !ok {
				if s.isClosed() {
					return core.MarketEvent{}, ErrStreamClosed
				}
				return core.MarketEvent{}, fmt.Errorf("stream read: %w: %w", core.ErrTransport, s.readErr)
			}
			data = msg
		}
		events, err := s.decode(data)
		if err != nil {
			if s.log.DebugEnabled() {
				s.log.WithError(err).WithFields(logger.Fields{"bytes": len(data)}).Debug("stream decode failed")
			}
			return core.MarketEvent{}, err
		}
		s.pending = append(s.pending, events...)
	}
}

func (s *Subscription) advance(ev core.MarketEvent) {
	if ev.Delta == nil {
		return
	}
	s.last = ev.Delta.Sequence
	s.lastFirst = ev.Delta.FirstSequence
	s.started = true
}

// Close stops the subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
		<-s.done
		s.log.Info("stream closed")
	})
	return err
}

func (s *Subscription) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
