package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"openlimits/internal/codec"
	"openlimits/internal/core"
)

// listenKeyRefresh is well inside the 60 minute listen key lifetime.
const listenKeyRefresh = 30 * time.Minute

type UserStream struct {
	client    *Client
	conn      *websocket.Conn
	listenKey string
	keepalive time.Duration
}

// OrderUpdate is one executionReport from the user data stream.
type OrderUpdate struct {
	OrderID       string
	ClientOID     string
	ProductID     string
	Side          core.Side
	ExecutionType string
	Status        core.OrderStatus
	Price         decimal.Decimal
	Size          decimal.Decimal
	FilledSize    decimal.Decimal
	LastFillPrice decimal.Decimal
	LastFillSize  decimal.Decimal
	TradeID       int64
	Time          time.Time
}

type executionReport struct {
	EventType       string        `json:"e"`
	EventTime       int64         `json:"E"`
	Symbol          string        `json:"s"`
	ClientOrderID   string        `json:"c"`
	OrigClientOID   string        `json:"C"`
	OrderID         int64         `json:"i"`
	Ignore          int64         `json:"I"`
	Side            string        `json:"S"`
	ExecutionType   string        `json:"x"`
	OrderStatus     string        `json:"X"`
	OrderPrice      codec.Decimal `json:"p"`
	StopPrice       codec.Decimal `json:"P"`
	OrderQty        codec.Decimal `json:"q"`
	QuoteOrderQty   codec.Decimal `json:"Q"`
	LastExecPrice   codec.Decimal `json:"L"`
	LastExecQty     codec.Decimal `json:"l"`
	CumulativeQty   codec.Decimal `json:"z"`
	CumulativeQuote codec.Decimal `json:"Z"`
	TransactionTime int64         `json:"T"`
	TradeID         int64         `json:"t"`
}

func (r executionReport) toUpdate() (OrderUpdate, error) {
	side, err := parseSide(r.Side)
	if err != nil {
		return OrderUpdate{}, err
	}
	status, err := parseOrderStatus(r.OrderStatus)
	if err != nil {
		return OrderUpdate{}, err
	}
	ts := r.TransactionTime
	if ts == 0 {
		ts = r.EventTime
	}
	if ts == 0 {
		return OrderUpdate{}, errors.New("missing execution timestamp")
	}
	// Cancels report a fresh id in c and the order's own id in C.
	clientOID := r.ClientOrderID
	if r.OrigClientOID != "" {
		clientOID = r.OrigClientOID
	}
	return OrderUpdate{
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOID:     clientOID,
		ProductID:     r.Symbol,
		Side:          side,
		ExecutionType: r.ExecutionType,
		Status:        status,
		Price:         r.OrderPrice.OrZero(),
		Size:          r.OrderQty.OrZero(),
		FilledSize:    r.CumulativeQty.OrZero(),
		LastFillPrice: r.LastExecPrice.OrZero(),
		LastFillSize:  r.LastExecQty.OrZero(),
		TradeID:       r.TradeID,
		Time:          codec.UnixMilli(ts),
	}, nil
}

// NewUserStream connects to the user data stream of listenKey. The listen key
// is refreshed in the background while updates are being read.
func (c *Client) NewUserStream(ctx context.Context, listenKey string) (*UserStream, error) {
	if c.wsBaseURL == "" {
		return nil, errors.New("ws base url required")
	}
	if listenKey == "" {
		return nil, errors.New("listen key required")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, combinedStreamURL(c.wsBaseURL, listenKey), nil)
	if err != nil {
		return nil, fmt.Errorf("dial user stream: %w: %w", core.ErrTransport, err)
	}
	return &UserStream{client: c, conn: conn, listenKey: listenKey, keepalive: c.keepalive}, nil
}

// Updates streams order updates until ctx is done or the connection fails.
// The update channel is closed when the reader exits.
func (u *UserStream) Updates(ctx context.Context) (<-chan OrderUpdate, <-chan error) {
	updates := make(chan OrderUpdate)
	errCh := make(chan error, 4)
	done := make(chan struct{})

	reportErr := func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
		default:
		}
	}

	readTimeout := 45 * time.Second
	if u.keepalive > 0 {
		readTimeout = u.keepalive * 3
		if readTimeout < 30*time.Second {
			readTimeout = 30 * time.Second
		}
	}
	u.conn.SetPongHandler(func(string) error {
		return u.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer close(done)
		defer close(updates)
		defer u.conn.Close()

		for {
			_ = u.conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, data, err := u.conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					reportErr(err)
				}
				return
			}
			obj, payload, err := unwrapEnvelope(data)
			if err != nil {
				continue
			}
			if tag, err := obj.Tag("e"); err != nil || tag != "executionReport" {
				continue
			}
			var msg executionReport
			if err := json.Unmarshal(payload, &msg); err != nil {
				reportErr(err)
				continue
			}
			update, err := msg.toUpdate()
			if err != nil {
				reportErr(err)
				continue
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ping := time.NewTicker(u.pingInterval())
		defer ping.Stop()
		refresh := time.NewTicker(listenKeyRefresh)
		defer refresh.Stop()
		for {
			select {
			case <-ping.C:
				if err := u.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					reportErr(err)
					_ = u.conn.Close()
					return
				}
			case <-refresh.C:
				if err := u.client.UserStreamKeepAlive(ctx, u.listenKey); err != nil {
					reportErr(err)
				}
			case <-done:
				return
			case <-ctx.Done():
				_ = u.conn.Close()
				return
			}
		}
	}()

	return updates, errCh
}

func (u *UserStream) pingInterval() time.Duration {
	if u.keepalive > 0 {
		return u.keepalive
	}
	return 15 * time.Second
}
