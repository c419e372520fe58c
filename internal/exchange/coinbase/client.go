// Package coinbase adapts the Coinbase Pro REST API and websocket feed to the
// shared domain model.
package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"openlimits/internal/codec"
	"openlimits/internal/config"
	"openlimits/internal/core"
	"openlimits/internal/logger"
	"openlimits/internal/stream"
	"openlimits/internal/transport"
)

var granularities = map[time.Duration]bool{
	time.Minute:      true,
	5 * time.Minute:  true,
	15 * time.Minute: true,
	time.Hour:        true,
	6 * time.Hour:    true,
	24 * time.Hour:   true,
}

type Client struct {
	transport transport.Transport
	wsURL     string
	keepalive time.Duration
	buffer    int
	log       *logger.Log
}

type Options struct {
	WSBaseURL string
	Keepalive time.Duration
	Buffer    int
	Log       *logger.Log
}

// NewClient builds a signed HTTP transport from cfg. Without credentials only
// public endpoints work; private calls fail with core.ErrUnauthorized.
func NewClient(cfg config.Config, log *logger.Log) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}
	var signer transport.Signer
	if cfg.Coinbase.APIKey != "" {
		s, err := transport.NewCoinbaseSigner(cfg.Coinbase.APIKey, cfg.Coinbase.APISecret, cfg.Coinbase.Passphrase)
		if err != nil {
			return nil, err
		}
		signer = s
	}
	httpClient := transport.NewHTTPClient(transport.Options{
		BaseURL:           cfg.Coinbase.RestBaseURL,
		Timeout:           time.Duration(cfg.HTTP.TimeoutSec) * time.Second,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		Signer:            signer,
		DecodeError:       parseAPIError,
		Log:               log,
	})
	return NewClientWithTransport(httpClient, Options{
		WSBaseURL: cfg.Coinbase.WSBaseURL,
		Keepalive: time.Duration(cfg.Stream.KeepaliveSec) * time.Second,
		Buffer:    cfg.Stream.Buffer,
		Log:       log,
	}), nil
}

func NewClientWithTransport(t transport.Transport, opts Options) *Client {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		transport: t,
		wsURL:     opts.WSBaseURL,
		keepalive: opts.Keepalive,
		buffer:    opts.Buffer,
		log:       log,
	}
}

func (c *Client) Name() string { return "coinbase" }

func (c *Client) ListProducts(ctx context.Context) ([]core.Product, error) {
	body, err := c.transport.Get(ctx, "/products", nil, transport.AuthNone)
	if err != nil {
		return nil, err
	}
	var resp []productResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Product, 0, len(resp))
	for _, p := range resp {
		product, err := p.toProduct()
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", p.ID, err)
		}
		out = append(out, product)
	}
	return out, nil
}

func (c *Client) OrderBook(ctx context.Context, productID string, level core.DepthLevel) (core.Book, error) {
	if !level.Valid() {
		return core.Book{}, fmt.Errorf("coinbase book level %d: %w", level, core.ErrUnsupportedDepthLevel)
	}
	q := url.Values{}
	q.Set("level", strconv.Itoa(int(level)))
	body, err := c.transport.Get(ctx, productPath(productID, "book"), q, transport.AuthNone)
	if err != nil {
		return core.Book{}, err
	}
	var resp bookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Book{}, err
	}
	return resp.toBook(productID, level)
}

func (c *Client) Ticker(ctx context.Context, productID string) (core.Ticker, error) {
	body, err := c.transport.Get(ctx, productPath(productID, "ticker"), nil, transport.AuthNone)
	if err != nil {
		return core.Ticker{}, err
	}
	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Ticker{}, err
	}
	return resp.toTicker()
}

func (c *Client) Trades(ctx context.Context, productID string) ([]core.Trade, error) {
	body, err := c.transport.Get(ctx, productPath(productID, "trades"), nil, transport.AuthNone)
	if err != nil {
		return nil, err
	}
	var resp []tradeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Trade, 0, len(resp))
	for _, t := range resp {
		trade, err := t.toTrade()
		if err != nil {
			return nil, fmt.Errorf("trade %d: %w", t.TradeID, err)
		}
		out = append(out, trade)
	}
	return out, nil
}

func (c *Client) Candles(ctx context.Context, productID string, query core.CandleQuery) ([]core.Candle, error) {
	q := url.Values{}
	if query.Granularity != 0 {
		if !granularities[query.Granularity] {
			return nil, fmt.Errorf("coinbase granularity %s: %w", query.Granularity, core.ErrUnrecognizedVariant)
		}
		q.Set("granularity", strconv.FormatInt(int64(query.Granularity/time.Second), 10))
	}
	if !query.Start.IsZero() {
		q.Set("start", codec.FormatTime(query.Start))
	}
	if !query.End.IsZero() {
		q.Set("end", codec.FormatTime(query.End))
	}
	body, err := c.transport.Get(ctx, productPath(productID, "candles"), q, transport.AuthNone)
	if err != nil {
		return nil, err
	}
	var rows []candleRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	out := make([]core.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := row.toCandle()
		if err != nil {
			return nil, err
		}
		out = append(out, candle)
	}
	return out, nil
}

func (c *Client) Accounts(ctx context.Context) ([]core.Account, error) {
	body, err := c.transport.Get(ctx, "/accounts", nil, transport.AuthSigned)
	if err != nil {
		return nil, err
	}
	var resp []accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Account, 0, len(resp))
	for _, a := range resp {
		account, err := a.toAccount()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", a.ID, err)
		}
		out = append(out, account)
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.Order, error) {
	body, err := MarshalOrderRequest(req)
	if err != nil {
		return core.Order{}, err
	}
	resp, err := c.transport.Post(ctx, "/orders", nil, body, transport.AuthSigned)
	if err != nil {
		return core.Order{}, err
	}
	return UnmarshalOrder(resp)
}

func (c *Client) CancelOrder(ctx context.Context, productID, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("order id required: %w", core.ErrInvalidOrderRequest)
	}
	q := url.Values{}
	if productID != "" {
		q.Set("product_id", productID)
	}
	_, err := c.transport.Delete(ctx, "/orders/"+url.PathEscape(orderID), q, transport.AuthSigned)
	return err
}

func (c *Client) GetOrder(ctx context.Context, productID, orderID string) (core.Order, error) {
	if orderID == "" {
		return core.Order{}, fmt.Errorf("order id required: %w", core.ErrInvalidOrderRequest)
	}
	body, err := c.transport.Get(ctx, "/orders/"+url.PathEscape(orderID), nil, transport.AuthSigned)
	if err != nil {
		return core.Order{}, err
	}
	order, err := UnmarshalOrder(body)
	if err != nil {
		return core.Order{}, err
	}
	if productID != "" && order.ProductID != productID {
		return core.Order{}, fmt.Errorf("order %s belongs to %s: %w", orderID, order.ProductID, core.ErrOrderNotFound)
	}
	return order, nil
}

func (c *Client) OpenOrders(ctx context.Context, productID string) ([]core.Order, error) {
	q := url.Values{}
	q.Set("status", "open")
	if productID != "" {
		q.Set("product_id", productID)
	}
	body, err := c.transport.Get(ctx, "/orders", q, transport.AuthSigned)
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make([]core.Order, 0, len(raw))
	for _, item := range raw {
		order, err := UnmarshalOrder(item)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

// StreamMarketData subscribes to the full (L3) and ticker channels.
func (c *Client) StreamMarketData(ctx context.Context, productID string) (*stream.Subscription, error) {
	if c.wsURL == "" {
		return nil, errors.New("ws base url required")
	}
	sub, err := json.Marshal(subscribeRequest{
		Type:       "subscribe",
		ProductIDs: []string{productID},
		Channels:   []string{"full", "ticker"},
	})
	if err != nil {
		return nil, err
	}
	return stream.Dial(ctx, stream.Options{
		URL:       c.wsURL,
		Subscribe: sub,
		Decode:    DecodeFeedMessage,
		Keepalive: c.keepalive,
		Buffer:    c.buffer,
		Log:       c.log,
	})
}

func productPath(productID, resource string) string {
	return "/products/" + url.PathEscape(productID) + "/" + resource
}
