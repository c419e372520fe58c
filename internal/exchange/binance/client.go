// Package binance adapts the Binance spot REST API and combined market
// streams to the shared domain model.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"openlimits/internal/codec"
	"openlimits/internal/config"
	"openlimits/internal/core"
	"openlimits/internal/logger"
	"openlimits/internal/stream"
	"openlimits/internal/transport"
)

const userDataStreamPath = "/api/v3/userDataStream"

var klineIntervals = map[time.Duration]string{
	time.Minute:        "1m",
	3 * time.Minute:    "3m",
	5 * time.Minute:    "5m",
	15 * time.Minute:   "15m",
	30 * time.Minute:   "30m",
	time.Hour:          "1h",
	2 * time.Hour:      "2h",
	4 * time.Hour:      "4h",
	6 * time.Hour:      "6h",
	8 * time.Hour:      "8h",
	12 * time.Hour:     "12h",
	24 * time.Hour:     "1d",
	3 * 24 * time.Hour: "3d",
	7 * 24 * time.Hour: "1w",
}

type Client struct {
	transport  transport.Transport
	wsBaseURL  string
	depthLimit int
	keepalive  time.Duration
	buffer     int
	log        *logger.Log
}

type Options struct {
	WSBaseURL  string
	DepthLimit int
	Keepalive  time.Duration
	Buffer     int
	Log        *logger.Log
}

// NewClient builds a signed HTTP transport from cfg. Without credentials only
// public endpoints work; private calls fail with core.ErrUnauthorized.
func NewClient(cfg config.Config, log *logger.Log) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}
	var signer transport.Signer
	if cfg.Binance.APIKey != "" {
		signer = &transport.BinanceSigner{
			APIKey:     cfg.Binance.APIKey,
			APISecret:  cfg.Binance.APISecret,
			RecvWindow: time.Duration(cfg.Binance.RecvWindowMs) * time.Millisecond,
		}
	}
	httpClient := transport.NewHTTPClient(transport.Options{
		BaseURL:           cfg.Binance.RestBaseURL,
		Timeout:           time.Duration(cfg.HTTP.TimeoutSec) * time.Second,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		Signer:            signer,
		DecodeError:       parseAPIError,
		Log:               log,
	})
	return NewClientWithTransport(httpClient, Options{
		WSBaseURL:  cfg.Binance.WSBaseURL,
		DepthLimit: cfg.Binance.DepthLimit,
		Keepalive:  time.Duration(cfg.Stream.KeepaliveSec) * time.Second,
		Buffer:     cfg.Stream.Buffer,
		Log:        log,
	}), nil
}

func NewClientWithTransport(t transport.Transport, opts Options) *Client {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	depth := opts.DepthLimit
	if depth <= 0 {
		depth = 100
	}
	return &Client{
		transport:  t,
		wsBaseURL:  strings.TrimRight(opts.WSBaseURL, "/"),
		depthLimit: depth,
		keepalive:  opts.Keepalive,
		buffer:     opts.Buffer,
		log:        log,
	}
}

func (c *Client) Name() string { return "binance" }

func (c *Client) ListProducts(ctx context.Context) ([]core.Product, error) {
	body, err := c.transport.Get(ctx, "/api/v3/exchangeInfo", nil, transport.AuthNone)
	if err != nil {
		return nil, err
	}
	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Product, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		p, err := parseSymbolInfo(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// OrderBook serves L1 from a depth-1 snapshot and L2 from the configured depth
// limit. Binance does not publish per-order (L3) books.
func (c *Client) OrderBook(ctx context.Context, symbol string, level core.DepthLevel) (core.Book, error) {
	var limit int
	switch level {
	case core.L1:
		limit = 1
	case core.L2:
		limit = c.depthLimit
	default:
		return core.Book{}, fmt.Errorf("binance book level %s: %w", level, core.ErrUnsupportedDepthLevel)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	body, err := c.transport.Get(ctx, "/api/v3/depth", params, transport.AuthNone)
	if err != nil {
		return core.Book{}, err
	}
	var resp depthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Book{}, err
	}
	return resp.toBook(symbol, level)
}

func (c *Client) Ticker(ctx context.Context, symbol string) (core.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.transport.Get(ctx, "/api/v3/ticker/24hr", params, transport.AuthNone)
	if err != nil {
		return core.Ticker{}, err
	}
	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Ticker{}, err
	}
	return resp.toTicker()
}

func (c *Client) Trades(ctx context.Context, symbol string) ([]core.Trade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.transport.Get(ctx, "/api/v3/trades", params, transport.AuthNone)
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
			return nil, fmt.Errorf("trade %d: %w", t.ID, err)
		}
		out = append(out, trade)
	}
	return out, nil
}

func (c *Client) Candles(ctx context.Context, symbol string, query core.CandleQuery) ([]core.Candle, error) {
	interval := "1m"
	if query.Granularity != 0 {
		v, ok := klineIntervals[query.Granularity]
		if !ok {
			return nil, fmt.Errorf("binance interval %s: %w", query.Granularity, core.ErrUnrecognizedVariant)
		}
		interval = v
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if !query.Start.IsZero() {
		params.Set("startTime", strconv.FormatInt(query.Start.UnixMilli(), 10))
	}
	if !query.End.IsZero() {
		params.Set("endTime", strconv.FormatInt(query.End.UnixMilli(), 10))
	}
	body, err := c.transport.Get(ctx, "/api/v3/klines", params, transport.AuthNone)
	if err != nil {
		return nil, err
	}
	var rows []klineRow
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
	body, err := c.transport.Get(ctx, "/api/v3/account", url.Values{}, transport.AuthSigned)
	if err != nil {
		return nil, err
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.toAccounts()
}

func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.Order, error) {
	params, err := orderParams(req)
	if err != nil {
		return core.Order{}, err
	}
	body, err := c.transport.Post(ctx, "/api/v3/order", params, nil, transport.AuthSigned)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, err
	}
	return resp.toOrder()
}

// orderParams maps a request onto the order endpoint's parameters. Stops
// become STOP_LOSS / TAKE_PROFIT types; post-only limits become LIMIT_MAKER.
func orderParams(req core.OrderRequest) (url.Values, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", req.ProductID)
	params.Set("side", formatSide(req.Side))
	params.Set("newOrderRespType", "RESULT")
	if req.ClientOID != "" {
		params.Set("newClientOrderId", req.ClientOID)
	}
	var orderType string
	switch t := req.Type.(type) {
	case core.LimitRequest:
		params.Set("price", codec.FormatDecimal(t.Price))
		params.Set("quantity", codec.FormatDecimal(t.Size))
		tif := core.GoodTilCanceled()
		if t.TimeInForce != nil {
			tif = *t.TimeInForce
		}
		if tif.Kind == core.GTT {
			return nil, fmt.Errorf("binance does not support GTT: %w", core.ErrInvalidOrderRequest)
		}
		switch {
		case t.PostOnly && req.Stop != nil:
			return nil, fmt.Errorf("binance post only orders cannot carry a stop: %w", core.ErrInvalidOrderRequest)
		case t.PostOnly:
			orderType = "LIMIT_MAKER"
		default:
			orderType = "LIMIT"
			params.Set("timeInForce", string(tif.Kind))
		}
	case core.MarketRequest:
		orderType = "MARKET"
		amount, _ := t.Amount()
		switch a := amount.(type) {
		case core.MarketSize:
			params.Set("quantity", codec.FormatDecimal(a.Size))
		case core.MarketFunds:
			if req.Stop != nil {
				return nil, fmt.Errorf("binance stop market orders need a size: %w", core.ErrInvalidOrderRequest)
			}
			params.Set("quoteOrderQty", codec.FormatDecimal(a.Funds))
		}
	}
	if req.Stop != nil {
		params.Set("stopPrice", codec.FormatDecimal(req.Stop.StopPrice))
		orderType = stopOrderType(orderType, req.Stop.Type)
	}
	params.Set("type", orderType)
	return params, nil
}

func stopOrderType(base string, stop core.StopType) string {
	prefix := "STOP_LOSS"
	if stop == core.StopEntry {
		prefix = "TAKE_PROFIT"
	}
	if base == "LIMIT" {
		return prefix + "_LIMIT"
	}
	return prefix
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if symbol == "" || orderID == "" {
		return fmt.Errorf("symbol and order id required: %w", core.ErrInvalidOrderRequest)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.transport.Delete(ctx, "/api/v3/order", params, transport.AuthSigned)
	return err
}

func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (core.Order, error) {
	if symbol == "" || orderID == "" {
		return core.Order{}, fmt.Errorf("symbol and order id required: %w", core.ErrInvalidOrderRequest)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	body, err := c.transport.Get(ctx, "/api/v3/order", params, transport.AuthSigned)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, err
	}
	return resp.toOrder()
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.transport.Get(ctx, "/api/v3/openOrders", params, transport.AuthSigned)
	if err != nil {
		return nil, err
	}
	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	orders := make([]core.Order, 0, len(resp))
	for _, ord := range resp {
		order, err := ord.toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// UserStreamStart opens a user data stream and returns its listen key.
func (c *Client) UserStreamStart(ctx context.Context) (UserDataStream, error) {
	body, err := c.transport.Post(ctx, userDataStreamPath, nil, nil, transport.AuthAPIKey)
	if err != nil {
		return UserDataStream{}, err
	}
	var resp UserDataStream
	if err := json.Unmarshal(body, &resp); err != nil {
		return UserDataStream{}, err
	}
	if resp.ListenKey == "" {
		return UserDataStream{}, errors.New("binance returned an empty listen key")
	}
	return resp, nil
}

// UserStreamKeepAlive extends the listen key's validity; Binance expires keys
// that are not refreshed within 60 minutes.
func (c *Client) UserStreamKeepAlive(ctx context.Context, listenKey string) error {
	_, err := c.transport.Put(ctx, userDataStreamPath, listenKeyParams(listenKey), transport.AuthAPIKey)
	return err
}

func (c *Client) UserStreamClose(ctx context.Context, listenKey string) error {
	_, err := c.transport.Delete(ctx, userDataStreamPath, listenKeyParams(listenKey), transport.AuthAPIKey)
	return err
}

func listenKeyParams(listenKey string) url.Values {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	return params
}

// StreamMarketData subscribes to the diff depth and 24h ticker streams of
// symbol on the combined stream endpoint.
func (c *Client) StreamMarketData(ctx context.Context, symbol string) (*stream.Subscription, error) {
	if c.wsBaseURL == "" {
		return nil, errors.New("ws base url required")
	}
	lower := strings.ToLower(symbol)
	return stream.Dial(ctx, stream.Options{
		URL:       combinedStreamURL(c.wsBaseURL, lower+"@depth@100ms", lower+"@ticker"),
		Decode:    DecodeStreamMessage,
		Keepalive: c.keepalive,
		Buffer:    c.buffer,
		Log:       c.log,
	})
}
