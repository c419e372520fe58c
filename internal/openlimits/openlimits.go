// Package openlimits is the exchange-neutral entry point: it translates simple
// buy/sell/book requests into the domain model and delegates to an adapter.
package openlimits

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"openlimits/internal/config"
	"openlimits/internal/core"
	"openlimits/internal/exchange"
	"openlimits/internal/logger"
	"openlimits/internal/stream"
)

type OpenLimitOrderRequest struct {
	Symbol        string
	Price         decimal.Decimal
	Size          decimal.Decimal
	ClientOrderID string
}

type OpenMarketOrderRequest struct {
	Symbol        string
	Size          decimal.Decimal
	ClientOrderID string
}

// OrderBookRequest asks for a snapshot; a zero Level means L2.
type OrderBookRequest struct {
	Symbol string
	Level  core.DepthLevel
}

type OpenLimits struct {
	exchange exchange.Exchange
	log      *logger.Entry
}

func New(ex exchange.Exchange, log *logger.Log) *OpenLimits {
	if log == nil {
		log = logger.Nop()
	}
	return &OpenLimits{
		exchange: ex,
		log:      log.WithComponent("openlimits").WithFields(logger.Fields{"exchange": ex.Name()}),
	}
}

// Open builds the adapter named in cfg and wraps it.
func Open(cfg config.Config, log *logger.Log) (*OpenLimits, error) {
	ex, err := exchange.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return New(ex, log), nil
}

func (o *OpenLimits) Exchange() exchange.Exchange { return o.exchange }

// NewClientOrderID returns a random UUID suitable as a client order id on
// every supported exchange.
func NewClientOrderID() string {
	return uuid.NewString()
}

func (o *OpenLimits) LimitBuy(ctx context.Context, req OpenLimitOrderRequest) (core.Order, error) {
	return o.placeLimit(ctx, core.Buy, req)
}

func (o *OpenLimits) LimitSell(ctx context.Context, req OpenLimitOrderRequest) (core.Order, error) {
	return o.placeLimit(ctx, core.Sell, req)
}

func (o *OpenLimits) MarketBuy(ctx context.Context, req OpenMarketOrderRequest) (core.Order, error) {
	return o.placeMarket(ctx, core.Buy, req)
}

func (o *OpenLimits) MarketSell(ctx context.Context, req OpenMarketOrderRequest) (core.Order, error) {
	return o.placeMarket(ctx, core.Sell, req)
}

func (o *OpenLimits) placeLimit(ctx context.Context, side core.Side, req OpenLimitOrderRequest) (core.Order, error) {
	return o.place(ctx, core.OrderRequest{
		Side:      side,
		ClientOID: req.ClientOrderID,
		ProductID: req.Symbol,
		Type:      core.LimitRequest{Price: req.Price, Size: req.Size},
	})
}

func (o *OpenLimits) placeMarket(ctx context.Context, side core.Side, req OpenMarketOrderRequest) (core.Order, error) {
	return o.place(ctx, core.OrderRequest{
		Side:      side,
		ClientOID: req.ClientOrderID,
		ProductID: req.Symbol,
		Type:      core.MarketBySize(req.Size),
	})
}

func (o *OpenLimits) place(ctx context.Context, req core.OrderRequest) (core.Order, error) {
	order, err := o.exchange.PlaceOrder(ctx, req)
	if err != nil {
		o.log.WithError(err).WithFields(logger.Fields{"product": req.ProductID, "side": req.Side}).Warn("place order failed")
		return core.Order{}, err
	}
	o.log.WithFields(logger.Fields{
		"product": order.ProductID,
		"side":    order.Side,
		"id":      order.ID,
		"status":  order.Status,
	}).Info("order placed")
	return order, nil
}

func (o *OpenLimits) OrderBook(ctx context.Context, req OrderBookRequest) (core.Book, error) {
	level := req.Level
	if level == 0 {
		level = core.L2
	}
	return o.exchange.OrderBook(ctx, req.Symbol, level)
}

func (o *OpenLimits) Ticker(ctx context.Context, symbol string) (core.Ticker, error) {
	return o.exchange.Ticker(ctx, symbol)
}

func (o *OpenLimits) Trades(ctx context.Context, symbol string) ([]core.Trade, error) {
	return o.exchange.Trades(ctx, symbol)
}

func (o *OpenLimits) Candles(ctx context.Context, symbol string, query core.CandleQuery) ([]core.Candle, error) {
	return o.exchange.Candles(ctx, symbol, query)
}

func (o *OpenLimits) Products(ctx context.Context) ([]core.Product, error) {
	return o.exchange.ListProducts(ctx)
}

func (o *OpenLimits) Accounts(ctx context.Context) ([]core.Account, error) {
	return o.exchange.Accounts(ctx)
}

func (o *OpenLimits) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := o.exchange.CancelOrder(ctx, symbol, orderID); err != nil {
		return err
	}
	o.log.WithFields(logger.Fields{"product": symbol, "id": orderID}).Info("order canceled")
	return nil
}

func (o *OpenLimits) GetOrder(ctx context.Context, symbol, orderID string) (core.Order, error) {
	return o.exchange.GetOrder(ctx, symbol, orderID)
}

func (o *OpenLimits) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	return o.exchange.OpenOrders(ctx, symbol)
}

func (o *OpenLimits) Stream(ctx context.Context, symbol string) (*stream.Subscription, error) {
	return o.exchange.StreamMarketData(ctx, symbol)
}
