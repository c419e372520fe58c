package exchange

import (
	"context"
	"fmt"

	"openlimits/internal/config"
	"openlimits/internal/core"
	"openlimits/internal/exchange/binance"
	"openlimits/internal/exchange/coinbase"
	"openlimits/internal/logger"
	"openlimits/internal/stream"
)

// Exchange is the capability set every adapter maps onto the shared domain
// model. Adapters validate requests before any network call.
type Exchange interface {
	Name() string
	ListProducts(ctx context.Context) ([]core.Product, error)
	OrderBook(ctx context.Context, productID string, level core.DepthLevel) (core.Book, error)
	Ticker(ctx context.Context, productID string) (core.Ticker, error)
	Trades(ctx context.Context, productID string) ([]core.Trade, error)
	Candles(ctx context.Context, productID string, query core.CandleQuery) ([]core.Candle, error)
	Accounts(ctx context.Context) ([]core.Account, error)
	PlaceOrder(ctx context.Context, req core.OrderRequest) (core.Order, error)
	CancelOrder(ctx context.Context, productID, orderID string) error
	GetOrder(ctx context.Context, productID, orderID string) (core.Order, error)
	OpenOrders(ctx context.Context, productID string) ([]core.Order, error)
	StreamMarketData(ctx context.Context, productID string) (*stream.Subscription, error)
}

var (
	_ Exchange = (*coinbase.Client)(nil)
	_ Exchange = (*binance.Client)(nil)
)

// New builds the adapter selected by cfg.Exchange.
func New(cfg config.Config, log *logger.Log) (Exchange, error) {
	switch cfg.Exchange {
	case config.ExchangeCoinbase:
		return coinbase.NewClient(cfg, log)
	case config.ExchangeBinance:
		return binance.NewClient(cfg, log)
	}
	return nil, fmt.Errorf("unknown exchange %q", cfg.Exchange)
}
