package openlimits

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"openlimits/internal/config"
	"openlimits/internal/core"
	"openlimits/internal/exchange/binance"
	"openlimits/internal/exchange/coinbase"
	"openlimits/internal/transport/transporttest"
)

func echoOrder(call transporttest.Call) ([]byte, error) {
	var req map[string]any
	if err := json.Unmarshal(call.Body, &req); err != nil {
		return nil, err
	}
	resp := map[string]any{
		"id":             "b2a1e0c4-0000-4000-8000-000000000001",
		"product_id":     req["product_id"],
		"side":           req["side"],
		"type":           req["type"],
		"post_only":      false,
		"created_at":     "2020-05-01T12:00:00Z",
		"fill_fees":      "0",
		"filled_size":    "0",
		"executed_value": "0",
		"status":         "open",
		"settled":        false,
	}
	for _, k := range []string{"price", "size", "funds", "client_oid"} {
		if v, ok := req[k]; ok {
			resp[k] = v
		}
	}
	if req["type"] == "limit" {
		resp["time_in_force"] = "GTC"
	}
	return json.Marshal(resp)
}

func TestLimitBuy(t *testing.T) {
	rec := transporttest.NewRecorder().Handle("POST", "/orders", echoOrder)
	ol := New(coinbase.NewClientWithTransport(rec, coinbase.Options{}), nil)

	order, err := ol.LimitBuy(context.Background(), OpenLimitOrderRequest{
		Symbol: "ETH-BTC",
		Price:  decimal.RequireFromString("0.001"),
		Size:   decimal.RequireFromString("0.1"),
	})
	require.NoError(t, err)
	require.Equal(t, core.OrderOpen, order.Status)
	require.Equal(t, core.Buy, order.Side)
	require.True(t, order.FilledSize.IsZero())
	limit, ok := order.Type.(core.LimitOrder)
	require.True(t, ok)
	require.True(t, limit.Price.Equal(decimal.RequireFromString("0.001")))
	require.True(t, limit.Size.Equal(decimal.RequireFromString("0.1")))
}

func TestMarketSellWithClientOrderID(t *testing.T) {
	rec := transporttest.NewRecorder().Handle("POST", "/orders", echoOrder)
	ol := New(coinbase.NewClientWithTransport(rec, coinbase.Options{}), nil)

	cid := NewClientOrderID()
	order, err := ol.MarketSell(context.Background(), OpenMarketOrderRequest{
		Symbol:        "BTC-USD",
		Size:          decimal.RequireFromString("0.5"),
		ClientOrderID: cid,
	})
	require.NoError(t, err)
	require.Equal(t, cid, order.ClientOID)
	market, ok := order.Type.(core.MarketOrder)
	require.True(t, ok)
	require.True(t, market.Size.Equal(decimal.RequireFromString("0.5")))
}

func TestInvalidRequestNeverReachesTransport(t *testing.T) {
	rec := transporttest.NewRecorder()
	ol := New(coinbase.NewClientWithTransport(rec, coinbase.Options{}), nil)

	_, err := ol.MarketBuy(context.Background(), OpenMarketOrderRequest{Symbol: "BTC-USD"})
	require.ErrorIs(t, err, core.ErrInvalidOrderRequest)
	_, err = ol.LimitSell(context.Background(), OpenLimitOrderRequest{Symbol: "", Price: decimal.NewFromInt(1), Size: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, core.ErrInvalidOrderRequest)
	require.Empty(t, rec.Calls())
}

func TestOrderBookDefaultsToL2(t *testing.T) {
	rec := transporttest.NewRecorder().Reply("GET", "/api/v3/depth", `{"lastUpdateId":1,"bids":[["1","2"]],"asks":[]}`)
	ol := New(binance.NewClientWithTransport(rec, binance.Options{DepthLimit: 20}), nil)

	book, err := ol.OrderBook(context.Background(), OrderBookRequest{Symbol: "BNBBTC"})
	require.NoError(t, err)
	require.Equal(t, core.L2, book.Level)
	require.Equal(t, "20", rec.Calls()[0].Query.Get("limit"))

	_, err = ol.OrderBook(context.Background(), OrderBookRequest{Symbol: "BNBBTC", Level: core.L3})
	require.ErrorIs(t, err, core.ErrUnsupportedDepthLevel)
	require.Len(t, rec.Calls(), 1)
}

func TestTradesAgreeOnSideAcrossExchanges(t *testing.T) {
	// The same print on both venues: a resting buy order hit by a taker sell.
	cb := New(coinbase.NewClientWithTransport(transporttest.NewRecorder().
		Reply("GET", "/products/BTC-USD/trades", `[{"time":"2020-05-01T12:00:00Z","trade_id":1,"price":"100","size":"1","side":"buy"}]`),
		coinbase.Options{}), nil)
	bn := New(binance.NewClientWithTransport(transporttest.NewRecorder().
		Reply("GET", "/api/v3/trades", `[{"id":1,"price":"100","qty":"1","time":1588334400000,"isBuyerMaker":true}]`),
		binance.Options{}), nil)

	cbTrades, err := cb.Trades(context.Background(), "BTC-USD")
	require.NoError(t, err)
	bnTrades, err := bn.Trades(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, cbTrades, 1)
	require.Len(t, bnTrades, 1)
	require.Equal(t, core.Sell, cbTrades[0].Side)
	require.Equal(t, cbTrades[0].Side, bnTrades[0].Side)
}

func TestNewClientOrderIDIsUUID(t *testing.T) {
	a, b := NewClientOrderID(), NewClientOrderID()
	require.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestOpenSelectsExchange(t *testing.T) {
	ol, err := Open(config.Config{Exchange: config.ExchangeBinance}, nil)
	require.NoError(t, err)
	require.Equal(t, "binance", ol.Exchange().Name())

	_, err = Open(config.Config{Exchange: "kraken"}, nil)
	require.Error(t, err)
}
