package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"openlimits/internal/codec"
	"openlimits/internal/core"
)

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type APIError struct {
	Code int
	Msg  string
}

func (e APIError) Error() string {
	return "binance api error " + strconv.Itoa(e.Code) + ": " + e.Msg
}

// UserDataStream identifies a user data stream opened with UserStreamStart.
type UserDataStream struct {
	ListenKey string `json:"listenKey"`
}

type orderResponse struct {
	Symbol              string        `json:"symbol"`
	OrderID             int64         `json:"orderId"`
	ClientOrderID       string        `json:"clientOrderId"`
	Price               codec.Decimal `json:"price"`
	OrigQty             codec.Decimal `json:"origQty"`
	ExecutedQty         codec.Decimal `json:"executedQty"`
	CumulativeQuoteQty  codec.Decimal `json:"cummulativeQuoteQty"`
	OrigQuoteOrderQty   codec.Decimal `json:"origQuoteOrderQty"`
	StopPrice           codec.Decimal `json:"stopPrice"`
	Status              string        `json:"status"`
	TimeInForce         string        `json:"timeInForce"`
	Type                string        `json:"type"`
	Side                string        `json:"side"`
	Time                int64         `json:"time"`
	TransactTime        int64         `json:"transactTime"`
	SelfTradePrevention string        `json:"selfTradePreventionMode"`
}

func (r orderResponse) toOrder() (core.Order, error) {
	side, err := parseSide(r.Side)
	if err != nil {
		return core.Order{}, err
	}
	status, err := parseOrderStatus(r.Status)
	if err != nil {
		return core.Order{}, err
	}
	created := r.Time
	if created == 0 {
		created = r.TransactTime
	}
	o := core.Order{
		ID:            strconv.FormatInt(r.OrderID, 10),
		ClientOID:     r.ClientOrderID,
		ProductID:     r.Symbol,
		Side:          side,
		STP:           r.SelfTradePrevention,
		CreatedAt:     codec.UnixMilli(created),
		FillFees:      decimal.Zero,
		FilledSize:    r.ExecutedQty.OrZero(),
		ExecutedValue: r.CumulativeQuoteQty.OrZero(),
		Status:        status,
		Settled:       status == core.OrderDone,
	}
	size, err := r.OrigQty.Require("origQty")
	if err != nil {
		return core.Order{}, err
	}
	switch r.Type {
	case "LIMIT", "LIMIT_MAKER", "STOP_LOSS_LIMIT", "TAKE_PROFIT_LIMIT":
		price, err := r.Price.Require("price")
		if err != nil {
			return core.Order{}, err
		}
		tif := core.GoodTilCanceled()
		if r.TimeInForce != "" {
			if tif, err = parseTimeInForce(r.TimeInForce); err != nil {
				return core.Order{}, err
			}
		}
		o.Type = core.LimitOrder{Size: size, Price: price, TimeInForce: tif}
		o.PostOnly = r.Type == "LIMIT_MAKER"
	case "MARKET", "STOP_LOSS", "TAKE_PROFIT":
		o.Type = core.MarketOrder{Size: size, Funds: r.OrigQuoteOrderQty.OrZero()}
	default:
		return core.Order{}, fmt.Errorf("binance order type %q: %w", r.Type, core.ErrUnrecognizedVariant)
	}
	switch {
	case strings.HasPrefix(r.Type, "STOP_LOSS"):
		o.Stop = &core.OrderStop{StopPrice: r.StopPrice.OrZero(), Type: core.StopLoss}
	case strings.HasPrefix(r.Type, "TAKE_PROFIT"):
		o.Stop = &core.OrderStop{StopPrice: r.StopPrice.OrZero(), Type: core.StopEntry}
	}
	return o, nil
}

type tickerResponse struct {
	Symbol    string        `json:"symbol"`
	LastPrice codec.Decimal `json:"lastPrice"`
	LastQty   codec.Decimal `json:"lastQty"`
	BidPrice  codec.Decimal `json:"bidPrice"`
	AskPrice  codec.Decimal `json:"askPrice"`
	Volume    codec.Decimal `json:"volume"`
	CloseTime int64         `json:"closeTime"`
	LastID    int64         `json:"lastId"`
}

func (t tickerResponse) toTicker() (core.Ticker, error) {
	out := core.Ticker{TradeID: t.LastID, Time: codec.UnixMilli(t.CloseTime)}
	fields := []struct {
		name string
		src  codec.Decimal
		dst  *decimal.Decimal
	}{
		{"lastPrice", t.LastPrice, &out.Price},
		{"lastQty", t.LastQty, &out.Size},
		{"bidPrice", t.BidPrice, &out.Bid},
		{"askPrice", t.AskPrice, &out.Ask},
		{"volume", t.Volume, &out.Volume},
	}
	var err error
	for _, f := range fields {
		if *f.dst, err = f.src.Require(f.name); err != nil {
			return core.Ticker{}, err
		}
	}
	return out, nil
}

type tradeResponse struct {
	ID           int64         `json:"id"`
	Price        codec.Decimal `json:"price"`
	Qty          codec.Decimal `json:"qty"`
	Time         int64         `json:"time"`
	IsBuyerMaker bool          `json:"isBuyerMaker"`
}

func (t tradeResponse) toTrade() (core.Trade, error) {
	// The reported side is the taker's.
	side := core.Buy
	if t.IsBuyerMaker {
		side = core.Sell
	}
	out := core.Trade{ID: t.ID, Time: codec.UnixMilli(t.Time), Side: side}
	var err error
	if out.Price, err = t.Price.Require("price"); err != nil {
		return core.Trade{}, err
	}
	if out.Size, err = t.Qty.Require("qty"); err != nil {
		return core.Trade{}, err
	}
	return out, nil
}

// klineRow is [openTime, open, high, low, close, volume, closeTime, ...].
type klineRow []json.RawMessage

func (r klineRow) toCandle() (core.Candle, error) {
	if len(r) < 6 {
		return core.Candle{}, fmt.Errorf("kline has %d fields, want at least 6: %w", len(r), core.ErrInvalidNumericFormat)
	}
	var openTime int64
	if err := json.Unmarshal(r[0], &openTime); err != nil {
		return core.Candle{}, fmt.Errorf("kline open time: %w", err)
	}
	names := [5]string{"open", "high", "low", "close", "volume"}
	var vals [5]decimal.Decimal
	for i := range names {
		var d codec.Decimal
		if err := json.Unmarshal(r[i+1], &d); err != nil {
			return core.Candle{}, err
		}
		v, err := d.Require(names[i])
		if err != nil {
			return core.Candle{}, err
		}
		vals[i] = v
	}
	return core.Candle{
		Time:   openTime / 1000,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

type depthResponse struct {
	LastUpdateID uint64             `json:"lastUpdateId"`
	Bids         [][2]codec.Decimal `json:"bids"`
	Asks         [][2]codec.Decimal `json:"asks"`
}

func (d depthResponse) toBook(symbol string, level core.DepthLevel) (core.Book, error) {
	bids, err := depthRecords(d.Bids, level)
	if err != nil {
		return core.Book{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := depthRecords(d.Asks, level)
	if err != nil {
		return core.Book{}, fmt.Errorf("asks: %w", err)
	}
	return core.NewBook(symbol, d.LastUpdateID, level, bids, asks), nil
}

func depthRecords(rows [][2]codec.Decimal, level core.DepthLevel) ([]core.BookRecord, error) {
	out := make([]core.BookRecord, 0, len(rows))
	for _, row := range rows {
		price, err := row[0].Require("price")
		if err != nil {
			return nil, err
		}
		size, err := row[1].Require("qty")
		if err != nil {
			return nil, err
		}
		if level == core.L1 {
			out = append(out, core.BookRecordL1{Price: price, Size: size})
		} else {
			out = append(out, core.BookRecordL2{Price: price, Size: size})
		}
	}
	return out, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string        `json:"asset"`
		Free   codec.Decimal `json:"free"`
		Locked codec.Decimal `json:"locked"`
	} `json:"balances"`
}

func (a accountResponse) toAccounts() ([]core.Account, error) {
	out := make([]core.Account, 0, len(a.Balances))
	for _, b := range a.Balances {
		free, err := b.Free.Require("free")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Asset, err)
		}
		locked, err := b.Locked.Require("locked")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Asset, err)
		}
		out = append(out, core.Account{
			ID:        b.Asset,
			Currency:  b.Asset,
			Balance:   free.Add(locked),
			Available: free,
			Hold:      locked,
		})
	}
	return out, nil
}

type exchangeInfoResponse struct {
	Symbols []symbolInfoResponse `json:"symbols"`
}

type symbolInfoResponse struct {
	Symbol     string   `json:"symbol"`
	Status     string   `json:"status"`
	BaseAsset  string   `json:"baseAsset"`
	QuoteAsset string   `json:"quoteAsset"`
	OrderTypes []string `json:"orderTypes"`
	Filters    []struct {
		FilterType  string        `json:"filterType"`
		MinQty      codec.Decimal `json:"minQty"`
		MaxQty      codec.Decimal `json:"maxQty"`
		StepSize    codec.Decimal `json:"stepSize"`
		MinNotional codec.Decimal `json:"minNotional"`
		MaxNotional codec.Decimal `json:"maxNotional"`
		TickSize    codec.Decimal `json:"tickSize"`
	} `json:"filters"`
}

func parseSymbolInfo(src symbolInfoResponse) (core.Product, error) {
	p := core.Product{
		ID:              src.Symbol,
		DisplayName:     src.BaseAsset + "/" + src.QuoteAsset,
		BaseCurrency:    src.BaseAsset,
		QuoteCurrency:   src.QuoteAsset,
		Status:          strings.ToLower(src.Status),
		TradingDisabled: src.Status != "TRADING",
		LimitOnly:       !containsString(src.OrderTypes, "MARKET"),
	}
	set := func(dst *decimal.Decimal, src codec.Decimal, field string) error {
		if !src.Present() {
			return nil
		}
		v, err := src.RequireNonNegative(field)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
	for _, f := range src.Filters {
		var err error
		switch f.FilterType {
		case "LOT_SIZE":
			err = errors.Join(
				set(&p.BaseMinSize, f.MinQty, "minQty"),
				set(&p.BaseMaxSize, f.MaxQty, "maxQty"),
				set(&p.BaseIncrement, f.StepSize, "stepSize"),
			)
		case "PRICE_FILTER":
			err = set(&p.QuoteIncrement, f.TickSize, "tickSize")
		case "MIN_NOTIONAL", "NOTIONAL":
			var v decimal.Decimal
			if err = set(&v, f.MinNotional, "minNotional"); err == nil && v.GreaterThan(p.MinMarketFunds) {
				// If both MIN_NOTIONAL and NOTIONAL are present, keep the stricter minimum.
				p.MinMarketFunds = v
			}
			if err == nil {
				err = set(&p.MaxMarketFunds, f.MaxNotional, "maxNotional")
			}
		}
		if err != nil {
			return core.Product{}, fmt.Errorf("%s %s: %w", src.Symbol, f.FilterType, err)
		}
	}
	return p, nil
}

func parseSide(v string) (core.Side, error) {
	switch v {
	case "BUY":
		return core.Buy, nil
	case "SELL":
		return core.Sell, nil
	}
	return "", fmt.Errorf("side %q: %w", v, core.ErrUnrecognizedVariant)
}

func formatSide(s core.Side) string {
	return strings.ToUpper(string(s))
}

func parseOrderStatus(v string) (core.OrderStatus, error) {
	switch v {
	case "NEW", "PARTIALLY_FILLED":
		return core.OrderOpen, nil
	case "FILLED", "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH":
		return core.OrderDone, nil
	case "PENDING_NEW", "PENDING_CANCEL":
		return core.OrderPending, nil
	case "REJECTED":
		return core.OrderRejected, nil
	}
	return "", fmt.Errorf("binance order status %q: %w", v, core.ErrUnrecognizedVariant)
}

func parseTimeInForce(v string) (core.TimeInForce, error) {
	switch core.TimeInForceKind(v) {
	case core.GTC:
		return core.GoodTilCanceled(), nil
	case core.IOC:
		return core.ImmediateOrCancel(), nil
	case core.FOK:
		return core.FillOrKill(), nil
	}
	return core.TimeInForce{}, fmt.Errorf("binance time in force %q: %w", v, core.ErrUnrecognizedVariant)
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
