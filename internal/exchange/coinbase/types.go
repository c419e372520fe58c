package coinbase

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"openlimits/internal/codec"
	"openlimits/internal/core"
)

type productResponse struct {
	ID              string        `json:"id"`
	DisplayName     string        `json:"display_name"`
	BaseCurrency    string        `json:"base_currency"`
	QuoteCurrency   string        `json:"quote_currency"`
	BaseIncrement   codec.Decimal `json:"base_increment"`
	QuoteIncrement  codec.Decimal `json:"quote_increment"`
	BaseMinSize     codec.Decimal `json:"base_min_size"`
	BaseMaxSize     codec.Decimal `json:"base_max_size"`
	MinMarketFunds  codec.Decimal `json:"min_market_funds"`
	MaxMarketFunds  codec.Decimal `json:"max_market_funds"`
	Status          string        `json:"status"`
	StatusMessage   string        `json:"status_message"`
	CancelOnly      bool          `json:"cancel_only"`
	LimitOnly       bool          `json:"limit_only"`
	PostOnly        bool          `json:"post_only"`
	TradingDisabled bool          `json:"trading_disabled"`
}

func (p productResponse) toProduct() (core.Product, error) {
	out := core.Product{
		ID:              p.ID,
		DisplayName:     p.DisplayName,
		BaseCurrency:    p.BaseCurrency,
		QuoteCurrency:   p.QuoteCurrency,
		Status:          p.Status,
		StatusMessage:   p.StatusMessage,
		CancelOnly:      p.CancelOnly,
		LimitOnly:       p.LimitOnly,
		PostOnly:        p.PostOnly,
		TradingDisabled: p.TradingDisabled,
	}
	var err error
	if out.BaseIncrement, err = p.BaseIncrement.RequireNonNegative("base_increment"); err != nil {
		return core.Product{}, err
	}
	if out.QuoteIncrement, err = p.QuoteIncrement.RequireNonNegative("quote_increment"); err != nil {
		return core.Product{}, err
	}
	// Size and funds limits were dropped from later product payloads.
	optional := []struct {
		field string
		src   codec.Decimal
		dst   *decimal.Decimal
	}{
		{"base_min_size", p.BaseMinSize, &out.BaseMinSize},
		{"base_max_size", p.BaseMaxSize, &out.BaseMaxSize},
		{"min_market_funds", p.MinMarketFunds, &out.MinMarketFunds},
		{"max_market_funds", p.MaxMarketFunds, &out.MaxMarketFunds},
	}
	for _, f := range optional {
		if !f.src.Present() {
			continue
		}
		if *f.dst, err = f.src.RequireNonNegative(f.field); err != nil {
			return core.Product{}, err
		}
	}
	return out, nil
}

type accountResponse struct {
	ID        string        `json:"id"`
	Currency  string        `json:"currency"`
	Balance   codec.Decimal `json:"balance"`
	Available codec.Decimal `json:"available"`
	Hold      codec.Decimal `json:"hold"`
	ProfileID string        `json:"profile_id"`
}

func (a accountResponse) toAccount() (core.Account, error) {
	out := core.Account{ID: a.ID, Currency: a.Currency, ProfileID: a.ProfileID}
	var err error
	if out.Balance, err = a.Balance.Require("balance"); err != nil {
		return core.Account{}, err
	}
	if out.Available, err = a.Available.Require("available"); err != nil {
		return core.Account{}, err
	}
	if out.Hold, err = a.Hold.Require("hold"); err != nil {
		return core.Account{}, err
	}
	return out, nil
}

type tickerResponse struct {
	TradeID int64         `json:"trade_id"`
	Price   codec.Decimal `json:"price"`
	Size    codec.Decimal `json:"size"`
	Bid     codec.Decimal `json:"bid"`
	Ask     codec.Decimal `json:"ask"`
	Volume  codec.Decimal `json:"volume"`
	Time    string        `json:"time"`
}

func (t tickerResponse) toTicker() (core.Ticker, error) {
	out := core.Ticker{TradeID: t.TradeID}
	fields := []struct {
		name string
		src  codec.Decimal
		dst  *decimal.Decimal
	}{
		{"price", t.Price, &out.Price},
		{"size", t.Size, &out.Size},
		{"bid", t.Bid, &out.Bid},
		{"ask", t.Ask, &out.Ask},
		{"volume", t.Volume, &out.Volume},
	}
	var err error
	for _, f := range fields {
		if *f.dst, err = f.src.Require(f.name); err != nil {
			return core.Ticker{}, err
		}
	}
	if out.Time, err = codec.ParseOptionalTime(t.Time); err != nil {
		return core.Ticker{}, err
	}
	return out, nil
}

type tradeResponse struct {
	TradeID int64         `json:"trade_id"`
	Time    string        `json:"time"`
	Size    codec.Decimal `json:"size"`
	Price   codec.Decimal `json:"price"`
	Side    string        `json:"side"`
}

func (t tradeResponse) toTrade() (core.Trade, error) {
	maker, err := parseSide(t.Side)
	if err != nil {
		return core.Trade{}, err
	}
	// The wire side is the maker order's; the taker took the other side.
	out := core.Trade{ID: t.TradeID, Side: maker.Opposite()}
	if out.Size, err = t.Size.Require("size"); err != nil {
		return core.Trade{}, err
	}
	if out.Price, err = t.Price.Require("price"); err != nil {
		return core.Trade{}, err
	}
	if out.Time, err = codec.ParseTime(t.Time); err != nil {
		return core.Trade{}, err
	}
	return out, nil
}

// candleRow is [time, low, high, open, close, volume] with bare JSON numbers.
type candleRow []codec.Decimal

func (r candleRow) toCandle() (core.Candle, error) {
	if len(r) != 6 {
		return core.Candle{}, fmt.Errorf("candle has %d fields, want 6: %w", len(r), core.ErrInvalidNumericFormat)
	}
	names := [6]string{"time", "low", "high", "open", "close", "volume"}
	var vals [6]decimal.Decimal
	for i := range r {
		v, err := r[i].Require(names[i])
		if err != nil {
			return core.Candle{}, err
		}
		vals[i] = v
	}
	return core.Candle{
		Time:   vals[0].IntPart(),
		Low:    vals[1],
		High:   vals[2],
		Open:   vals[3],
		Close:  vals[4],
		Volume: vals[5],
	}, nil
}

type bookResponse struct {
	Sequence uint64              `json:"sequence"`
	Bids     [][]json.RawMessage `json:"bids"`
	Asks     [][]json.RawMessage `json:"asks"`
}

func (b bookResponse) toBook(productID string, level core.DepthLevel) (core.Book, error) {
	bids, err := decodeBookSide(b.Bids, level)
	if err != nil {
		return core.Book{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := decodeBookSide(b.Asks, level)
	if err != nil {
		return core.Book{}, fmt.Errorf("asks: %w", err)
	}
	return core.NewBook(productID, b.Sequence, level, bids, asks), nil
}

// decodeBookSide reads [price, size, num_orders] rows for L1/L2 and
// [price, size, order_id] rows for L3.
func decodeBookSide(rows [][]json.RawMessage, level core.DepthLevel) ([]core.BookRecord, error) {
	out := make([]core.BookRecord, 0, len(rows))
	for _, row := range rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("book row has %d fields, want 3: %w", len(row), core.ErrUnrecognizedVariant)
		}
		var price, size codec.Decimal
		if err := json.Unmarshal(row[0], &price); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(row[1], &size); err != nil {
			return nil, err
		}
		p, err := price.Require("price")
		if err != nil {
			return nil, err
		}
		s, err := size.Require("size")
		if err != nil {
			return nil, err
		}
		switch level {
		case core.L1, core.L2:
			var n json.Number
			if err := json.Unmarshal(row[2], &n); err != nil {
				return nil, fmt.Errorf("num_orders: %w", err)
			}
			count, err := strconv.Atoi(n.String())
			if err != nil {
				return nil, fmt.Errorf("num_orders %q: %w", n, err)
			}
			if level == core.L1 {
				out = append(out, core.BookRecordL1{Price: p, Size: s, NumOrders: count})
			} else {
				out = append(out, core.BookRecordL2{Price: p, Size: s, NumOrders: count})
			}
		case core.L3:
			var orderID string
			if err := json.Unmarshal(row[2], &orderID); err != nil {
				return nil, fmt.Errorf("order_id: %w", err)
			}
			out = append(out, core.BookRecordL3{Price: p, Size: s, OrderID: orderID})
		}
	}
	return out, nil
}

func parseSide(v string) (core.Side, error) {
	side := core.Side(v)
	if !side.Valid() {
		return "", fmt.Errorf("side %q: %w", v, core.ErrUnrecognizedVariant)
	}
	return side, nil
}
