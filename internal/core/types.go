package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Product is a tradable pair together with its quantization rules.
type Product struct {
	ID              string
	DisplayName     string
	BaseCurrency    string
	QuoteCurrency   string
	BaseIncrement   decimal.Decimal
	QuoteIncrement  decimal.Decimal
	BaseMinSize     decimal.Decimal
	BaseMaxSize     decimal.Decimal
	MinMarketFunds  decimal.Decimal
	MaxMarketFunds  decimal.Decimal
	Status          string
	StatusMessage   string
	CancelOnly      bool
	LimitOnly       bool
	PostOnly        bool
	TradingDisabled bool
}

type Account struct {
	ID        string
	Currency  string
	Balance   decimal.Decimal
	Available decimal.Decimal
	Hold      decimal.Decimal
	ProfileID string
}

// Balanced reports whether Balance == Available + Hold. Exchanges report the
// three figures independently, so callers decide what a mismatch means.
func (a Account) Balanced() bool {
	return a.Balance.Equal(a.Available.Add(a.Hold))
}

// Candle is an OHLCV bar keyed by its opening time in epoch seconds.
type Candle struct {
	Time   int64
	Low    decimal.Decimal
	High   decimal.Decimal
	Open   decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Trade is one public print. Side is the taker's side: Buy means an incoming
// buy order lifted a resting ask.
type Trade struct {
	ID    int64
	Time  time.Time
	Size  decimal.Decimal
	Price decimal.Decimal
	Side  Side
}

type Ticker struct {
	TradeID int64
	Price   decimal.Decimal
	Size    decimal.Decimal
	Bid     decimal.Decimal
	Ask     decimal.Decimal
	Volume  decimal.Decimal
	Time    time.Time
}

// CandleQuery selects a candle range. Zero Start/End let the exchange pick
// its default window.
type CandleQuery struct {
	Granularity time.Duration
	Start       time.Time
	End         time.Time
}
