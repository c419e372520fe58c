package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrBelowMinSize     = errors.New("size below product minimum")
	ErrAboveMaxSize     = errors.New("size above product maximum")
	ErrBelowMinFunds    = errors.New("funds below product minimum")
	ErrTradingDisabled  = errors.New("trading disabled for product")
	ErrMarketNotAllowed = errors.New("product accepts limit orders only")
	ErrOffIncrement     = errors.New("value is not a multiple of the increment")
)

func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

func (p Product) QuantizePrice(price decimal.Decimal) decimal.Decimal {
	return RoundDown(price, p.QuoteIncrement)
}

func (p Product) QuantizeSize(size decimal.Decimal) decimal.Decimal {
	return RoundDown(size, p.BaseIncrement)
}

// CheckOrder validates a request against the product's trading flags, size
// bounds and increments. It does not modify the request; callers quantize first.
func (p Product) CheckOrder(req OrderRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if p.TradingDisabled || p.CancelOnly {
		return fmt.Errorf("%s: %w", p.ID, ErrTradingDisabled)
	}
	switch t := req.Type.(type) {
	case LimitRequest:
		if err := p.checkSize(t.Size); err != nil {
			return err
		}
		if !onIncrement(t.Price, p.QuoteIncrement) {
			return fmt.Errorf("price %s step %s: %w", t.Price, p.QuoteIncrement, ErrOffIncrement)
		}
	case MarketRequest:
		if p.LimitOnly || p.PostOnly {
			return fmt.Errorf("%s: %w", p.ID, ErrMarketNotAllowed)
		}
		amount, _ := t.Amount()
		switch a := amount.(type) {
		case MarketSize:
			return p.checkSize(a.Size)
		case MarketFunds:
			if p.MinMarketFunds.IsPositive() && a.Funds.LessThan(p.MinMarketFunds) {
				return fmt.Errorf("funds %s min %s: %w", a.Funds, p.MinMarketFunds, ErrBelowMinFunds)
			}
		}
	}
	return nil
}

func (p Product) checkSize(size decimal.Decimal) error {
	if p.BaseMinSize.IsPositive() && size.LessThan(p.BaseMinSize) {
		return fmt.Errorf("size %s min %s: %w", size, p.BaseMinSize, ErrBelowMinSize)
	}
	if p.BaseMaxSize.IsPositive() && size.GreaterThan(p.BaseMaxSize) {
		return fmt.Errorf("size %s max %s: %w", size, p.BaseMaxSize, ErrAboveMaxSize)
	}
	if !onIncrement(size, p.BaseIncrement) {
		return fmt.Errorf("size %s step %s: %w", size, p.BaseIncrement, ErrOffIncrement)
	}
	return nil
}

func onIncrement(value, step decimal.Decimal) bool {
	if !step.IsPositive() {
		return true
	}
	return RoundDown(value, step).Equal(value)
}
