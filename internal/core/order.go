package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderDone     OrderStatus = "done"
	OrderPending  OrderStatus = "pending"
	OrderActive   OrderStatus = "active"
	OrderRejected OrderStatus = "rejected"
)

func ParseOrderStatus(v string) (OrderStatus, error) {
	switch s := OrderStatus(strings.ToLower(v)); s {
	case OrderOpen, OrderDone, OrderPending, OrderActive, OrderRejected:
		return s, nil
	}
	return "", fmt.Errorf("order status %q: %w", v, ErrUnrecognizedVariant)
}

type TimeInForceKind string

const (
	GTC TimeInForceKind = "GTC"
	GTT TimeInForceKind = "GTT"
	IOC TimeInForceKind = "IOC"
	FOK TimeInForceKind = "FOK"
)

// TimeInForce is the tagged union GTC | GTT{ExpireTime} | IOC | FOK. Only GTT
// carries a payload.
type TimeInForce struct {
	Kind       TimeInForceKind
	ExpireTime time.Time
}

func GoodTilCanceled() TimeInForce { return TimeInForce{Kind: GTC} }
func ImmediateOrCancel() TimeInForce { return TimeInForce{Kind: IOC} }
func FillOrKill() TimeInForce { return TimeInForce{Kind: FOK} }

func GoodTilTime(expire time.Time) TimeInForce {
	return TimeInForce{Kind: GTT, ExpireTime: expire}
}

func (t TimeInForce) Validate() error {
	switch t.Kind {
	case GTT:
		if t.ExpireTime.IsZero() {
			return fmt.Errorf("GTT requires an expire time: %w", ErrInvalidOrderRequest)
		}
	case GTC, IOC, FOK:
		if !t.ExpireTime.IsZero() {
			return fmt.Errorf("%s does not take an expire time: %w", t.Kind, ErrInvalidOrderRequest)
		}
	default:
		return fmt.Errorf("time in force %q: %w", t.Kind, ErrUnrecognizedVariant)
	}
	return nil
}

type StopType string

const (
	StopLoss  StopType = "loss"
	StopEntry StopType = "entry"
)

func ParseStopType(v string) (StopType, error) {
	switch s := StopType(strings.ToLower(v)); s {
	case StopLoss, StopEntry:
		return s, nil
	}
	return "", fmt.Errorf("stop type %q: %w", v, ErrUnrecognizedVariant)
}

type OrderStop struct {
	StopPrice decimal.Decimal
	Type      StopType
}

func (s OrderStop) Validate() error {
	if s.Type != StopLoss && s.Type != StopEntry {
		return fmt.Errorf("stop type %q: %w", s.Type, ErrInvalidOrderRequest)
	}
	if !s.StopPrice.IsPositive() {
		return fmt.Errorf("stop price must be > 0: %w", ErrInvalidOrderRequest)
	}
	return nil
}

// OrderType is the exchange-reported order type: LimitOrder or MarketOrder.
type OrderType interface {
	orderType()
}

type LimitOrder struct {
	Size        decimal.Decimal
	Price       decimal.Decimal
	TimeInForce TimeInForce
}

// MarketOrder reports both amounts; the one the order was not placed with is zero.
type MarketOrder struct {
	Size  decimal.Decimal
	Funds decimal.Decimal
}

func (LimitOrder) orderType() {}
func (MarketOrder) orderType() {}

type Order struct {
	ID            string
	ClientOID     string
	ProductID     string
	Side          Side
	STP           string
	Type          OrderType
	PostOnly      bool
	CreatedAt     time.Time
	FillFees      decimal.Decimal
	FilledSize    decimal.Decimal
	ExecutedValue decimal.Decimal
	Status        OrderStatus
	Settled       bool
	Stop          *OrderStop
}

// OrderRequestType is the caller-side order type: LimitRequest or MarketRequest.
type OrderRequestType interface {
	orderRequestType()
}

type LimitRequest struct {
	Price       decimal.Decimal
	Size        decimal.Decimal
	PostOnly    bool
	TimeInForce *TimeInForce
}

// MarketRequest holds the untagged {size} | {funds} union. Exactly one amount
// must be set; use MarketBySize or MarketByFunds to build a valid one.
type MarketRequest struct {
	Size  decimal.NullDecimal
	Funds decimal.NullDecimal
}

func (LimitRequest) orderRequestType() {}
func (MarketRequest) orderRequestType() {}

func MarketBySize(size decimal.Decimal) MarketRequest {
	return MarketRequest{Size: decimal.NewNullDecimal(size)}
}

func MarketByFunds(funds decimal.Decimal) MarketRequest {
	return MarketRequest{Funds: decimal.NewNullDecimal(funds)}
}

// MarketAmount is the resolved arm of a MarketRequest: MarketSize or MarketFunds.
type MarketAmount interface {
	marketAmount()
}

type MarketSize struct{ Size decimal.Decimal }
type MarketFunds struct{ Funds decimal.Decimal }

func (MarketSize) marketAmount() {}
func (MarketFunds) marketAmount() {}

// Amount resolves the union, trying size first and then funds.
func (m MarketRequest) Amount() (MarketAmount, error) {
	switch {
	case m.Size.Valid && m.Funds.Valid:
		return nil, fmt.Errorf("market request sets both size and funds: %w", ErrAmbiguousUntaggedVariant)
	case m.Size.Valid:
		return MarketSize{Size: m.Size.Decimal}, nil
	case m.Funds.Valid:
		return MarketFunds{Funds: m.Funds.Decimal}, nil
	}
	return nil, fmt.Errorf("market request sets neither size nor funds: %w", ErrUnrecognizedVariant)
}

type OrderRequest struct {
	Side      Side
	ClientOID string
	ProductID string
	Type      OrderRequestType
	Stop      *OrderStop
}

// Validate rejects requests with contradictory or missing fields. Every error
// wraps ErrInvalidOrderRequest.
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.ProductID) == "" {
		return fmt.Errorf("product id required: %w", ErrInvalidOrderRequest)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("side %q: %w", r.Side, ErrInvalidOrderRequest)
	}
	switch t := r.Type.(type) {
	case LimitRequest:
		if !t.Price.IsPositive() {
			return fmt.Errorf("limit price must be > 0: %w", ErrInvalidOrderRequest)
		}
		if !t.Size.IsPositive() {
			return fmt.Errorf("limit size must be > 0: %w", ErrInvalidOrderRequest)
		}
		if t.TimeInForce != nil {
			if err := t.TimeInForce.Validate(); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidOrderRequest, err)
			}
			if t.PostOnly && (t.TimeInForce.Kind == IOC || t.TimeInForce.Kind == FOK) {
				return fmt.Errorf("post only cannot be combined with %s: %w", t.TimeInForce.Kind, ErrInvalidOrderRequest)
			}
		}
	case MarketRequest:
		amount, err := t.Amount()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOrderRequest, err)
		}
		switch a := amount.(type) {
		case MarketSize:
			if !a.Size.IsPositive() {
				return fmt.Errorf("market size must be > 0: %w", ErrInvalidOrderRequest)
			}
		case MarketFunds:
			if !a.Funds.IsPositive() {
				return fmt.Errorf("market funds must be > 0: %w", ErrInvalidOrderRequest)
			}
		}
	case nil:
		return fmt.Errorf("order type required: %w", ErrInvalidOrderRequest)
	default:
		return fmt.Errorf("order type %T: %w", r.Type, ErrInvalidOrderRequest)
	}
	if r.Stop != nil {
		if err := r.Stop.Validate(); err != nil {
			return err
		}
	}
	return nil
}
