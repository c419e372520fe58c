package coinbase

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"openlimits/internal/codec"
	"openlimits/internal/core"
)

// orderWire is the flattened order object: the `type` tag selects the limit or
// market fields, `time_in_force` carries its own tag and `stop`/`stop_price`
// sit beside them.
type orderWire struct {
	ID            string         `json:"id"`
	ClientOID     string         `json:"client_oid,omitempty"`
	ProductID     string         `json:"product_id"`
	Side          string         `json:"side"`
	STP           string         `json:"stp,omitempty"`
	Type          string         `json:"type"`
	Price         *codec.Decimal `json:"price,omitempty"`
	Size          *codec.Decimal `json:"size,omitempty"`
	Funds         *codec.Decimal `json:"funds,omitempty"`
	TimeInForce   string         `json:"time_in_force,omitempty"`
	ExpireTime    string         `json:"expire_time,omitempty"`
	PostOnly      bool           `json:"post_only"`
	CreatedAt     string         `json:"created_at"`
	FillFees      codec.Decimal  `json:"fill_fees"`
	FilledSize    codec.Decimal  `json:"filled_size"`
	ExecutedValue codec.Decimal  `json:"executed_value"`
	Status        string         `json:"status"`
	Settled       bool           `json:"settled"`
	Stop          string         `json:"stop,omitempty"`
	StopPrice     *codec.Decimal `json:"stop_price,omitempty"`
}

type orderRequestWire struct {
	Side        string         `json:"side"`
	ClientOID   string         `json:"client_oid,omitempty"`
	ProductID   string         `json:"product_id"`
	Type        string         `json:"type"`
	Price       *codec.Decimal `json:"price,omitempty"`
	Size        *codec.Decimal `json:"size,omitempty"`
	Funds       *codec.Decimal `json:"funds,omitempty"`
	PostOnly    *bool          `json:"post_only,omitempty"`
	TimeInForce string         `json:"time_in_force,omitempty"`
	ExpireTime  string         `json:"expire_time,omitempty"`
	Stop        string         `json:"stop,omitempty"`
	StopPrice   *codec.Decimal `json:"stop_price,omitempty"`
}

// MarshalOrderRequest validates req and encodes it as a POST /orders body.
func MarshalOrderRequest(req core.OrderRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ClientOID != "" {
		if _, err := uuid.Parse(req.ClientOID); err != nil {
			return nil, fmt.Errorf("client_oid %q is not a uuid: %w", req.ClientOID, core.ErrInvalidOrderRequest)
		}
	}
	w := orderRequestWire{
		Side:      string(req.Side),
		ClientOID: req.ClientOID,
		ProductID: req.ProductID,
	}
	switch t := req.Type.(type) {
	case core.LimitRequest:
		postOnly := t.PostOnly
		w.Type = "limit"
		w.Price = wireDecimal(t.Price)
		w.Size = wireDecimal(t.Size)
		w.PostOnly = &postOnly
		if t.TimeInForce != nil {
			w.TimeInForce, w.ExpireTime = encodeTimeInForce(*t.TimeInForce)
		}
	case core.MarketRequest:
		w.Type = "market"
		amount, _ := t.Amount()
		switch a := amount.(type) {
		case core.MarketSize:
			w.Size = wireDecimal(a.Size)
		case core.MarketFunds:
			w.Funds = wireDecimal(a.Funds)
		}
	}
	if req.Stop != nil {
		w.Stop = string(req.Stop.Type)
		w.StopPrice = wireDecimal(req.Stop.StopPrice)
	}
	return json.Marshal(w)
}

// UnmarshalOrderRequest decodes a POST /orders body.
func UnmarshalOrderRequest(data []byte) (core.OrderRequest, error) {
	obj, err := codec.DecodeObject(data)
	if err != nil {
		return core.OrderRequest{}, err
	}
	var w orderRequestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return core.OrderRequest{}, err
	}
	side, err := parseSide(w.Side)
	if err != nil {
		return core.OrderRequest{}, err
	}
	req := core.OrderRequest{Side: side, ClientOID: w.ClientOID, ProductID: w.ProductID}

	tag, err := obj.Tag("type")
	if err != nil {
		return core.OrderRequest{}, err
	}
	switch tag {
	case "limit":
		limit := core.LimitRequest{PostOnly: w.PostOnly != nil && *w.PostOnly}
		if limit.Price, err = requireWire(w.Price, "price"); err != nil {
			return core.OrderRequest{}, err
		}
		if limit.Size, err = requireWire(w.Size, "size"); err != nil {
			return core.OrderRequest{}, err
		}
		if obj.Has("time_in_force") {
			tif, err := decodeTimeInForce(obj, w.TimeInForce, w.ExpireTime)
			if err != nil {
				return core.OrderRequest{}, err
			}
			limit.TimeInForce = &tif
		}
		req.Type = limit
	case "market":
		arm, err := obj.MatchArm(codec.Arm{Name: "size", Keys: []string{"size"}}, codec.Arm{Name: "funds", Keys: []string{"funds"}})
		if err != nil {
			return core.OrderRequest{}, err
		}
		if arm == 0 {
			size, err := requireWire(w.Size, "size")
			if err != nil {
				return core.OrderRequest{}, err
			}
			req.Type = core.MarketBySize(size)
		} else {
			funds, err := requireWire(w.Funds, "funds")
			if err != nil {
				return core.OrderRequest{}, err
			}
			req.Type = core.MarketByFunds(funds)
		}
	default:
		return core.OrderRequest{}, fmt.Errorf("order type %q: %w", tag, core.ErrUnrecognizedVariant)
	}

	if req.Stop, err = decodeStop(obj, w.Stop, w.StopPrice); err != nil {
		return core.OrderRequest{}, err
	}
	return req, nil
}

// MarshalOrder encodes an order the way the exchange reports it.
func MarshalOrder(o core.Order) ([]byte, error) {
	w := orderWire{
		ID:            o.ID,
		ClientOID:     o.ClientOID,
		ProductID:     o.ProductID,
		Side:          string(o.Side),
		STP:           o.STP,
		PostOnly:      o.PostOnly,
		FillFees:      codec.NewDecimal(o.FillFees),
		FilledSize:    codec.NewDecimal(o.FilledSize),
		ExecutedValue: codec.NewDecimal(o.ExecutedValue),
		Status:        string(o.Status),
		Settled:       o.Settled,
	}
	if !o.CreatedAt.IsZero() {
		w.CreatedAt = codec.FormatTime(o.CreatedAt)
	}
	switch t := o.Type.(type) {
	case core.LimitOrder:
		w.Type = "limit"
		w.Price = wireDecimal(t.Price)
		w.Size = wireDecimal(t.Size)
		w.TimeInForce, w.ExpireTime = encodeTimeInForce(t.TimeInForce)
	case core.MarketOrder:
		w.Type = "market"
		w.Size = wireDecimal(t.Size)
		w.Funds = wireDecimal(t.Funds)
	default:
		return nil, fmt.Errorf("order type %T: %w", o.Type, core.ErrUnrecognizedVariant)
	}
	if o.Stop != nil {
		w.Stop = string(o.Stop.Type)
		w.StopPrice = wireDecimal(o.Stop.StopPrice)
	}
	return json.Marshal(w)
}

// UnmarshalOrder decodes an order object from a REST response.
func UnmarshalOrder(data []byte) (core.Order, error) {
	obj, err := codec.DecodeObject(data)
	if err != nil {
		return core.Order{}, err
	}
	var w orderWire
	if err := json.Unmarshal(data, &w); err != nil {
		return core.Order{}, err
	}
	side, err := parseSide(w.Side)
	if err != nil {
		return core.Order{}, err
	}
	status, err := core.ParseOrderStatus(w.Status)
	if err != nil {
		return core.Order{}, err
	}
	o := core.Order{
		ID:        w.ID,
		ClientOID: w.ClientOID,
		ProductID: w.ProductID,
		Side:      side,
		STP:       w.STP,
		PostOnly:  w.PostOnly,
		Status:    status,
		Settled:   w.Settled,
	}
	if o.CreatedAt, err = codec.ParseOptionalTime(w.CreatedAt); err != nil {
		return core.Order{}, err
	}
	if o.FillFees, err = w.FillFees.Require("fill_fees"); err != nil {
		return core.Order{}, err
	}
	if o.FilledSize, err = w.FilledSize.Require("filled_size"); err != nil {
		return core.Order{}, err
	}
	if o.ExecutedValue, err = w.ExecutedValue.Require("executed_value"); err != nil {
		return core.Order{}, err
	}

	tag, err := obj.Tag("type")
	if err != nil {
		return core.Order{}, err
	}
	switch tag {
	case "limit":
		limit := core.LimitOrder{}
		if limit.Size, err = requireWire(w.Size, "size"); err != nil {
			return core.Order{}, err
		}
		if limit.Price, err = requireWire(w.Price, "price"); err != nil {
			return core.Order{}, err
		}
		if limit.TimeInForce, err = decodeTimeInForce(obj, w.TimeInForce, w.ExpireTime); err != nil {
			return core.Order{}, err
		}
		o.Type = limit
	case "market":
		// Market orders report whichever of size/funds applies.
		o.Type = core.MarketOrder{Size: optionalWire(w.Size), Funds: optionalWire(w.Funds)}
	default:
		return core.Order{}, fmt.Errorf("order type %q: %w", tag, core.ErrUnrecognizedVariant)
	}

	if o.Stop, err = decodeStop(obj, w.Stop, w.StopPrice); err != nil {
		return core.Order{}, err
	}
	return o, nil
}

func encodeTimeInForce(tif core.TimeInForce) (kind, expire string) {
	if tif.Kind == core.GTT {
		return string(tif.Kind), codec.FormatTime(tif.ExpireTime)
	}
	return string(tif.Kind), ""
}

func decodeTimeInForce(obj codec.Object, kind, expire string) (core.TimeInForce, error) {
	tag, err := obj.Tag("time_in_force")
	if err != nil {
		return core.TimeInForce{}, err
	}
	switch core.TimeInForceKind(tag) {
	case core.GTC:
		return core.GoodTilCanceled(), nil
	case core.IOC:
		return core.ImmediateOrCancel(), nil
	case core.FOK:
		return core.FillOrKill(), nil
	case core.GTT:
		if expire == "" {
			return core.TimeInForce{}, fmt.Errorf("GTT without expire_time: %w", core.ErrUnrecognizedVariant)
		}
		t, err := codec.ParseTime(expire)
		if err != nil {
			return core.TimeInForce{}, fmt.Errorf("expire_time: %w", err)
		}
		return core.GoodTilTime(t), nil
	}
	return core.TimeInForce{}, fmt.Errorf("time_in_force %q: %w", kind, core.ErrUnrecognizedVariant)
}

func decodeStop(obj codec.Object, stop string, price *codec.Decimal) (*core.OrderStop, error) {
	if !obj.Has("stop") && !obj.Has("stop_price") {
		return nil, nil
	}
	tag, err := obj.Tag("stop")
	if err != nil {
		return nil, err
	}
	stopType, err := core.ParseStopType(tag)
	if err != nil {
		return nil, err
	}
	stopPrice, err := requireWire(price, "stop_price")
	if err != nil {
		return nil, err
	}
	return &core.OrderStop{StopPrice: stopPrice, Type: stopType}, nil
}

func wireDecimal(d decimal.Decimal) *codec.Decimal {
	v := codec.NewDecimal(d)
	return &v
}

func requireWire(d *codec.Decimal, field string) (decimal.Decimal, error) {
	if d == nil {
		return decimal.Zero, fmt.Errorf("missing %s: %w", field, core.ErrInvalidNumericFormat)
	}
	return d.Require(field)
}

func optionalWire(d *codec.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return d.OrZero()
}
