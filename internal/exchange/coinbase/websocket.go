package coinbase

import (
	"encoding/json"
	"fmt"

	"openlimits/internal/codec"
	"openlimits/internal/core"
)

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// feedMessage is the union of the full and ticker channel payloads.
type feedMessage struct {
	Type          string         `json:"type"`
	ProductID     string         `json:"product_id"`
	Sequence      uint64         `json:"sequence"`
	Time          string         `json:"time"`
	Side          string         `json:"side"`
	OrderID       string         `json:"order_id"`
	MakerOrderID  string         `json:"maker_order_id"`
	Price         *codec.Decimal `json:"price"`
	Size          *codec.Decimal `json:"size"`
	RemainingSize *codec.Decimal `json:"remaining_size"`
	NewSize       *codec.Decimal `json:"new_size"`
	TradeID       int64          `json:"trade_id"`
	LastSize      *codec.Decimal `json:"last_size"`
	BestBid       *codec.Decimal `json:"best_bid"`
	BestAsk       *codec.Decimal `json:"best_ask"`
	Volume24h     *codec.Decimal `json:"volume_24h"`
	Message       string         `json:"message"`
	Reason        string         `json:"reason"`
}

// DecodeFeedMessage maps one feed frame to market events. Full channel
// messages become L3 deltas whose first and last sequence are the message
// sequence; messages that do not touch the resting book (received, activate)
// still produce an empty delta so the sequence stays contiguous.
func DecodeFeedMessage(data []byte) ([]core.MarketEvent, error) {
	obj, err := codec.DecodeObject(data)
	if err != nil {
		return nil, err
	}
	tag, err := obj.Tag("type")
	if err != nil {
		return nil, err
	}
	switch tag {
	case "subscriptions", "heartbeat":
		return nil, nil
	case "error":
		var msg feedMessage
		_ = json.Unmarshal(data, &msg)
		return nil, fmt.Errorf("coinbase feed error: %s %s: %w", msg.Message, msg.Reason, core.ErrTransport)
	}

	var msg feedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	ts, err := codec.ParseOptionalTime(msg.Time)
	if err != nil {
		return nil, err
	}
	ev := core.MarketEvent{ProductID: msg.ProductID, Sequence: msg.Sequence, Time: ts}

	if tag == "ticker" {
		ticker := core.Ticker{
			TradeID: msg.TradeID,
			Price:   optionalWire(msg.Price),
			Size:    optionalWire(msg.LastSize),
			Bid:     optionalWire(msg.BestBid),
			Ask:     optionalWire(msg.BestAsk),
			Volume:  optionalWire(msg.Volume24h),
			Time:    ts,
		}
		if msg.Price == nil {
			return nil, fmt.Errorf("ticker without price: %w", core.ErrInvalidNumericFormat)
		}
		ev.Ticker = &ticker
		return []core.MarketEvent{ev}, nil
	}

	var changes []core.BookChange
	switch tag {
	case "received", "activate":
	case "open":
		side, err := parseSide(msg.Side)
		if err != nil {
			return nil, err
		}
		price, err := requireWire(msg.Price, "price")
		if err != nil {
			return nil, err
		}
		size, err := requireWire(msg.RemainingSize, "remaining_size")
		if err != nil {
			return nil, err
		}
		changes = append(changes, core.BookChange{Side: side, Action: core.ChangeSet, Price: price, Size: size, OrderID: msg.OrderID})
	case "done":
		// Market orders never rest on the book and carry no price.
		if msg.Price != nil {
			side, err := parseSide(msg.Side)
			if err != nil {
				return nil, err
			}
			changes = append(changes, core.BookChange{Side: side, Action: core.ChangeRemove, Price: optionalWire(msg.Price), OrderID: msg.OrderID})
		}
	case "match":
		side, err := parseSide(msg.Side)
		if err != nil {
			return nil, err
		}
		price, err := requireWire(msg.Price, "price")
		if err != nil {
			return nil, err
		}
		size, err := requireWire(msg.Size, "size")
		if err != nil {
			return nil, err
		}
		changes = append(changes, core.BookChange{Side: side, Action: core.ChangeReduce, Price: price, Size: size, OrderID: msg.MakerOrderID})
	case "change":
		if msg.Price != nil && msg.NewSize != nil {
			side, err := parseSide(msg.Side)
			if err != nil {
				return nil, err
			}
			changes = append(changes, core.BookChange{Side: side, Action: core.ChangeSet, Price: optionalWire(msg.Price), Size: optionalWire(msg.NewSize), OrderID: msg.OrderID})
		}
	default:
		return nil, fmt.Errorf("feed message type %q: %w", tag, core.ErrUnrecognizedVariant)
	}
	ev.Delta = &core.BookDelta{
		FirstSequence: msg.Sequence,
		Sequence:      msg.Sequence,
		Level:         core.L3,
		Changes:       changes,
	}
	return []core.MarketEvent{ev}, nil
}
