package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"openlimits/internal/codec"
	"openlimits/internal/core"
)

// streamEnvelope wraps every payload on the combined stream endpoint.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Payload keys differ only by case, and encoding/json folds case when no
// field matches exactly, so every key that has a same-letter twin is declared.

type depthUpdate struct {
	EventType     string             `json:"e"`
	EventTime     int64              `json:"E"`
	Symbol        string             `json:"s"`
	FirstUpdateID uint64             `json:"U"`
	FinalUpdateID uint64             `json:"u"`
	Bids          [][2]codec.Decimal `json:"b"`
	Asks          [][2]codec.Decimal `json:"a"`
}

type tickerUpdate struct {
	EventType   string        `json:"e"`
	EventTime   int64         `json:"E"`
	Symbol      string        `json:"s"`
	LastPrice   codec.Decimal `json:"c"`
	CloseTime   int64         `json:"C"`
	LastQty     codec.Decimal `json:"Q"`
	QuoteVolume codec.Decimal `json:"q"`
	BidPrice    codec.Decimal `json:"b"`
	BidQty      codec.Decimal `json:"B"`
	AskPrice    codec.Decimal `json:"a"`
	AskQty      codec.Decimal `json:"A"`
	OpenPrice   codec.Decimal `json:"o"`
	OpenTime    int64         `json:"O"`
	LowPrice    codec.Decimal `json:"l"`
	Volume      codec.Decimal `json:"v"`
	LastTradeID int64         `json:"L"`
}

func combinedStreamURL(base string, streams ...string) string {
	return base + "?streams=" + strings.Join(streams, "/")
}

func unwrapEnvelope(data []byte) (codec.Object, json.RawMessage, error) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, err
	}
	payload := env.Data
	if len(payload) == 0 {
		payload = data
	}
	obj, err := codec.DecodeObject(payload)
	if err != nil {
		return nil, nil, err
	}
	return obj, payload, nil
}

// DecodeStreamMessage maps one combined stream frame to market events. Depth
// updates become L2 deltas spanning update ids U..u; a zero quantity removes
// the price level.
func DecodeStreamMessage(data []byte) ([]core.MarketEvent, error) {
	obj, payload, err := unwrapEnvelope(data)
	if err != nil {
		return nil, err
	}
	if _, ok := obj["result"]; ok {
		// subscription ack
		return nil, nil
	}
	tag, err := obj.Tag("e")
	if err != nil {
		return nil, err
	}
	switch tag {
	case "depthUpdate":
		var msg depthUpdate
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		changes := make([]core.BookChange, 0, len(msg.Bids)+len(msg.Asks))
		for _, side := range []struct {
			side core.Side
			rows [][2]codec.Decimal
		}{{core.Buy, msg.Bids}, {core.Sell, msg.Asks}} {
			for _, row := range side.rows {
				price, err := row[0].Require("price")
				if err != nil {
					return nil, err
				}
				size, err := row[1].Require("qty")
				if err != nil {
					return nil, err
				}
				action := core.ChangeSet
				if size.IsZero() {
					action = core.ChangeRemove
				}
				changes = append(changes, core.BookChange{Side: side.side, Action: action, Price: price, Size: size})
			}
		}
		return []core.MarketEvent{{
			ProductID: msg.Symbol,
			Sequence:  msg.FinalUpdateID,
			Time:      codec.UnixMilli(msg.EventTime),
			Delta: &core.BookDelta{
				FirstSequence: msg.FirstUpdateID,
				Sequence:      msg.FinalUpdateID,
				Level:         core.L2,
				Changes:       changes,
			},
		}}, nil
	case "24hrTicker":
		var msg tickerUpdate
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		resp := tickerResponse{
			Symbol:    msg.Symbol,
			LastPrice: msg.LastPrice,
			LastQty:   msg.LastQty,
			BidPrice:  msg.BidPrice,
			AskPrice:  msg.AskPrice,
			Volume:    msg.Volume,
			CloseTime: msg.EventTime,
			LastID:    msg.LastTradeID,
		}
		ticker, err := resp.toTicker()
		if err != nil {
			return nil, err
		}
		// L is -1 when the window has no trades.
		var seq uint64
		if msg.LastTradeID > 0 {
			seq = uint64(msg.LastTradeID)
		}
		return []core.MarketEvent{{
			ProductID: msg.Symbol,
			Sequence:  seq,
			Time:      ticker.Time,
			Ticker:    &ticker,
		}}, nil
	}
	return nil, fmt.Errorf("binance stream event %q: %w", tag, core.ErrUnrecognizedVariant)
}
