package polymarket

import (
	"bytes"
	"encoding/json"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// DecodeFrame turns one raw WebSocket frame into typed feed events. A frame
// is either a single JSON object or a JSON array of objects; each object is
// routed by its event_type. Elements that fail schema validation or carry an
// unrecognized event_type become UnknownEvents preserving the original text;
// one malformed element never discards the rest of the batch, and the
// function never fails.
func DecodeFrame(raw []byte) []domain.FeedEvent {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}

	var elements []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return []domain.FeedEvent{domain.UnknownEvent{Raw: string(trimmed)}}
		}
	} else {
		elements = []json.RawMessage{json.RawMessage(trimmed)}
	}

	events := make([]domain.FeedEvent, 0, len(elements))
	for _, el := range elements {
		events = append(events, decodeElement(el))
	}
	return events
}

// decodeElement routes a single envelope by event_type.
func decodeElement(el json.RawMessage) domain.FeedEvent {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(el, &envelope); err != nil {
		return domain.UnknownEvent{Raw: string(el)}
	}

	switch envelope.EventType {
	case "book":
		var msg BookMessage
		if err := json.Unmarshal(el, &msg); err != nil {
			return domain.UnknownEvent{Raw: string(el)}
		}
		return msg.toEvent()

	case "price_change":
		var msg PriceChangeMessage
		if err := json.Unmarshal(el, &msg); err != nil {
			return domain.UnknownEvent{Raw: string(el)}
		}
		return msg.toEvent()

	case "tick_size_change":
		var msg TickSizeChangeMessage
		if err := json.Unmarshal(el, &msg); err != nil {
			return domain.UnknownEvent{Raw: string(el)}
		}
		return msg.toEvent()

	case "last_trade_price":
		var msg LastTradePriceMessage
		if err := json.Unmarshal(el, &msg); err != nil {
			return domain.UnknownEvent{Raw: string(el)}
		}
		return msg.toEvent()

	default:
		return domain.UnknownEvent{Raw: string(el)}
	}
}
