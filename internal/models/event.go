package models

import "encoding/json"

// EventType tags one entry of a session's event log.
type EventType string

const (
	EventCandle EventType = "candle"
	EventSignal EventType = "signal"
	EventOrder  EventType = "order"
	EventFill   EventType = "fill"
	EventTrade  EventType = "trade"
	EventEquity EventType = "equity"
	EventStatus EventType = "status"
	EventError  EventType = "error"
)

// Event is one sequenced entry of a session's event log. Seq is strictly
// increasing per session with no gaps; a consumer that has seen seq N can
// resume with fromSeq=N and receive exactly the events with seq > N.
type Event struct {
	Seq         uint64    `json:"seq"`
	Type        EventType `json:"type"`
	TimestampMs int64     `json:"timestampMs"`
	Payload     any       `json:"payload"`
}

// CandlePayload carries one candle tick. The same bucket may be re-emitted
// while it is still live; consumers upsert by timestamp.
type CandlePayload struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Candle    Candle    `json:"candle"`
}

type SignalAction string

const (
	SignalBuy  SignalAction = "buy"
	SignalSell SignalAction = "sell"
)

type SignalPayload struct {
	Symbol string       `json:"symbol"`
	Action SignalAction `json:"action"`
	Price  float64      `json:"price"`
	Reason string       `json:"reason"`
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderPayload struct {
	OrderID  string    `json:"orderId"`
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
}

type FillPayload struct {
	OrderID  string    `json:"orderId"`
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Fee      float64   `json:"fee"`
}

// TradePayload describes one closed round trip. EntryTimeMs is derived from
// the exit bucket and the number of bars the position was held.
type TradePayload struct {
	TradeID     string  `json:"tradeId"`
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	EntryPrice  float64 `json:"entryPrice"`
	ExitPrice   float64 `json:"exitPrice"`
	PnL         float64 `json:"pnl"`
	EntryTimeMs int64   `json:"entryTimeMs"`
	ExitTimeMs  int64   `json:"exitTimeMs"`
	HoldBars    int     `json:"holdBars"`
}

type EquityPayload struct {
	Cash          float64 `json:"cash"`
	PositionValue float64 `json:"positionValue"`
	Equity        float64 `json:"equity"`
}

// StatusPayload signals session-level state changes out-of-band from candle
// events. A terminal status is always the last event of a session's log.
type StatusPayload struct {
	Status   SessionStatus `json:"status"`
	Progress float64       `json:"progress"`
	Message  string        `json:"message,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// PayloadAs extracts a typed payload from an event. Events passed in-process
// carry the concrete struct; events decoded from the wire carry a generic
// map, which is converted through JSON.
func PayloadAs[T any](e Event) (T, bool) {
	if v, ok := e.Payload.(T); ok {
		return v, true
	}
	var out T
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}
