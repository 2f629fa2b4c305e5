package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadAsConcrete(t *testing.T) {
	event := Event{
		Seq:  1,
		Type: EventCandle,
		Payload: CandlePayload{
			Symbol:    "BTCUSDT",
			Timeframe: Timeframe1m,
			Candle:    Candle{TimestampMs: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3},
		},
	}

	p, ok := PayloadAs[CandlePayload](event)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", p.Symbol)
	assert.Equal(t, 1.5, p.Candle.Close)

	_, ok = PayloadAs[TradePayload](event)
	assert.True(t, ok) // structurally convertible through JSON, fields zeroed
}

func TestPayloadAsWireRoundTrip(t *testing.T) {
	original := Event{
		Seq:         7,
		Type:        EventTrade,
		TimestampMs: 42,
		Payload: TradePayload{
			TradeID:    "t1",
			Symbol:     "ETHUSDT",
			Quantity:   2,
			EntryPrice: 100,
			ExitPrice:  110,
			PnL:        19.78,
			ExitTimeMs: 600_000,
			HoldBars:   4,
		},
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	// decoded events carry map payloads, the way a remote consumer sees them
	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	_, isMap := decoded.Payload.(map[string]any)
	require.True(t, isMap)

	p, ok := PayloadAs[TradePayload](decoded)
	require.True(t, ok)
	assert.Equal(t, original.Payload, p)
}

func TestPayloadAsStatus(t *testing.T) {
	event := Event{
		Type:    EventStatus,
		Payload: map[string]any{"status": "finished", "progress": 1.0},
	}

	p, ok := PayloadAs[StatusPayload](event)
	require.True(t, ok)
	assert.Equal(t, SessionStatusFinished, p.Status)
	assert.True(t, p.Status.Terminal())
}
