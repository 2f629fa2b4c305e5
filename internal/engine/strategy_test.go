package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/models"
)

func feedCloses(s *strategy, closes []float64) []models.Event {
	var events []models.Event
	width := s.tf.DurationMs()
	for i, close := range closes {
		candle := models.Candle{
			TimestampMs: int64(i) * width,
			Open:        close,
			High:        close,
			Low:         close,
			Close:       close,
			Volume:      1,
		}
		events = append(events, s.onCandle(candle)...)
	}
	return events
}

// closesWithCross declines long enough to fill both SMA windows, then rallies
// to force a fast-over-slow cross, then sells off to close the position.
func closesWithCross() []float64 {
	var closes []float64
	price := 100.0
	for i := 0; i < 25; i++ {
		price -= 0.5
		closes = append(closes, price)
	}
	for i := 0; i < 15; i++ {
		price += 3
		closes = append(closes, price)
	}
	for i := 0; i < 15; i++ {
		price -= 3
		closes = append(closes, price)
	}
	return closes
}

func TestStrategyRoundTrip(t *testing.T) {
	s := newStrategy("BTCUSDT", models.Timeframe1m)
	events := feedCloses(s, closesWithCross())

	counts := map[models.EventType]int{}
	for _, event := range events {
		counts[event.Type]++
	}

	require.NotZero(t, counts[models.EventSignal])
	require.NotZero(t, counts[models.EventTrade])
	assert.Equal(t, counts[models.EventOrder], counts[models.EventFill])

	// position is flat after the round trip
	assert.Zero(t, s.quantity)
	assert.Positive(t, s.cash)
}

func TestStrategyTradeAccounting(t *testing.T) {
	s := newStrategy("BTCUSDT", models.Timeframe1m)
	events := feedCloses(s, closesWithCross())

	var trade models.TradePayload
	var found bool
	for _, event := range events {
		if event.Type == models.EventTrade {
			trade, found = models.PayloadAs[models.TradePayload](event)
			break
		}
	}
	require.True(t, found)

	assert.Equal(t, "t1", trade.TradeID)
	assert.Positive(t, trade.Quantity)
	assert.Positive(t, trade.HoldBars)
	assert.Greater(t, trade.ExitTimeMs, trade.EntryTimeMs)

	gross := trade.Quantity * trade.ExitPrice
	expected := gross - gross*defaultFeeRate - trade.Quantity*trade.EntryPrice
	assert.InDelta(t, expected, trade.PnL, 1e-9)
}

func TestStrategyNoCrossNoOrders(t *testing.T) {
	s := newStrategy("BTCUSDT", models.Timeframe1m)

	// strictly declining series never crosses up
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	events := feedCloses(s, closes)

	for _, event := range events {
		assert.Equal(t, models.EventEquity, event.Type)
	}
	assert.Zero(t, s.quantity)
	assert.Equal(t, float64(initialCash), s.cash)
}

func TestStrategyFinishLiquidates(t *testing.T) {
	s := newStrategy("BTCUSDT", models.Timeframe1m)

	// decline then rally, stop before the sell cross so a position stays open
	var closes []float64
	price := 100.0
	for i := 0; i < 25; i++ {
		price -= 0.5
		closes = append(closes, price)
	}
	for i := 0; i < 15; i++ {
		price += 3
		closes = append(closes, price)
	}
	feedCloses(s, closes)
	require.Positive(t, s.quantity, "expected an open position before finish")

	events := s.finish(price, int64(len(closes))*s.tf.DurationMs())

	var sawTrade bool
	for _, event := range events {
		if event.Type == models.EventTrade {
			sawTrade = true
		}
	}
	assert.True(t, sawTrade)
	assert.Zero(t, s.quantity)

	// last event is the final equity mark with a flat book
	last := events[len(events)-1]
	require.Equal(t, models.EventEquity, last.Type)
	equity, ok := models.PayloadAs[models.EquityPayload](last)
	require.True(t, ok)
	assert.Zero(t, equity.PositionValue)
	assert.InDelta(t, s.cash, equity.Equity, 1e-9)
}

func TestStrategyFinishFlat(t *testing.T) {
	s := newStrategy("BTCUSDT", models.Timeframe1m)
	events := s.finish(100, 0)

	require.Len(t, events, 1)
	assert.Equal(t, models.EventEquity, events[0].Type)
}
