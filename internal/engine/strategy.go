package engine

import (
	"fmt"

	"marketsim/internal/models"
)

const (
	defaultFeeRate   = 0.001 // 0.1% flat rate
	fastWindow       = 5
	slowWindow       = 20
	equityEveryNBars = 10
	initialCash      = 10000
)

// strategy is a simple moving-average cross evaluator run against the
// accumulating candle window. It is long-only: a fast-over-slow cross buys
// with all available cash, the opposite cross closes the position and emits
// a trade round trip.
type strategy struct {
	symbol string
	tf     models.Timeframe

	closes []float64
	bar    int

	cash       float64
	quantity   float64
	entryPrice float64
	entryTime  int64
	entryBar   int

	orderSeq int
	tradeSeq int
}

func newStrategy(symbol string, tf models.Timeframe) *strategy {
	return &strategy{
		symbol: symbol,
		tf:     tf,
		cash:   initialCash,
	}
}

// onCandle evaluates one closed candle and returns the events it produced,
// in emit order, without sequence numbers (the stream assigns those).
func (s *strategy) onCandle(c models.Candle) []models.Event {
	s.bar++
	s.closes = append(s.closes, c.Close)
	if len(s.closes) > slowWindow+1 {
		s.closes = s.closes[1:]
	}

	closeTime := c.TimestampMs + s.tf.DurationMs()
	var events []models.Event

	if crossed, action := s.cross(); crossed {
		switch action {
		case models.SignalBuy:
			if s.quantity == 0 {
				events = append(events, s.openPosition(c, closeTime)...)
			}
		case models.SignalSell:
			if s.quantity > 0 {
				events = append(events, s.closePosition(c, closeTime)...)
			}
		}
	}

	if s.bar%equityEveryNBars == 0 {
		events = append(events, s.equityEvent(c.Close, closeTime))
	}
	return events
}

// finish liquidates any open position at the last seen price so every
// session ends with a flat book and a final equity mark.
func (s *strategy) finish(lastClose float64, atMs int64) []models.Event {
	var events []models.Event
	if s.quantity > 0 {
		events = append(events, s.closeAt(lastClose, atMs, "session end")...)
	}
	events = append(events, s.equityEvent(lastClose, atMs))
	return events
}

// cross detects a fast/slow SMA crossover on the most recent bar.
func (s *strategy) cross() (bool, models.SignalAction) {
	if len(s.closes) < slowWindow+1 {
		return false, ""
	}
	prevFast := sma(s.closes[:len(s.closes)-1], fastWindow)
	prevSlow := sma(s.closes[:len(s.closes)-1], slowWindow)
	currFast := sma(s.closes, fastWindow)
	currSlow := sma(s.closes, slowWindow)

	if prevFast <= prevSlow && currFast > currSlow {
		return true, models.SignalBuy
	}
	if prevFast >= prevSlow && currFast < currSlow {
		return true, models.SignalSell
	}
	return false, ""
}

func (s *strategy) openPosition(c models.Candle, atMs int64) []models.Event {
	price := c.Close
	fee := s.cash * defaultFeeRate
	quantity := (s.cash - fee) / price
	if quantity <= 0 {
		return nil
	}

	s.orderSeq++
	orderID := fmt.Sprintf("o%d", s.orderSeq)

	s.cash = 0
	s.quantity = quantity
	s.entryPrice = price
	s.entryTime = atMs
	s.entryBar = s.bar

	return []models.Event{
		{Type: models.EventSignal, TimestampMs: atMs, Payload: models.SignalPayload{
			Symbol: s.symbol, Action: models.SignalBuy, Price: price, Reason: "sma cross up",
		}},
		{Type: models.EventOrder, TimestampMs: atMs, Payload: models.OrderPayload{
			OrderID: orderID, Symbol: s.symbol, Side: models.OrderSideBuy, Quantity: quantity, Price: price,
		}},
		{Type: models.EventFill, TimestampMs: atMs, Payload: models.FillPayload{
			OrderID: orderID, Symbol: s.symbol, Side: models.OrderSideBuy, Quantity: quantity, Price: price, Fee: fee,
		}},
		s.equityEvent(price, atMs),
	}
}

func (s *strategy) closePosition(c models.Candle, atMs int64) []models.Event {
	events := []models.Event{
		{Type: models.EventSignal, TimestampMs: atMs, Payload: models.SignalPayload{
			Symbol: s.symbol, Action: models.SignalSell, Price: c.Close, Reason: "sma cross down",
		}},
	}
	return append(events, s.closeAt(c.Close, atMs, "sma cross down")...)
}

func (s *strategy) closeAt(price float64, atMs int64, _ string) []models.Event {
	quantity := s.quantity
	gross := quantity * price
	fee := gross * defaultFeeRate
	proceeds := gross - fee
	pnl := proceeds - quantity*s.entryPrice

	s.orderSeq++
	s.tradeSeq++
	orderID := fmt.Sprintf("o%d", s.orderSeq)
	tradeID := fmt.Sprintf("t%d", s.tradeSeq)
	holdBars := s.bar - s.entryBar

	events := []models.Event{
		{Type: models.EventOrder, TimestampMs: atMs, Payload: models.OrderPayload{
			OrderID: orderID, Symbol: s.symbol, Side: models.OrderSideSell, Quantity: quantity, Price: price,
		}},
		{Type: models.EventFill, TimestampMs: atMs, Payload: models.FillPayload{
			OrderID: orderID, Symbol: s.symbol, Side: models.OrderSideSell, Quantity: quantity, Price: price, Fee: fee,
		}},
		{Type: models.EventTrade, TimestampMs: atMs, Payload: models.TradePayload{
			TradeID:     tradeID,
			Symbol:      s.symbol,
			Quantity:    quantity,
			EntryPrice:  s.entryPrice,
			ExitPrice:   price,
			PnL:         pnl,
			EntryTimeMs: s.entryTime,
			ExitTimeMs:  atMs,
			HoldBars:    holdBars,
		}},
	}

	s.cash += proceeds
	s.quantity = 0
	s.entryPrice = 0
	s.entryTime = 0

	return append(events, s.equityEvent(price, atMs))
}

func (s *strategy) equityEvent(price float64, atMs int64) models.Event {
	positionValue := s.quantity * price
	return models.Event{
		Type:        models.EventEquity,
		TimestampMs: atMs,
		Payload: models.EquityPayload{
			Cash:          s.cash,
			PositionValue: positionValue,
			Equity:        s.cash + positionValue,
		},
	}
}

func sma(values []float64, window int) float64 {
	if len(values) < window {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return sum / float64(window)
}
