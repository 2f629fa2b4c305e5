package stream

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"marketsim/internal/models"
)

// ClientState is the streaming client's connection state.
type ClientState string

const (
	StateConnecting   ClientState = "connecting"
	StateConnected    ClientState = "connected"
	StateDisconnected ClientState = "disconnected"
	StateReconnecting ClientState = "reconnecting"
)

// Subscriber opens a resumable event subscription. The in-process Hub
// implements it directly; remote transports implement it over SSE or
// WebSocket.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string, fromSeq uint64) (<-chan models.Event, error)
}

// TradeMarker is a chart annotation derived from a trade event: an entry and
// exit point positioned at computed bar offsets.
type TradeMarker struct {
	TradeID     string  `json:"tradeId"`
	EntryTimeMs int64   `json:"entryTimeMs"`
	ExitTimeMs  int64   `json:"exitTimeMs"`
	EntryPrice  float64 `json:"entryPrice"`
	ExitPrice   float64 `json:"exitPrice"`
	PnL         float64 `json:"pnl"`
}

type ClientConfig struct {
	SessionID      string
	Timeframe      models.Timeframe
	WindowSize     int           // max candles kept in the rolling window
	MaxMarkers     int           // max trade markers kept, oldest dropped first
	ReconnectDelay time.Duration // fixed delay between reconnect attempts
	MaxReconnects  int           // consecutive failed reconnects before giving up
}

func (c *ClientConfig) applyDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = 500
	}
	if c.MaxMarkers <= 0 {
		c.MaxMarkers = 100
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
}

// Client consumes a session's event stream, merges candles into a bounded
// rolling window and reconnects transparently on disconnect. The lastSeq
// cursor carried across reconnects guarantees no event is processed twice
// and none is skipped. At most one subscription is active at a time.
type Client struct {
	cfg ClientConfig
	sub Subscriber

	mu            sync.RWMutex
	state         ClientState
	lastSeq       uint64
	window        []models.Candle
	markers       []TradeMarker
	sessionStatus models.SessionStatus
	lastEquity    models.EquityPayload
}

func NewClient(sub Subscriber, cfg ClientConfig) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:   cfg,
		sub:   sub,
		state: StateDisconnected,
	}
}

// Run drives the subscription until the session reaches a terminal state,
// the reconnect budget is exhausted, or ctx is cancelled. It blocks; run it
// on its own goroutine when the caller needs to keep working.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	first := true
	for {
		if first {
			c.setState(StateConnecting)
			first = false
		} else {
			c.setState(StateReconnecting)
		}

		ch, err := c.sub.Subscribe(ctx, c.cfg.SessionID, c.LastSeq())
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return ctx.Err()
			}
			attempts++
			if attempts > c.cfg.MaxReconnects {
				slog.Warn("reconnect budget exhausted",
					"session", c.cfg.SessionID, "attempts", attempts-1)
				c.setState(StateDisconnected)
				return err
			}
			if err := c.sleep(ctx); err != nil {
				c.setState(StateDisconnected)
				return err
			}
			continue
		}

		c.setState(StateConnected)
		attempts = 0

		for event := range ch {
			c.handle(event)
		}

		// stream ended: terminal session, lost connection, or cancellation
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		if c.SessionStatus().Terminal() {
			c.setState(StateDisconnected)
			return nil
		}

		attempts++
		if attempts > c.cfg.MaxReconnects {
			slog.Warn("reconnect budget exhausted",
				"session", c.cfg.SessionID, "attempts", attempts-1)
			c.setState(StateDisconnected)
			return nil
		}
		if err := c.sleep(ctx); err != nil {
			c.setState(StateDisconnected)
			return err
		}
	}
}

func (c *Client) sleep(ctx context.Context) error {
	select {
	case <-time.After(c.cfg.ReconnectDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) handle(event models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// idempotent merge: skip anything at or below the cursor
	if event.Seq <= c.lastSeq {
		return
	}
	c.lastSeq = event.Seq

	switch event.Type {
	case models.EventCandle:
		if p, ok := models.PayloadAs[models.CandlePayload](event); ok {
			c.upsertCandle(p.Candle)
		}
	case models.EventTrade:
		if p, ok := models.PayloadAs[models.TradePayload](event); ok {
			c.addMarker(p)
		}
	case models.EventEquity:
		if p, ok := models.PayloadAs[models.EquityPayload](event); ok {
			c.lastEquity = p
		}
	case models.EventStatus:
		if p, ok := models.PayloadAs[models.StatusPayload](event); ok {
			c.sessionStatus = p.Status
		}
	}
}

// upsertCandle merges a candle into the window: same timestamp as the last
// entry replaces it in place (the bucket is still live), strictly newer
// appends, older/out-of-order inserts at its sorted position. The window is
// then truncated to the configured maximum, dropping oldest first.
func (c *Client) upsertCandle(candle models.Candle) {
	n := len(c.window)
	switch {
	case n == 0 || candle.TimestampMs > c.window[n-1].TimestampMs:
		c.window = append(c.window, candle)
	case candle.TimestampMs == c.window[n-1].TimestampMs:
		c.window[n-1] = candle
	default:
		i := sort.Search(n, func(j int) bool {
			return c.window[j].TimestampMs >= candle.TimestampMs
		})
		if i < n && c.window[i].TimestampMs == candle.TimestampMs {
			c.window[i] = candle
		} else {
			c.window = append(c.window, models.Candle{})
			copy(c.window[i+1:], c.window[i:])
			c.window[i] = candle
		}
	}
	if len(c.window) > c.cfg.WindowSize {
		c.window = c.window[len(c.window)-c.cfg.WindowSize:]
	}
}

func (c *Client) addMarker(trade models.TradePayload) {
	entry := trade.EntryTimeMs
	if entry == 0 && trade.HoldBars > 0 {
		entry = trade.ExitTimeMs - int64(trade.HoldBars)*c.cfg.Timeframe.DurationMs()
	}
	c.markers = append(c.markers, TradeMarker{
		TradeID:     trade.TradeID,
		EntryTimeMs: entry,
		ExitTimeMs:  trade.ExitTimeMs,
		EntryPrice:  trade.EntryPrice,
		ExitPrice:   trade.ExitPrice,
		PnL:         trade.PnL,
	})
	if len(c.markers) > c.cfg.MaxMarkers {
		c.markers = c.markers[len(c.markers)-c.cfg.MaxMarkers:]
	}
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) LastSeq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeq
}

func (c *Client) SessionStatus() models.SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionStatus
}

// Window returns a copy of the rolling candle window, oldest first.
func (c *Client) Window() []models.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Candle, len(c.window))
	copy(out, c.window)
	return out
}

// Markers returns a copy of the trade markers, oldest first.
func (c *Client) Markers() []TradeMarker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TradeMarker, len(c.markers))
	copy(out, c.markers)
	return out
}

func (c *Client) Equity() models.EquityPayload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastEquity
}
