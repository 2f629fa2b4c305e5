package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketsim/internal/dao"
	"marketsim/internal/market"
	"marketsim/internal/models"
	"marketsim/internal/stream"
)

var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrTerminalState     = errors.New("session is in a terminal state")
)

const (
	// real-time tick resolution of the virtual clock
	tickInterval = 200 * time.Millisecond
	// buckets fetched from the source per chunk
	chunkBuckets = 1000
	// fraction of the buffer consumed before the next chunk loads
	loadThreshold = 0.8
	// max candles kept in memory
	maxBufferSize = 5000
)

// Params describe one session to run.
type Params struct {
	Symbol          string
	Timeframe       models.Timeframe
	StartTimeMs     int64
	EndTimeMs       int64
	SpeedMultiplier int // market-seconds per real second; 0 replays unthrottled
}

// Engine owns the lifecycle of one simulation session: it advances a virtual
// clock at the configured speed, pulls due candles from its source, runs the
// strategy evaluator and publishes sequenced events to the stream hub. One
// engine is one logical timeline; its state is never mutated concurrently.
type Engine struct {
	mu      sync.RWMutex
	session models.Session

	source     market.Source
	hub        *stream.Hub
	sessionDAO dao.SessionDAOInterface // optional; nil skips persistence

	strat     *strategy
	buffer    []models.Candle
	idx       int
	processed int64
	total     int64
	simTimeMs int64
	cursorMs  int64
	lastClose float64

	starting     bool
	isLoading    bool
	noMoreData   bool
	dataLoadChan chan error

	stopChan chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// New validates the parameters and creates a session in the created state.
// The clock does not run until Start.
func New(params Params, source market.Source, hub *stream.Hub, sessionDAO dao.SessionDAOInterface) (*Engine, error) {
	width := params.Timeframe.DurationMs()
	if width == 0 {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidTimeframe, params.Timeframe)
	}
	if params.EndTimeMs <= params.StartTimeMs {
		return nil, fmt.Errorf("end time %d not after start time %d", params.EndTimeMs, params.StartTimeMs)
	}
	if params.SpeedMultiplier < 0 {
		return nil, fmt.Errorf("invalid speed multiplier: %d", params.SpeedMultiplier)
	}
	if params.Symbol == "" {
		return nil, errors.New("symbol is required")
	}

	startMs := params.Timeframe.AlignMs(params.StartTimeMs)
	endMs := params.Timeframe.AlignMs(params.EndTimeMs)
	if endMs < params.EndTimeMs {
		endMs += width
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		session: models.Session{
			ID:              uuid.NewString(),
			Symbol:          params.Symbol,
			Timeframe:       params.Timeframe,
			StartTimeMs:     startMs,
			EndTimeMs:       endMs,
			SpeedMultiplier: params.SpeedMultiplier,
			Status:          models.SessionStatusCreated,
		},
		source:       source,
		hub:          hub,
		sessionDAO:   sessionDAO,
		strat:        newStrategy(params.Symbol, params.Timeframe),
		total:        (endMs - startMs) / width,
		simTimeMs:    startMs,
		cursorMs:     startMs,
		dataLoadChan: make(chan error, 1),
		stopChan:     make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}

	hub.Register(e.session.ID)
	if sessionDAO != nil {
		record := e.session
		if err := sessionDAO.Create(&record); err != nil {
			cancel()
			hub.Remove(e.session.ID)
			return nil, err
		}
	}
	return e, nil
}

// Start begins the session clock. Valid only from the created state.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.starting || e.session.Status != models.SessionStatusCreated {
		status := e.session.Status
		e.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, status)
	}
	e.starting = true
	e.mu.Unlock()

	// load the first chunk before running so a dead source fails the start
	err := e.loadChunk(e.ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.starting = false
	// Stop may have won the race while the lock was released for the load;
	// a terminal session must never come back to life.
	if e.session.Status != models.SessionStatusCreated {
		return fmt.Errorf("%w: session is %s", ErrTerminalState, e.session.Status)
	}
	if err != nil {
		e.failLocked(err)
		return fmt.Errorf("failed to load initial candles: %w", err)
	}
	if len(e.buffer) == 0 {
		err := errors.New("no candles available for session range")
		e.failLocked(err)
		return err
	}

	e.setStatusLocked(models.SessionStatusRunning, "session started")
	go e.run()
	return nil
}

// Pause suspends the clock. Valid only while running.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status.Terminal() {
		return ErrTerminalState
	}
	if e.session.Status != models.SessionStatusRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, e.session.Status)
	}
	e.setStatusLocked(models.SessionStatusPaused, "session paused")
	return nil
}

// Resume restarts a paused clock.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status.Terminal() {
		return ErrTerminalState
	}
	if e.session.Status != models.SessionStatusPaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, e.session.Status)
	}
	e.setStatusLocked(models.SessionStatusRunning, "session resumed")
	return nil
}

// Stop moves any active state to stopped, a terminal state.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status.Terminal() {
		return ErrTerminalState
	}
	e.setStatusLocked(models.SessionStatusStopped, "session stopped")
	e.cancel()
	select {
	case e.stopChan <- struct{}{}:
	default:
	}
	return nil
}

// Status returns a snapshot of the session.
func (e *Engine) Status() models.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// Cleanup cancels the engine's goroutine. Called when the owning registry
// drops the session.
func (e *Engine) Cleanup() {
	e.cancel()
	select {
	case e.stopChan <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	if e.session.SpeedMultiplier == 0 {
		e.runUnthrottled()
		return
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.mu.Lock()
			if e.session.Status == models.SessionStatusRunning {
				e.checkLoadNeeded()
				done := e.advanceClock()
				if done {
					e.mu.Unlock()
					return
				}
			}
			e.mu.Unlock()

		case err := <-e.dataLoadChan:
			e.mu.Lock()
			if err != nil && e.session.Status.Active() {
				e.failLocked(err)
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()

		case <-e.stopChan:
			return
		case <-e.ctx.Done():
			return
		}
	}
}

// runUnthrottled replays the whole range as fast as events can be produced,
// used for non-real-time replays.
func (e *Engine) runUnthrottled() {
	for {
		select {
		case <-e.stopChan:
			return
		case <-e.ctx.Done():
			return
		default:
		}

		e.mu.Lock()
		if e.session.Status != models.SessionStatusRunning {
			if e.session.Status.Terminal() {
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			continue
		}

		e.simTimeMs = e.session.EndTimeMs
		if e.idx >= len(e.buffer) {
			if e.cursorMs >= e.session.EndTimeMs || e.noMoreData {
				e.finishLocked()
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			if err := e.loadChunk(e.ctx); err != nil {
				e.mu.Lock()
				e.failLocked(err)
				e.mu.Unlock()
				return
			}
			continue
		}
		e.processCandleLocked(e.buffer[e.idx])
		e.idx++
		e.mu.Unlock()
	}
}

// advanceClock moves the virtual clock one tick and emits every candle whose
// bucket has fully elapsed. Returns true when the session reached a terminal
// state. Caller holds the lock.
func (e *Engine) advanceClock() bool {
	marketMsPerTick := int64(e.session.SpeedMultiplier) * 1000 * tickInterval.Milliseconds() / 1000
	e.simTimeMs += marketMsPerTick
	if e.simTimeMs > e.session.EndTimeMs {
		e.simTimeMs = e.session.EndTimeMs
	}

	width := e.session.Timeframe.DurationMs()
	for e.idx < len(e.buffer) {
		candle := e.buffer[e.idx]
		if candle.TimestampMs+width > e.simTimeMs {
			break
		}
		e.processCandleLocked(candle)
		e.idx++
	}

	if e.idx >= len(e.buffer) {
		if e.cursorMs >= e.session.EndTimeMs || e.noMoreData {
			if e.simTimeMs >= e.session.EndTimeMs {
				e.finishLocked()
				return true
			}
		}
		// otherwise a chunk load is in flight or about to be triggered
	}
	return false
}

// processCandleLocked emits the candle event and whatever the strategy
// produced for it. Caller holds the lock.
func (e *Engine) processCandleLocked(candle models.Candle) {
	e.processed++
	e.lastClose = candle.Close
	e.session.Progress = float64(e.processed) / float64(e.total)

	e.publishLocked(models.Event{
		Type:        models.EventCandle,
		TimestampMs: candle.TimestampMs,
		Payload: models.CandlePayload{
			Symbol:    e.session.Symbol,
			Timeframe: e.session.Timeframe,
			Candle:    candle,
		},
	})
	for _, event := range e.strat.onCandle(candle) {
		e.publishLocked(event)
	}
}

// nextChunkLocked computes the next fetch window. Caller holds the lock.
func (e *Engine) nextChunkLocked() (int64, int64, bool) {
	width := e.session.Timeframe.DurationMs()
	chunkEnd := e.cursorMs + chunkBuckets*width
	if chunkEnd > e.session.EndTimeMs {
		chunkEnd = e.session.EndTimeMs
	}
	if chunkEnd <= e.cursorMs {
		e.noMoreData = true
		return 0, 0, false
	}
	return e.cursorMs, chunkEnd, true
}

// applyChunkLocked merges a fetched chunk into the buffer. Caller holds the lock.
func (e *Engine) applyChunkLocked(chunkEnd int64, candles []models.Candle) {
	e.cursorMs = chunkEnd
	if len(candles) == 0 {
		if e.cursorMs >= e.session.EndTimeMs {
			e.noMoreData = true
		}
		return
	}
	e.buffer = append(e.buffer, candles...)
	e.trimBufferLocked()
}

// loadChunk fetches the next candle chunk. The lock is released across the
// network call so control operations never wait on the provider.
func (e *Engine) loadChunk(ctx context.Context) error {
	e.mu.Lock()
	startMs, chunkEnd, ok := e.nextChunkLocked()
	e.mu.Unlock()
	if !ok {
		return nil
	}

	candles, err := e.source.FetchCandles(ctx, e.session.Symbol, e.session.Timeframe, startMs, chunkEnd)
	if err != nil {
		return fmt.Errorf("candle source: %w", err)
	}

	e.mu.Lock()
	e.applyChunkLocked(chunkEnd, candles)
	e.mu.Unlock()

	slog.Debug("loaded candle chunk",
		"session", e.session.ID, "candles", len(candles), "cursor", chunkEnd)
	return nil
}

// checkLoadNeeded triggers a background chunk load when the buffer is mostly
// consumed, so fetch latency never stalls the clock. Caller holds the lock.
func (e *Engine) checkLoadNeeded() {
	if e.isLoading || e.noMoreData || e.cursorMs >= e.session.EndTimeMs {
		return
	}
	if len(e.buffer) == 0 {
		return
	}
	if float64(e.idx)/float64(len(e.buffer)) < loadThreshold {
		return
	}

	e.isLoading = true
	go func() {
		err := e.loadChunk(e.ctx)

		e.mu.Lock()
		e.isLoading = false
		e.mu.Unlock()

		select {
		case e.dataLoadChan <- err:
		default:
		}
	}()
}

// trimBufferLocked drops already-processed candles beyond the buffer cap.
func (e *Engine) trimBufferLocked() {
	if len(e.buffer) <= maxBufferSize {
		return
	}
	remove := len(e.buffer) - maxBufferSize
	if remove > e.idx {
		remove = e.idx
	}
	if remove > 0 {
		e.buffer = e.buffer[remove:]
		e.idx -= remove
	}
}

func (e *Engine) finishLocked() {
	if e.session.Status.Terminal() {
		return
	}
	for _, event := range e.strat.finish(e.lastClose, e.session.EndTimeMs) {
		e.publishLocked(event)
	}
	e.setStatusLocked(models.SessionStatusFinished, "session finished")
}

// failLocked transitions to the terminal failed state. Events published so
// far are retained and stay readable.
func (e *Engine) failLocked(cause error) {
	if e.session.Status.Terminal() {
		return
	}
	slog.Error("session failed", "session", e.session.ID, "error", cause)
	e.publishLocked(models.Event{
		Type:        models.EventError,
		TimestampMs: e.simTimeMs,
		Payload:     models.ErrorPayload{Message: cause.Error()},
	})
	e.setStatusLocked(models.SessionStatusFailed, cause.Error())
}

// setStatusLocked applies a status transition, publishes the status event and
// persists the record. A terminal status closes the session's event stream.
func (e *Engine) setStatusLocked(status models.SessionStatus, message string) {
	e.session.Status = status
	e.publishLocked(models.Event{
		Type:        models.EventStatus,
		TimestampMs: e.simTimeMs,
		Payload: models.StatusPayload{
			Status:   status,
			Progress: e.session.Progress,
			Message:  message,
		},
	})

	if e.sessionDAO != nil {
		if err := e.sessionDAO.UpdateStatus(e.session.ID, status, e.session.LastSeq, e.session.Progress); err != nil {
			slog.Warn("failed to persist session status",
				"session", e.session.ID, "status", status, "error", err)
		}
	}
	slog.Info("session status", "session", e.session.ID, "status", status, "progress", e.session.Progress)
}

func (e *Engine) publishLocked(event models.Event) {
	seq, err := e.hub.Publish(e.session.ID, event)
	if err != nil {
		slog.Warn("failed to publish event", "session", e.session.ID, "error", err)
		return
	}
	e.session.LastSeq = seq
}
