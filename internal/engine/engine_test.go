package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/market/synthetic"
	"marketsim/internal/models"
	"marketsim/internal/stream"
)

// brokenSource fails every fetch.
type brokenSource struct{}

func (brokenSource) FetchCandles(context.Context, string, models.Timeframe, int64, int64) ([]models.Candle, error) {
	return nil, errors.New("connection refused")
}

// gatedSource signals when a fetch begins and blocks until released, ignoring
// the context the way a purely computational source would.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *gatedSource) FetchCandles(_ context.Context, symbol string, tf models.Timeframe, startMs, endMs int64) ([]models.Candle, error) {
	close(s.entered)
	<-s.release
	return synthetic.NewSynthesizer().FetchCandles(context.Background(), symbol, tf, startMs, endMs)
}

// emptySource serves no candles at all.
type emptySource struct{}

func (emptySource) FetchCandles(context.Context, string, models.Timeframe, int64, int64) ([]models.Candle, error) {
	return []models.Candle{}, nil
}

func unthrottledParams(buckets int64) Params {
	return Params{
		Symbol:      "BTCUSDT",
		Timeframe:   models.Timeframe1m,
		StartTimeMs: 0,
		EndTimeMs:   buckets * models.Timeframe1m.DurationMs(),
	}
}

func waitTerminal(t *testing.T, e *Engine) models.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		session := e.Status()
		if session.Status.Terminal() {
			return session
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session did not reach a terminal state, status=%s", e.Status().Status)
	return models.Session{}
}

func TestNewValidation(t *testing.T) {
	hub := stream.NewHub()
	source := synthetic.NewSynthesizer()

	_, err := New(Params{Symbol: "X", Timeframe: "7m", EndTimeMs: 1000}, source, hub, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTimeframe)

	_, err = New(Params{Symbol: "X", Timeframe: models.Timeframe1m, StartTimeMs: 1000, EndTimeMs: 1000}, source, hub, nil)
	assert.Error(t, err)

	_, err = New(Params{Symbol: "X", Timeframe: models.Timeframe1m, EndTimeMs: 1000, SpeedMultiplier: -1}, source, hub, nil)
	assert.Error(t, err)

	_, err = New(Params{Timeframe: models.Timeframe1m, EndTimeMs: 1000}, source, hub, nil)
	assert.Error(t, err)
}

func TestNewAlignsRange(t *testing.T) {
	hub := stream.NewHub()
	width := models.Timeframe15m.DurationMs()

	e, err := New(Params{
		Symbol:      "BTCUSDT",
		Timeframe:   models.Timeframe15m,
		StartTimeMs: width + 1,
		EndTimeMs:   3*width + 1,
	}, synthetic.NewSynthesizer(), hub, nil)
	require.NoError(t, err)
	defer e.Cleanup()

	session := e.Status()
	assert.Equal(t, width, session.StartTimeMs)
	assert.Equal(t, 4*width, session.EndTimeMs)
	assert.Equal(t, models.SessionStatusCreated, session.Status)
}

func TestUnthrottledRunToCompletion(t *testing.T) {
	hub := stream.NewHub()
	e, err := New(unthrottledParams(60), synthetic.NewSynthesizer(), hub, nil)
	require.NoError(t, err)
	defer e.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := hub.Subscribe(ctx, e.Status().ID, 0)
	require.NoError(t, err)

	require.NoError(t, e.Start())
	session := waitTerminal(t, e)
	assert.Equal(t, models.SessionStatusFinished, session.Status)
	assert.InDelta(t, 1.0, session.Progress, 1e-9)

	var candles, statuses int
	var lastSeq uint64
	var finalStatus models.StatusPayload
	for event := range ch {
		require.Equal(t, lastSeq+1, event.Seq, "sequence gap")
		lastSeq = event.Seq
		switch event.Type {
		case models.EventCandle:
			candles++
		case models.EventStatus:
			statuses++
			p, ok := models.PayloadAs[models.StatusPayload](event)
			require.True(t, ok)
			finalStatus = p
		}
	}

	assert.Equal(t, 60, candles)
	assert.Equal(t, 2, statuses) // running, finished
	assert.Equal(t, models.SessionStatusFinished, finalStatus.Status)
	assert.Equal(t, session.LastSeq, lastSeq)
}

func TestStrategyEventsEmitted(t *testing.T) {
	hub := stream.NewHub()
	// long enough for SMA windows to fill and cross at least once
	e, err := New(unthrottledParams(500), synthetic.NewSynthesizer(), hub, nil)
	require.NoError(t, err)
	defer e.Cleanup()

	require.NoError(t, e.Start())
	session := waitTerminal(t, e)
	require.Equal(t, models.SessionStatusFinished, session.Status)

	events, err := hub.Events(session.ID, 0)
	require.NoError(t, err)

	counts := map[models.EventType]int{}
	for _, event := range events {
		counts[event.Type]++
	}
	assert.NotZero(t, counts[models.EventEquity])
	assert.NotZero(t, counts[models.EventSignal])
	assert.Equal(t, counts[models.EventOrder], counts[models.EventFill])
}

func TestStartFailsOnBrokenSource(t *testing.T) {
	hub := stream.NewHub()
	e, err := New(unthrottledParams(10), brokenSource{}, hub, nil)
	require.NoError(t, err)
	defer e.Cleanup()

	err = e.Start()
	require.Error(t, err)

	session := e.Status()
	assert.Equal(t, models.SessionStatusFailed, session.Status)

	// the error event and the terminal status stay readable
	events, readErr := hub.Events(session.ID, 0)
	require.NoError(t, readErr)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventError, events[0].Type)
	assert.Equal(t, models.EventStatus, events[1].Type)
}

func TestStartFailsOnEmptyRange(t *testing.T) {
	hub := stream.NewHub()
	e, err := New(unthrottledParams(10), emptySource{}, hub, nil)
	require.NoError(t, err)
	defer e.Cleanup()

	require.Error(t, e.Start())
	assert.Equal(t, models.SessionStatusFailed, e.Status().Status)
}

func TestLifecycleTransitions(t *testing.T) {
	hub := stream.NewHub()
	params := unthrottledParams(100)
	params.SpeedMultiplier = 1 // slow enough that the run never finishes mid-test
	e, err := New(params, synthetic.NewSynthesizer(), hub, nil)
	require.NoError(t, err)
	defer e.Cleanup()

	// created: only start is legal
	assert.ErrorIs(t, e.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, e.Resume(), ErrInvalidTransition)

	require.NoError(t, e.Start())
	assert.Equal(t, models.SessionStatusRunning, e.Status().Status)
	assert.ErrorIs(t, e.Start(), ErrInvalidTransition)
	assert.ErrorIs(t, e.Resume(), ErrInvalidTransition)

	require.NoError(t, e.Pause())
	assert.Equal(t, models.SessionStatusPaused, e.Status().Status)
	assert.ErrorIs(t, e.Pause(), ErrInvalidTransition)

	require.NoError(t, e.Resume())
	assert.Equal(t, models.SessionStatusRunning, e.Status().Status)

	require.NoError(t, e.Stop())
	assert.Equal(t, models.SessionStatusStopped, e.Status().Status)

	// terminal: everything is rejected
	assert.ErrorIs(t, e.Pause(), ErrTerminalState)
	assert.ErrorIs(t, e.Resume(), ErrTerminalState)
	assert.ErrorIs(t, e.Stop(), ErrTerminalState)
	assert.ErrorIs(t, e.Start(), ErrInvalidTransition)
}

func TestStopDuringInitialLoadStaysStopped(t *testing.T) {
	hub := stream.NewHub()
	source := newGatedSource()
	e, err := New(unthrottledParams(10), source, hub, nil)
	require.NoError(t, err)
	defer e.Cleanup()

	startErr := make(chan error, 1)
	go func() { startErr <- e.Start() }()

	// stop while the initial load is in flight
	<-source.entered
	require.NoError(t, e.Stop())
	close(source.release)

	select {
	case err := <-startErr:
		assert.ErrorIs(t, err, ErrTerminalState)
	case <-time.After(5 * time.Second):
		t.Fatal("start did not return")
	}
	assert.Equal(t, models.SessionStatusStopped, e.Status().Status)

	// the terminal status event is the last entry of the log
	events, err := hub.Events(e.Status().ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, models.EventStatus, last.Type)
	status, ok := models.PayloadAs[models.StatusPayload](last)
	require.True(t, ok)
	assert.Equal(t, models.SessionStatusStopped, status.Status)
}

func TestManagerLifecycle(t *testing.T) {
	hub := stream.NewHub()
	m := NewManager(synthetic.NewSynthesizer(), hub, nil)

	session, err := m.Create(unthrottledParams(20))
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCreated, session.Status)

	listed := m.List()
	require.Len(t, listed, 1)
	assert.Equal(t, session.ID, listed[0].ID)

	require.NoError(t, m.Start(session.ID))
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s, err := m.Status(session.ID)
		require.NoError(t, err)
		if s.Status.Terminal() {
			assert.Equal(t, models.SessionStatusFinished, s.Status)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, m.Delete(session.ID))
	_, err = m.Status(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Delete(session.ID), ErrSessionNotFound)

	// unknown ids everywhere
	assert.ErrorIs(t, m.Start("nope"), ErrSessionNotFound)
	assert.ErrorIs(t, m.Pause("nope"), ErrSessionNotFound)
	assert.ErrorIs(t, m.Resume("nope"), ErrSessionNotFound)
	assert.ErrorIs(t, m.Stop("nope"), ErrSessionNotFound)
}

func TestManagerShutdownStopsActiveSessions(t *testing.T) {
	hub := stream.NewHub()
	m := NewManager(synthetic.NewSynthesizer(), hub, nil)

	params := unthrottledParams(100)
	params.SpeedMultiplier = 1
	session, err := m.Create(params)
	require.NoError(t, err)
	require.NoError(t, m.Start(session.ID))

	m.Shutdown()

	s, err := m.Status(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, s.Status)
}
