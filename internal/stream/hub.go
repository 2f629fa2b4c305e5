package stream

import (
	"context"
	"errors"
	"sync"

	"marketsim/internal/models"
)

var ErrSessionUnknown = errors.New("unknown session")

// subscriberBuffer is the per-subscriber channel capacity. Slow consumers
// apply backpressure to their own delivery goroutine, never to the publisher
// or to other subscribers.
const subscriberBuffer = 256

// Hub sequences and publishes session events. Each session owns an
// append-only event log; sequence numbers are assigned on publish and are
// strictly increasing with no gaps. Any number of subscribers can read the
// same log concurrently, each tracking its own cursor.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*sessionLog
}

type sessionLog struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []models.Event
	done   bool
}

func newSessionLog() *sessionLog {
	l := &sessionLog{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*sessionLog)}
}

// Register creates the event log for a session. Idempotent.
func (h *Hub) Register(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sessionID]; !ok {
		h.sessions[sessionID] = newSessionLog()
	}
}

// Remove drops a session's log and wakes all its subscribers. Used when the
// owning application deletes a session; this is the hard reset across which
// resumability is not preserved.
func (h *Hub) Remove(sessionID string) {
	h.mu.Lock()
	l, ok := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	if !ok {
		return
	}
	l.mu.Lock()
	l.done = true
	l.mu.Unlock()
	l.cond.Broadcast()
}

// Publish appends an event to the session's log, assigns its sequence number
// and returns it. Publishing a terminal status event closes the log: it is
// delivered to subscribers and then their streams end.
func (h *Hub) Publish(sessionID string, event models.Event) (uint64, error) {
	h.mu.RLock()
	l, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return 0, ErrSessionUnknown
	}

	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return 0, ErrSessionUnknown
	}
	event.Seq = uint64(len(l.events)) + 1
	l.events = append(l.events, event)
	if event.Type == models.EventStatus {
		if p, ok := models.PayloadAs[models.StatusPayload](event); ok && p.Status.Terminal() {
			l.done = true
		}
	}
	seq := event.Seq
	l.mu.Unlock()
	l.cond.Broadcast()
	return seq, nil
}

// LastSeq returns the highest sequence number assigned so far.
func (h *Hub) LastSeq(sessionID string) (uint64, error) {
	h.mu.RLock()
	l, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return 0, ErrSessionUnknown
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.events)), nil
}

// Events returns a snapshot of the events with seq > fromSeq. Remains
// readable after the session reaches a terminal state.
func (h *Hub) Events(sessionID string, fromSeq uint64) ([]models.Event, error) {
	h.mu.RLock()
	l, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return nil, ErrSessionUnknown
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if fromSeq >= uint64(len(l.events)) {
		return []models.Event{}, nil
	}
	tail := l.events[fromSeq:]
	out := make([]models.Event, len(tail))
	copy(out, tail)
	return out, nil
}

// Subscribe streams every event with seq > fromSeq, existing and future, in
// strictly increasing order until the session's log closes or ctx is
// cancelled. The returned channel is closed when the stream ends.
func (h *Hub) Subscribe(ctx context.Context, sessionID string, fromSeq uint64) (<-chan models.Event, error) {
	h.mu.RLock()
	l, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return nil, ErrSessionUnknown
	}

	ch := make(chan models.Event, subscriberBuffer)

	// wake the delivery goroutine out of cond.Wait on cancellation
	stop := context.AfterFunc(ctx, func() { l.cond.Broadcast() })

	go func() {
		defer stop()
		defer close(ch)
		cursor := fromSeq
		for {
			l.mu.Lock()
			for cursor >= uint64(len(l.events)) && !l.done && ctx.Err() == nil {
				l.cond.Wait()
			}
			if ctx.Err() != nil {
				l.mu.Unlock()
				return
			}
			if cursor >= uint64(len(l.events)) {
				// log closed and fully drained
				l.mu.Unlock()
				return
			}
			event := l.events[cursor]
			l.mu.Unlock()

			select {
			case ch <- event:
				cursor++
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
