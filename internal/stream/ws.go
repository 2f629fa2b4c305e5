package stream

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"

	"marketsim/internal/models"
)

// WebSocketSubscriber implements Subscriber over a server's WebSocket stream
// endpoint. Each Subscribe call dials a fresh connection; the Client's
// reconnect loop handles redials.
type WebSocketSubscriber struct {
	baseURL string // e.g. ws://localhost:8080
	dialer  *websocket.Dialer
}

func NewWebSocketSubscriber(baseURL string) *WebSocketSubscriber {
	return &WebSocketSubscriber{
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
	}
}

func (s *WebSocketSubscriber) Subscribe(ctx context.Context, sessionID string, fromSeq uint64) (<-chan models.Event, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream base url: %w", err)
	}
	u.Path = fmt.Sprintf("/api/v1/sessions/%s/ws", sessionID)
	q := u.Query()
	q.Set("fromSeq", strconv.FormatUint(fromSeq, 10))
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	ch := make(chan models.Event, 256)
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			var event models.Event
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			select {
			case ch <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return ch, nil
}
