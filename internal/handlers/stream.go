package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"marketsim/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamHandler exposes a session's event log over SSE and WebSocket. Both
// transports deliver the same sequenced records and accept a fromSeq cursor
// for gap-free resumption.
type StreamHandler struct {
	hub *stream.Hub
}

func NewStreamHandler(hub *stream.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// StreamSSE handles GET /api/v1/sessions/:id/stream?fromSeq=N. The stream
// stays open until the session reaches a terminal state or the client goes
// away.
func (h *StreamHandler) StreamSSE(c *gin.Context) {
	sessionID := c.Param("id")
	fromSeq := parseFromSeq(c)

	ch, err := h.hub.Subscribe(c.Request.Context(), sessionID, fromSeq)
	if err != nil {
		if errors.Is(err, stream.ErrSessionUnknown) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		event, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent(string(event.Type), event)
		return true
	})
}

// StreamWebSocket handles GET /api/v1/sessions/:id/ws?fromSeq=N, writing each
// event as one JSON text message.
func (h *StreamHandler) StreamWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	fromSeq := parseFromSeq(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()

	ch, err := h.hub.Subscribe(c.Request.Context(), sessionID, fromSeq)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		return
	}

	// read pump: discard client messages, unblock on close
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			slog.Debug("websocket write failed", "session", sessionID, "error", err)
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
		time.Now().Add(time.Second))
}

func parseFromSeq(c *gin.Context) uint64 {
	fromSeq, err := strconv.ParseUint(c.DefaultQuery("fromSeq", "0"), 10, 64)
	if err != nil {
		return 0
	}
	return fromSeq
}
