package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketsim/internal/engine"
	"marketsim/internal/models"
)

type SessionHandler struct {
	manager *engine.Manager
}

func NewSessionHandler(manager *engine.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

type CreateSessionRequest struct {
	Symbol          string `json:"symbol" binding:"required"`
	Timeframe       string `json:"timeframe" binding:"required"`
	StartTimeMs     int64  `json:"startTimeMs"`
	EndTimeMs       int64  `json:"endTimeMs" binding:"required"`
	SpeedMultiplier int    `json:"speedMultiplier"`
	Autostart       bool   `json:"autostart"`
}

// CreateSession handles POST /api/v1/sessions.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tf, err := models.ParseTimeframe(req.Timeframe)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeframe. Valid timeframes: 1m, 15m, 1h, 1d"})
		return
	}

	// Default speed to 60x if not specified
	speed := req.SpeedMultiplier
	if speed == 0 {
		speed = 60
	}

	session, err := h.manager.Create(engine.Params{
		Symbol:          req.Symbol,
		Timeframe:       tf,
		StartTimeMs:     req.StartTimeMs,
		EndTimeMs:       req.EndTimeMs,
		SpeedMultiplier: speed,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Autostart {
		if err := h.manager.Start(session.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "session": session})
			return
		}
		session, _ = h.manager.Status(session.ID)
	}

	c.JSON(http.StatusCreated, session)
}

// Control endpoints: POST /api/v1/sessions/:id/{start,pause,resume,stop}

func (h *SessionHandler) StartSession(c *gin.Context) {
	h.control(c, h.manager.Start, "session started")
}

func (h *SessionHandler) PauseSession(c *gin.Context) {
	h.control(c, h.manager.Pause, "session paused")
}

func (h *SessionHandler) ResumeSession(c *gin.Context) {
	h.control(c, h.manager.Resume, "session resumed")
}

func (h *SessionHandler) StopSession(c *gin.Context) {
	h.control(c, h.manager.Stop, "session stopped")
}

func (h *SessionHandler) control(c *gin.Context, op func(string) error, message string) {
	id := c.Param("id")
	if err := op(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "id": id})
}

// GetSession handles GET /api/v1/sessions/:id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.manager.Status(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

// ListSessions handles GET /api/v1/sessions.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.manager.List()})
}

// DeleteSession handles DELETE /api/v1/sessions/:id.
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	if err := h.manager.Delete(c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrTerminalState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RegisterSessionRoutes registers all session control routes.
func RegisterSessionRoutes(router *gin.RouterGroup, handler *SessionHandler, streamHandler *StreamHandler) {
	sessions := router.Group("/sessions")
	{
		sessions.POST("", handler.CreateSession)
		sessions.GET("", handler.ListSessions)
		sessions.GET("/:id", handler.GetSession)
		sessions.DELETE("/:id", handler.DeleteSession)
		sessions.POST("/:id/start", handler.StartSession)
		sessions.POST("/:id/pause", handler.PauseSession)
		sessions.POST("/:id/resume", handler.ResumeSession)
		sessions.POST("/:id/stop", handler.StopSession)
		sessions.GET("/:id/stream", streamHandler.StreamSSE)
		sessions.GET("/:id/ws", streamHandler.StreamWebSocket)
	}
}
