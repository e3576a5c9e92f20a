package diagnostics

import (
	"context"
	"errors"
	"net/http"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/monitoring"
	apperrors "huddle/pkg/errors"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	meeting ports.Introspector
	health  *monitoring.HealthChecker
	metrics http.Handler
}

func NewHandler(meeting ports.Introspector, health *monitoring.HealthChecker, metrics http.Handler) *Handler {
	return &Handler{
		meeting: meeting,
		health:  health,
		metrics: metrics,
	}
}

// SetupRoutes registers the endpoints. guards apply to /debug only.
func (h *Handler) SetupRoutes(router *gin.Engine, guards ...gin.HandlerFunc) {
	router.GET("/health", h.Health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	debug := router.Group("/debug", guards...)
	{
		debug.GET("/room", h.GetRoom)
		debug.GET("/sessions", h.GetSessions)
		debug.GET("/media", h.GetMedia)
		debug.GET("/messages", h.GetMessages)
		debug.POST("/resync", h.Resync)
	}
}

func (h *Handler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *Handler) GetRoom(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"roster":           h.meeting.Roster(),
		"channelConnected": h.meeting.ChannelConnected(),
		"lastError":        h.meeting.LastRoomError(),
	})
}

func (h *Handler) GetSessions(c *gin.Context) {
	sessions := h.meeting.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *Handler) GetMedia(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"media": h.meeting.Media()})
}

func (h *Handler) GetMessages(c *gin.Context) {
	messages, err := h.meeting.Messages(c.Request.Context())
	if err != nil {
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to load chat history", http.StatusInternalServerError))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

// Resync asks the room for a fresh member list. The snapshot fetch outlives
// the request.
func (h *Handler) Resync(c *gin.Context) {
	err := h.meeting.Resync(context.WithoutCancel(c.Request.Context()))
	switch {
	case errors.Is(err, domain.ErrNotInRoom):
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeConflict, "not connected to a room", http.StatusConflict))
		return
	case errors.Is(err, domain.ErrChannelNotConnected):
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "signaling channel is down", http.StatusServiceUnavailable))
		return
	case err != nil:
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
}
