package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"wavemine-server/internal/service"
)

// MiningHandler exposes mining session operations.
type MiningHandler struct {
	mining *service.MiningService
}

// NewMiningHandler creates a new MiningHandler instance.
func NewMiningHandler(mining *service.MiningService) *MiningHandler {
	return &MiningHandler{mining: mining}
}

// Start handles POST /mining/start.
func (h *MiningHandler) Start(c *gin.Context) {
	session, err := h.mining.Start(c.Request.Context(), currentUser(c))
	if err != nil {
		if errors.Is(err, service.ErrAlreadyMining) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "already mining"})
			return
		}
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

// Stop handles POST /mining/stop.
func (h *MiningHandler) Stop(c *gin.Context) {
	session, err := h.mining.Stop(c.Request.Context(), currentUser(c), time.Now())
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

// Tick handles POST /mining/tick.
func (h *MiningHandler) Tick(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	session, err := h.mining.Tick(c.Request.Context(), req.SessionID, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionUnknown):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown session"})
		case errors.Is(err, service.ErrSessionClosed):
			c.JSON(http.StatusBadRequest, gin.H{"error": "session is not active"})
		default:
			internalError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

// Status handles GET /mining/status.
func (h *MiningHandler) Status(c *gin.Context) {
	session, err := h.mining.ActiveSession(c.Request.Context(), currentUser(c))
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"mining": session != nil, "session": session})
}

func internalError(c *gin.Context, err error) {
	log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error, please try again"})
}
