package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wavemine-server/internal/service"
)

// RewardsHandler exposes the /mining-rewards action surface consumed by
// clients: daily streak claims, offline session finalization, and the
// current rate summary.
type RewardsHandler struct {
	mining *service.MiningService
	streak *service.StreakService
}

// NewRewardsHandler creates a new RewardsHandler instance.
func NewRewardsHandler(mining *service.MiningService, streak *service.StreakService) *RewardsHandler {
	return &RewardsHandler{mining: mining, streak: streak}
}

type rewardsAction struct {
	Action    string  `json:"action" binding:"required"`
	SessionID string  `json:"sessionId"`
	Amount    float64 `json:"amount"`
}

// Post handles POST /mining-rewards.
func (h *RewardsHandler) Post(c *gin.Context) {
	var req rewardsAction
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}

	switch req.Action {
	case "claim_streak":
		h.claimStreak(c)
	case "finalize_session":
		h.finalizeSession(c, &req)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
	}
}

func (h *RewardsHandler) claimStreak(c *gin.Context) {
	claim, err := h.streak.Claim(c.Request.Context(), currentUser(c), time.Now())
	if err != nil {
		if errors.Is(err, service.ErrAlreadyClaimed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "already claimed today"})
			return
		}
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"streak_days":   claim.StreakDays,
		"waves_awarded": claim.WavesAwarded,
	})
}

func (h *RewardsHandler) finalizeSession(c *gin.Context, req *rewardsAction) {
	if req.SessionID == "" || req.Amount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId and a non-negative amount are required"})
		return
	}

	_, err := h.mining.Finalize(c.Request.Context(), req.SessionID, req.Amount, time.Now())
	if err != nil {
		if errors.Is(err, service.ErrSessionUnknown) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown session"})
			return
		}
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Get handles GET /mining-rewards: the rate, boost, and projection summary.
func (h *RewardsHandler) Get(c *gin.Context) {
	rate, err := h.mining.Rate(c.Request.Context(), currentUser(c))
	if err != nil {
		internalError(c, err)
		return
	}

	session, err := h.mining.ActiveSession(c.Request.Context(), currentUser(c))
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rate": rate, "session": session})
}
