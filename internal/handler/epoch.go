package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"wavemine-server/internal/repository"
	"wavemine-server/internal/service"
)

// EpochHandler exposes epoch state and the consistency audit.
type EpochHandler struct {
	epochs    *service.EpochService
	validator *service.ConsistencyValidator
}

// NewEpochHandler creates a new EpochHandler instance.
func NewEpochHandler(epochs *service.EpochService, validator *service.ConsistencyValidator) *EpochHandler {
	return &EpochHandler{epochs: epochs, validator: validator}
}

// Current handles GET /epochs/current.
func (h *EpochHandler) Current(c *gin.Context) {
	epoch, err := h.epochs.Current(c.Request.Context())
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveEpoch) {
			c.JSON(http.StatusOK, gin.H{"epoch": nil})
			return
		}
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"epoch": epoch})
}

// Ensure handles POST /epochs/ensure, driving a transition if the active
// epoch has expired. Retryable transition failures come back as 500 with a
// generic message; the old epoch stays active.
func (h *EpochHandler) Ensure(c *gin.Context) {
	epoch, err := h.epochs.EnsureCurrentEpoch(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "epoch": epoch})
}

// Validate handles GET /validate.
func (h *EpochHandler) Validate(c *gin.Context) {
	if err := h.validator.Validate(c.Request.Context()); err != nil {
		switch {
		case errors.Is(err, service.ErrMultipleActiveEpochs),
			errors.Is(err, service.ErrRewardMismatch):
			c.JSON(http.StatusInternalServerError, gin.H{"valid": false, "error": err.Error()})
		default:
			internalError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}
