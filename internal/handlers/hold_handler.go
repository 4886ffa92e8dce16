package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mariiahub/booking-reconciliation/internal/middleware"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/mariiahub/booking-reconciliation/internal/services"
	"github.com/sirupsen/logrus"
)

// HoldManager issues slot holds. Implemented by services.HoldService.
type HoldManager interface {
	CreateHold(ctx context.Context, req services.CreateHoldRequest) (*models.Hold, error)
}

// HoldHandler handles slot hold endpoints
type HoldHandler struct {
	holds  HoldManager
	logger *logrus.Logger
}

// NewHoldHandler creates a new HoldHandler
func NewHoldHandler(holds HoldManager, logger *logrus.Logger) *HoldHandler {
	return &HoldHandler{holds: holds, logger: logger}
}

// CreateHoldRequest is the body of POST /api/v1/holds
type CreateHoldRequest struct {
	ServiceID  string      `json:"serviceId" binding:"required"`
	ResourceID string      `json:"resourceId" binding:"required"`
	Slot       models.Slot `json:"slot" binding:"required"`
	SessionID  string      `json:"sessionId" binding:"required,max=128"`
	TTLSeconds int         `json:"ttlSeconds" binding:"omitempty,min=1"`
}

// ============================================================================
// CREATE HOLD - POST /api/v1/holds
// ============================================================================

// CreateHold reserves a slot for the caller's session. Anonymous callers are
// allowed; a signed-in user is recorded on the hold.
func (h *HoldHandler) CreateHold(c *gin.Context) {
	var req CreateHoldRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err, nil)
		return
	}

	createReq := services.CreateHoldRequest{
		ServiceID:  req.ServiceID,
		ResourceID: req.ResourceID,
		Slot:       req.Slot,
		SessionID:  req.SessionID,
		TTLSeconds: req.TTLSeconds,
	}
	if userID := middleware.GetUserID(c); userID != "" {
		createReq.UserID = &userID
	}

	hold, err := h.holds.CreateHold(c.Request.Context(), createReq)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{
			"service_id":  req.ServiceID,
			"resource_id": req.ResourceID,
		})
		return
	}

	respondData(c, http.StatusCreated, hold)
}
