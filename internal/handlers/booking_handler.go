package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mariiahub/booking-reconciliation/internal/apperr"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/mariiahub/booking-reconciliation/internal/services"
	"github.com/sirupsen/logrus"
)

// CheckoutFlow opens payment for a held slot. Implemented by
// services.PaymentOrchestrator.
type CheckoutFlow interface {
	Checkout(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutResult, error)
}

// BookingReader looks bookings up. Implemented by services.BookingLedger.
type BookingReader interface {
	GetBookingForUser(ctx context.Context, id uuid.UUID, userID string) (*models.Booking, error)
	FindBySession(ctx context.Context, sessionID string) (*models.Booking, error)
}

// Reconciler applies payment outcomes and cancellations. Implemented by
// services.ReconciliationService.
type Reconciler interface {
	Reconcile(ctx context.Context, sessionID string, opts services.ReconcileOptions) (*services.ReconcileResult, error)
	Cancel(ctx context.Context, bookingID uuid.UUID, actorUserID, reason string) (*models.Booking, error)
	GetPackageGrant(ctx context.Context, bookingID uuid.UUID, userID string) (*models.PackageGrant, error)
}

// BookingHandler handles checkout and booking endpoints
type BookingHandler struct {
	checkout   CheckoutFlow
	bookings   BookingReader
	reconciler Reconciler
	logger     *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(checkout CheckoutFlow, bookings BookingReader, reconciler Reconciler, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		checkout:   checkout,
		bookings:   bookings,
		reconciler: reconciler,
		logger:     logger,
	}
}

// CheckoutRequest is the body of POST /api/v1/bookings/payment-sessions
type CheckoutRequest struct {
	HoldID        uuid.UUID          `json:"holdId" binding:"required"`
	ServiceID     string             `json:"serviceId" binding:"required"`
	ResourceID    string             `json:"resourceId" binding:"required"`
	Slot          models.Slot        `json:"slot" binding:"required"`
	SessionID     string             `json:"sessionId" binding:"omitempty,max=128"`
	AddOnIDs      []string           `json:"addOnIds" binding:"omitempty,max=20,dive,required"`
	PaymentType   models.PaymentType `json:"paymentType" binding:"omitempty,oneof=full deposit"`
	PaymentMethod string             `json:"paymentMethod" binding:"omitempty,max=32"`
	CustomerName  *string            `json:"customerName" binding:"omitempty,max=200"`
	CustomerEmail *string            `json:"customerEmail" binding:"omitempty,email"`
	CustomerPhone *string            `json:"customerPhone" binding:"omitempty,max=32"`
	Notes         *string            `json:"notes" binding:"omitempty,max=1000"`
}

// CancelRequest is the optional body of POST /api/v1/bookings/:id/cancel
type CancelRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// ============================================================================
// CHECKOUT - POST /api/v1/bookings/payment-sessions
// ============================================================================

// Checkout creates a pending booking for a held slot and returns the
// provider redirect
func (h *BookingHandler) Checkout(c *gin.Context) {
	userID, ok := requireUser(c, h.logger)
	if !ok {
		return
	}

	var req CheckoutRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err, nil)
		return
	}

	result, err := h.checkout.Checkout(c.Request.Context(), services.CheckoutRequest{
		HoldID: req.HoldID,
		Details: models.BookingDetails{
			ServiceID:     req.ServiceID,
			ResourceID:    req.ResourceID,
			UserID:        userID,
			Slot:          req.Slot,
			SessionID:     req.SessionID,
			AddOnIDs:      req.AddOnIDs,
			PaymentType:   req.PaymentType,
			PaymentMethod: req.PaymentMethod,
			CustomerName:  req.CustomerName,
			CustomerEmail: req.CustomerEmail,
			CustomerPhone: req.CustomerPhone,
			Notes:         req.Notes,
		},
	})
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{
			"hold_id": req.HoldID,
			"user_id": userID,
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"booking_id": result.BookingID,
		"session_id": result.SessionID,
		"user_id":    userID,
	}).Info("Checkout started")

	respondData(c, http.StatusCreated, result)
}

// ============================================================================
// GET BOOKING - GET /api/v1/bookings/:id
// ============================================================================

// GetBooking returns one of the caller's bookings
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userID, ok := requireUser(c, h.logger)
	if !ok {
		return
	}
	bookingID, ok := h.bookingIDParam(c)
	if !ok {
		return
	}

	booking, err := h.bookings.GetBookingForUser(c.Request.Context(), bookingID, userID)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"booking_id": bookingID})
		return
	}

	respondData(c, http.StatusOK, booking)
}

// GetPackageGrant returns the entitlement created for a package booking
func (h *BookingHandler) GetPackageGrant(c *gin.Context) {
	userID, ok := requireUser(c, h.logger)
	if !ok {
		return
	}
	bookingID, ok := h.bookingIDParam(c)
	if !ok {
		return
	}

	grant, err := h.reconciler.GetPackageGrant(c.Request.Context(), bookingID, userID)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"booking_id": bookingID})
		return
	}

	respondData(c, http.StatusOK, grant)
}

// ============================================================================
// CANCEL - POST /api/v1/bookings/:id/cancel
// ============================================================================

// Cancel cancels one of the caller's bookings and frees its slot
func (h *BookingHandler) Cancel(c *gin.Context) {
	userID, ok := requireUser(c, h.logger)
	if !ok {
		return
	}
	bookingID, ok := h.bookingIDParam(c)
	if !ok {
		return
	}

	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := bindJSON(c, &req); err != nil {
			respondError(c, h.logger, err, nil)
			return
		}
	}

	booking, err := h.reconciler.Cancel(c.Request.Context(), bookingID, userID, strings.TrimSpace(req.Reason))
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"booking_id": bookingID})
		return
	}

	respondData(c, http.StatusOK, booking)
}

// ============================================================================
// VERIFY - POST /api/v1/bookings/payment-sessions/:sessionId/verify
// ============================================================================

// VerifyPayment is called by the client after the provider redirect. It
// reconciles the session against the provider instead of trusting the
// redirect.
func (h *BookingHandler) VerifyPayment(c *gin.Context) {
	userID, ok := requireUser(c, h.logger)
	if !ok {
		return
	}

	sessionID := c.Param("sessionId")
	booking, err := h.bookings.FindBySession(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"session_id": sessionID})
		return
	}
	if booking.UserID != userID {
		respondError(c, h.logger, apperr.New(apperr.KindUnknownSession, "no booking for payment session"), nil)
		return
	}

	result, err := h.reconciler.Reconcile(c.Request.Context(), sessionID, services.ReconcileOptions{
		Source: models.PaymentSourceVerify,
		Meta:   requestMeta(c),
	})
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{
			"booking_id": booking.ID,
			"session_id": sessionID,
		})
		return
	}

	respondData(c, http.StatusOK, result)
}

func (h *BookingHandler) bookingIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, apperr.New(apperr.KindInvalidRequest, "invalid booking id"), nil)
		return uuid.Nil, false
	}
	return id, true
}
