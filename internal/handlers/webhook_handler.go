package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mariiahub/booking-reconciliation/internal/apperr"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/mariiahub/booking-reconciliation/internal/services"
	"github.com/mariiahub/booking-reconciliation/pkg/payment"
	"github.com/sirupsen/logrus"
)

// WebhookVerifier authenticates provider webhook deliveries. Implemented by
// payment.Client.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, header string) (*payment.WebhookEvent, error)
}

// WebhookHandler receives payment provider webhooks
type WebhookHandler struct {
	verifier   WebhookVerifier
	reconciler Reconciler
	audit      *services.AuditRecorder
	logger     *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(
	verifier WebhookVerifier,
	reconciler Reconciler,
	audit *services.AuditRecorder,
	logger *logrus.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		audit:      audit,
		logger:     logger,
	}
}

// ============================================================================
// PAYMENT WEBHOOK - POST /api/v1/webhooks/payment
// ============================================================================

// HandlePayment verifies the signature over the raw body and reconciles the
// referenced session. The body is used only to find the session id; the
// outcome always comes from the provider API.
func (h *WebhookHandler) HandlePayment(c *gin.Context) {
	ctx := c.Request.Context()
	meta := requestMeta(c)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		respondError(c, h.logger, apperr.Wrap(err, apperr.KindInvalidRequest, "failed to read webhook body"), nil)
		return
	}

	event, err := h.verifier.VerifyWebhook(payload, c.GetHeader(payment.SignatureHeader))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			h.logger.WithFields(logrus.Fields{
				"ip":         meta.IPAddress,
				"request_id": meta.RequestID,
			}).WithError(err).Warn("Rejected webhook with invalid signature")
			h.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventWebhookRejected, models.PaymentSourceWebhook).
				SetError(err.Error()), meta)
			respondError(c, h.logger, apperr.Wrap(err, apperr.KindInvalidSignature, "invalid webhook signature"), nil)
			return
		}

		// Authentic but not something we act on
		h.logger.WithField("request_id", meta.RequestID).WithError(err).Info("Ignoring webhook event")
		respondData(c, http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	sessionID := event.SessionID()
	log := h.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"session_id": sessionID,
		"request_id": meta.RequestID,
	})

	h.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceWebhook).
		SetSession(sessionID).
		SetProviderStatus(event.Data.Object.Status).
		SetDetail("event_id", event.ID).
		SetDetail("event_type", event.Type), meta)

	result, err := h.reconciler.Reconcile(ctx, sessionID, services.ReconcileOptions{
		Source: models.PaymentSourceWebhook,
		Meta:   meta,
	})
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindConflict:
			log.Info("Webhook raced another reconciliation")
			respondData(c, http.StatusOK, gin.H{"received": true})
		case apperr.KindUnknownSession:
			// Sessions created outside this service; retrying will not help
			log.Warn("Webhook for unknown payment session")
			respondData(c, http.StatusOK, gin.H{"received": true, "ignored": true})
		default:
			respondError(c, h.logger, err, logrus.Fields{"session_id": sessionID, "event_id": event.ID})
		}
		return
	}

	log.WithFields(logrus.Fields{
		"booking_id":        result.BookingID,
		"status":            result.Status,
		"already_processed": result.AlreadyProcessed,
	}).Info("Webhook processed")

	respondData(c, http.StatusOK, gin.H{"received": true, "result": result})
}
