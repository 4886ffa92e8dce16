package services

import (
	"context"

	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/mariiahub/booking-reconciliation/internal/utils"
	"github.com/sirupsen/logrus"
)

// RequestMeta identifies the caller behind an audited payment event
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// AuditRecorder writes the payment audit trail. Audit failures are logged
// and never fail the operation being audited.
type AuditRecorder struct {
	store  AuditStore
	logger *logrus.Logger
}

// NewAuditRecorder creates a new audit recorder
func NewAuditRecorder(store AuditStore, logger *logrus.Logger) *AuditRecorder {
	return &AuditRecorder{store: store, logger: logger}
}

// Record stores audit, attaching caller metadata and parsed device info
func (r *AuditRecorder) Record(ctx context.Context, audit *models.PaymentAudit, meta *RequestMeta) {
	if r == nil || r.store == nil {
		return
	}

	if meta != nil {
		audit.SetMetadata(meta.IPAddress, meta.UserAgent, meta.RequestID)
		if meta.UserAgent != "" {
			device := utils.ParseUserAgent(meta.UserAgent)
			audit.SetDetail("device_info", device.Summary())
			if device.IsBot {
				audit.SetDetail("is_bot", true)
			}
		}
	}

	if err := r.store.Log(ctx, audit); err != nil {
		fields := logrus.Fields{
			"event_type":   audit.EventType,
			"event_source": audit.EventSource,
		}
		if audit.BookingID != nil {
			fields["booking_id"] = *audit.BookingID
		}
		if audit.SessionID != nil {
			fields["session_id"] = *audit.SessionID
		}
		r.logger.WithFields(fields).WithError(err).Error("AUDIT ERROR: failed to write payment audit")
	}
}
