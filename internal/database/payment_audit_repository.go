package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mariiahub/booking-reconciliation/internal/models"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db *sqlx.DB
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB) *PaymentAuditRepository {
	return &PaymentAuditRepository{db: db}
}

// Log appends a payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_audits (
			id, booking_id, session_id, event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			provider_status, error_message, details,
			ip_address, user_agent, request_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16
		)`,
		audit.ID, audit.BookingID, audit.SessionID, audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.ProviderStatus, audit.ErrorMessage, audit.Details,
		audit.IPAddress, audit.UserAgent, audit.RequestID, audit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log payment audit: %w", err)
	}
	return nil
}
