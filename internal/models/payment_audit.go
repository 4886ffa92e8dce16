package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventSessionCreated    PaymentEventType = "session_created"
	PaymentEventSessionFailed     PaymentEventType = "session_create_failed"
	PaymentEventWebhookReceived   PaymentEventType = "webhook_received"
	PaymentEventWebhookRejected   PaymentEventType = "webhook_rejected"
	PaymentEventVerifyRequested   PaymentEventType = "verify_requested"
	PaymentEventBookingConfirmed  PaymentEventType = "booking_confirmed"
	PaymentEventBookingFailed     PaymentEventType = "booking_failed"
	PaymentEventDuplicate         PaymentEventType = "duplicate_event"
	PaymentEventAmountMismatch    PaymentEventType = "amount_mismatch"
	PaymentEventHoldLost          PaymentEventType = "hold_lost"
	PaymentEventGrantCreateFailed PaymentEventType = "grant_create_failed"
	PaymentEventBookingCancelled  PaymentEventType = "booking_cancelled"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend PaymentEventSource = "backend"
	PaymentSourceWebhook PaymentEventSource = "webhook"
	PaymentSourceVerify  PaymentEventSource = "verify"
	PaymentSourceSweep   PaymentEventSource = "sweep"
	PaymentSourceUser    PaymentEventSource = "user"
)

// PaymentAudit represents an immutable audit log entry for payment events
type PaymentAudit struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	BookingID *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	SessionID *string    `json:"session_id,omitempty" db:"session_id"`

	// Event info
	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	// Amount tracking in minor units
	ExpectedAmount *int64  `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *int64  `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool   `json:"amounts_match,omitempty" db:"amounts_match"`

	ProviderStatus *string `json:"provider_status,omitempty" db:"provider_status"`
	ErrorMessage   *string `json:"error_message,omitempty" db:"error_message"`
	Details        JSONB   `json:"details,omitempty" db:"details"`

	// Caller metadata
	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`
	RequestID *string `json:"request_id,omitempty" db:"request_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetBooking sets the booking ID for the audit
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID) *PaymentAudit {
	pa.BookingID = &bookingID
	return pa
}

// SetSession sets the provider session ID
func (pa *PaymentAudit) SetSession(sessionID string) *PaymentAudit {
	if sessionID != "" {
		pa.SessionID = &sessionID
	}
	return pa
}

// SetAmounts records expected vs received amounts and returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received int64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency

	match := expected == received
	pa.AmountsMatch = &match
	return match
}

// SetProviderStatus sets the raw provider status
func (pa *PaymentAudit) SetProviderStatus(status string) *PaymentAudit {
	if status != "" {
		pa.ProviderStatus = &status
	}
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetDetail adds a key to the details document
func (pa *PaymentAudit) SetDetail(key string, value interface{}) *PaymentAudit {
	if pa.Details == nil {
		pa.Details = JSONB{}
	}
	pa.Details[key] = value
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent, requestID string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if requestID != "" {
		pa.RequestID = &requestID
	}
	return pa
}
