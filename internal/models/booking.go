package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ============================================================================
// BOOKING STATUSES (matches DB ENUMs)
// ============================================================================

// BookingStatus represents the lifecycle state of a booking
// Matches PostgreSQL ENUM: booking_status
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"   // Awaiting payment confirmation
	BookingStatusConfirmed BookingStatus = "confirmed" // Payment verified with the provider
	BookingStatusCancelled BookingStatus = "cancelled" // Cancelled through the cancellation API
	BookingStatusFailed    BookingStatus = "failed"    // Payment failed, expired or mismatched
)

// IsTerminal reports whether no further reconciliation applies
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusConfirmed || s == BookingStatusCancelled || s == BookingStatusFailed
}

// PaymentStatus represents the payment state recorded on a booking
// Matches PostgreSQL ENUM: booking_payment_status
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// PaymentType selects whether the full amount or a deposit is charged up front
type PaymentType string

const (
	PaymentTypeFull    PaymentType = "full"
	PaymentTypeDeposit PaymentType = "deposit"
)

// Failure reasons recorded on bookings
const (
	FailureReasonPaymentFailed      = "payment_failed"
	FailureReasonPaymentExpired     = "payment_expired"
	FailureReasonAmountMismatch     = "amount_mismatch"
	FailureReasonHoldLost           = "hold_lost"
	FailureReasonSessionUnavailable = "payment_session_unavailable"
	FailureReasonSessionMissing     = "payment_session_missing"
)

// ============================================================================
// BOOKING
// ============================================================================

// Booking is the durable reservation record. Amounts are in minor units.
type Booking struct {
	ID                       uuid.UUID      `json:"id" db:"id"`
	ServiceID                string         `json:"serviceId" db:"service_id"`
	ResourceID               string         `json:"resourceId" db:"resource_id"`
	UserID                   string         `json:"userId" db:"user_id"`
	SlotStart                time.Time      `json:"slotStart" db:"slot_start"`
	SlotEnd                  time.Time      `json:"slotEnd" db:"slot_end"`
	AddOnIDs                 pq.StringArray `json:"addOnIds" db:"add_on_ids"`
	Amount                   int64          `json:"amount" db:"amount"`
	Currency                 string         `json:"currency" db:"currency"`
	DepositAmount            int64          `json:"depositAmount" db:"deposit_amount"`
	BalanceDue               int64          `json:"balanceDue" db:"balance_due"`
	PaymentType              PaymentType    `json:"paymentType" db:"payment_type"`
	PaymentMethod            string         `json:"paymentMethod" db:"payment_method"`
	HoldID                   uuid.UUID      `json:"holdId" db:"hold_id"`
	HoldSessionID            string         `json:"-" db:"hold_session_id"`
	ExternalPaymentSessionID *string        `json:"externalPaymentSessionId,omitempty" db:"external_payment_session_id"`
	Status                   BookingStatus  `json:"status" db:"status"`
	PaymentStatus            PaymentStatus  `json:"paymentStatus" db:"payment_status"`
	PaymentReference         *string        `json:"paymentReference,omitempty" db:"payment_reference"`
	PaidAmount               *int64         `json:"paidAmount,omitempty" db:"paid_amount"`
	FailureReason            *string        `json:"failureReason,omitempty" db:"failure_reason"`
	IsPackage                bool           `json:"isPackage" db:"is_package"`

	// Contact details used by notification channels
	CustomerName  *string `json:"customerName,omitempty" db:"customer_name"`
	CustomerEmail *string `json:"customerEmail,omitempty" db:"customer_email"`
	CustomerPhone *string `json:"customerPhone,omitempty" db:"customer_phone"`
	Notes         *string `json:"notes,omitempty" db:"notes"`

	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty" db:"confirmed_at"`
	FailedAt    *time.Time `json:"failedAt,omitempty" db:"failed_at"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty" db:"cancelled_at"`
}

// AmountDue returns what the customer pays at checkout
func (b *Booking) AmountDue() int64 {
	if b.PaymentType == PaymentTypeDeposit {
		return b.DepositAmount
	}
	return b.Amount
}

// Slot returns the booked slot window
func (b *Booking) Slot() Slot {
	return Slot{StartsAt: b.SlotStart, EndsAt: b.SlotEnd}
}

// PaymentFields are the payment columns written alongside a status transition.
// Nil fields keep their stored values.
type PaymentFields struct {
	PaymentStatus    *PaymentStatus
	PaymentReference *string
	PaidAmount       *int64
	FailureReason    *string
}

// BookingDetails is the caller-supplied part of a new booking
type BookingDetails struct {
	ServiceID     string
	ResourceID    string
	UserID        string
	Slot          Slot
	SessionID     string
	AddOnIDs      []string
	PaymentType   PaymentType
	PaymentMethod string
	CustomerName  *string
	CustomerEmail *string
	CustomerPhone *string
	Notes         *string
}
