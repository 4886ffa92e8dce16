package database

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

var holdRowColumns = []string{
	"id", "service_id", "resource_id", "session_id", "user_id", "slot_start", "slot_end",
	"status", "expires_at", "created_at", "consumed_at", "released_at",
}

func holdRows(holds ...*models.Hold) *sqlmock.Rows {
	rows := sqlmock.NewRows(holdRowColumns)
	for _, h := range holds {
		rows.AddRow(
			h.ID.String(), h.ServiceID, h.ResourceID, h.SessionID, h.UserID, h.SlotStart, h.SlotEnd,
			string(h.Status), h.ExpiresAt, h.CreatedAt, h.ConsumedAt, h.ReleasedAt,
		)
	}
	return rows
}

var bookingRowColumns = []string{
	"id", "service_id", "resource_id", "user_id", "slot_start", "slot_end", "add_on_ids",
	"amount", "currency", "deposit_amount", "balance_due", "payment_type", "payment_method",
	"hold_id", "hold_session_id", "external_payment_session_id", "status", "payment_status",
	"payment_reference", "paid_amount", "failure_reason", "is_package",
	"customer_name", "customer_email", "customer_phone", "notes",
	"created_at", "updated_at", "confirmed_at", "failed_at", "cancelled_at",
}

func bookingRows(bookings ...*models.Booking) *sqlmock.Rows {
	rows := sqlmock.NewRows(bookingRowColumns)
	for _, b := range bookings {
		addOns, _ := b.AddOnIDs.Value()
		rows.AddRow(
			b.ID.String(), b.ServiceID, b.ResourceID, b.UserID, b.SlotStart, b.SlotEnd, addOns,
			b.Amount, b.Currency, b.DepositAmount, b.BalanceDue, string(b.PaymentType), b.PaymentMethod,
			b.HoldID.String(), b.HoldSessionID, b.ExternalPaymentSessionID, string(b.Status), string(b.PaymentStatus),
			b.PaymentReference, b.PaidAmount, b.FailureReason, b.IsPackage,
			b.CustomerName, b.CustomerEmail, b.CustomerPhone, b.Notes,
			b.CreatedAt, b.UpdatedAt, b.ConfirmedAt, b.FailedAt, b.CancelledAt,
		)
	}
	return rows
}

var slotStart = time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)

func sampleHold() *models.Hold {
	now := slotStart.Add(-48 * time.Hour)
	return &models.Hold{
		ID:         uuid.New(),
		ServiceID:  "S1",
		ResourceID: "R1",
		SessionID:  "sess-a",
		SlotStart:  slotStart,
		SlotEnd:    slotStart.Add(time.Hour),
		Status:     models.HoldStatusActive,
		ExpiresAt:  now.Add(10 * time.Minute),
		CreatedAt:  now,
	}
}

func sampleBooking(hold *models.Hold) *models.Booking {
	return &models.Booking{
		ID:            uuid.New(),
		ServiceID:     hold.ServiceID,
		ResourceID:    hold.ResourceID,
		UserID:        "user-1",
		SlotStart:     hold.SlotStart,
		SlotEnd:       hold.SlotEnd,
		AddOnIDs:      []string{"addon-1"},
		Amount:        12000,
		Currency:      "EUR",
		PaymentType:   models.PaymentTypeFull,
		PaymentMethod: "card",
		HoldID:        hold.ID,
		HoldSessionID: hold.SessionID,
		Status:        models.BookingStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		CreatedAt:     hold.CreatedAt.Add(time.Minute),
		UpdatedAt:     hold.CreatedAt.Add(time.Minute),
	}
}
