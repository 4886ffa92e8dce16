package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mariiahub/booking-reconciliation/internal/models"
)

const bookingColumns = `id, service_id, resource_id, user_id, slot_start, slot_end, add_on_ids,
	amount, currency, deposit_amount, balance_due, payment_type, payment_method,
	hold_id, hold_session_id, external_payment_session_id, status, payment_status,
	payment_reference, paid_amount, failure_reason, is_package,
	customer_name, customer_email, customer_phone, notes,
	created_at, updated_at, confirmed_at, failed_at, cancelled_at`

const (
	bookingLiveHoldIndex = "bookings_live_hold_uq"
	bookingSessionIndex  = "bookings_external_payment_session_id_key"
)

// HoldGuard inspects the locked hold before a booking is written against it.
// hold is nil when the row does not exist.
type HoldGuard func(hold *models.Hold) error

// BookingRepository is the booking ledger store
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// ============================================================================
// CREATE
// ============================================================================

// CreatePending inserts a pending booking while holding a row lock on its
// hold, so the hold cannot expire or change owner between guard and insert.
func (r *BookingRepository) CreatePending(ctx context.Context, booking *models.Booking, guard HoldGuard) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		hold, err := getHoldForUpdate(ctx, tx, booking.HoldID)
		if err != nil {
			return err
		}
		if err := guard(hold); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO bookings (
				id, service_id, resource_id, user_id, slot_start, slot_end, add_on_ids,
				amount, currency, deposit_amount, balance_due, payment_type, payment_method,
				hold_id, hold_session_id, status, payment_status, is_package,
				customer_name, customer_email, customer_phone, notes,
				created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7,
				$8, $9, $10, $11, $12, $13,
				$14, $15, 'pending', 'pending', $16,
				$17, $18, $19, $20,
				$21, $21
			)`,
			booking.ID, booking.ServiceID, booking.ResourceID, booking.UserID,
			booking.SlotStart, booking.SlotEnd, booking.AddOnIDs,
			booking.Amount, booking.Currency, booking.DepositAmount, booking.BalanceDue,
			booking.PaymentType, booking.PaymentMethod,
			booking.HoldID, booking.HoldSessionID, booking.IsPackage,
			booking.CustomerName, booking.CustomerEmail, booking.CustomerPhone, booking.Notes,
			booking.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err, bookingLiveHoldIndex) {
				return ErrHoldHasLiveBooking
			}
			return fmt.Errorf("failed to insert booking: %w", err)
		}

		booking.Status = models.BookingStatusPending
		booking.PaymentStatus = models.PaymentStatusPending
		booking.UpdatedAt = booking.CreatedAt
		return nil
	})
}

// ============================================================================
// READ
// ============================================================================

// GetByID returns a booking, or nil if it does not exist
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// GetBySessionID resolves a booking from its provider session, or nil
func (r *BookingRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.GetContext(ctx, &booking,
		`SELECT `+bookingColumns+` FROM bookings WHERE external_payment_session_id = $1`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get booking by session: %w", err)
	}
	return &booking, nil
}

// ListStalePending returns pending bookings created before olderThan, oldest first
func (r *BookingRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale bookings: %w", err)
	}
	return bookings, nil
}

// ListConfirmedPackagesWithoutGrant finds package purchases whose grant was never written
func (r *BookingRepository) ListConfirmedPackagesWithoutGrant(ctx context.Context, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'confirmed' AND is_package
		  AND NOT EXISTS (SELECT 1 FROM package_grants g WHERE g.booking_id = bookings.id)
		ORDER BY confirmed_at
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings missing grants: %w", err)
	}
	return bookings, nil
}

// ============================================================================
// STATE CHANGES
// ============================================================================

// AttachPaymentSession stores the provider session on a pending booking that
// has none yet
func (r *BookingRepository) AttachPaymentSession(ctx context.Context, id uuid.UUID, sessionID string, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET external_payment_session_id = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND external_payment_session_id IS NULL`,
		id, sessionID, now,
	)
	if err != nil {
		if isUniqueViolation(err, bookingSessionIndex) {
			return ErrSessionAlreadyAttached
		}
		return fmt.Errorf("failed to attach payment session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case current == nil:
		return ErrNotFound
	case current.Status != models.BookingStatusPending:
		return ErrStatusConflict
	default:
		return ErrSessionAlreadyAttached
	}
}

// TransitionStatus moves a booking from expected to next only if its stored
// status still equals expected. It returns ErrStatusConflict when another
// writer got there first and ErrNotFound when the booking does not exist.
func (r *BookingRepository) TransitionStatus(
	ctx context.Context,
	id uuid.UUID,
	expected, next models.BookingStatus,
	fields models.PaymentFields,
	now time.Time,
) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, `
		UPDATE bookings SET
			status = $3,
			payment_status = COALESCE($4, payment_status),
			payment_reference = COALESCE($5, payment_reference),
			paid_amount = COALESCE($6, paid_amount),
			failure_reason = COALESCE($7, failure_reason),
			confirmed_at = CASE WHEN $3 = 'confirmed' THEN $8 ELSE confirmed_at END,
			failed_at = CASE WHEN $3 = 'failed' THEN $8 ELSE failed_at END,
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN $8 ELSE cancelled_at END,
			updated_at = $8
		WHERE id = $1 AND status = $2
		RETURNING `+bookingColumns,
		id, expected, next,
		fields.PaymentStatus, fields.PaymentReference, fields.PaidAmount, fields.FailureReason,
		now,
	)
	if err == nil {
		return &booking, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition booking: %w", err)
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current == nil {
		return nil, ErrNotFound
	}
	return nil, ErrStatusConflict
}
