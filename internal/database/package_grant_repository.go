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

// PackageGrantRepository handles package entitlements
type PackageGrantRepository struct {
	db *sqlx.DB
}

// NewPackageGrantRepository creates a new package grant repository
func NewPackageGrantRepository(db *sqlx.DB) *PackageGrantRepository {
	return &PackageGrantRepository{db: db}
}

// CreateForBooking inserts the grant unless the booking already has one.
// Returns false when a grant already existed.
func (r *PackageGrantRepository) CreateForBooking(ctx context.Context, grant *models.PackageGrant) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO package_grants (
			id, booking_id, user_id, service_id, total_sessions, used_sessions,
			remaining_sessions, expires_at, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (booking_id) DO NOTHING`,
		grant.ID, grant.BookingID, grant.UserID, grant.ServiceID,
		grant.TotalSessions, grant.UsedSessions, grant.RemainingSessions,
		grant.ExpiresAt, grant.Status, grant.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create package grant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// GetByBookingID returns the grant of a booking, or nil
func (r *PackageGrantRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.PackageGrant, error) {
	var grant models.PackageGrant
	err := r.db.GetContext(ctx, &grant, `
		SELECT id, booking_id, user_id, service_id, total_sessions, used_sessions,
		       remaining_sessions, expires_at, status, created_at, revoked_at
		FROM package_grants
		WHERE booking_id = $1`,
		bookingID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get package grant: %w", err)
	}
	return &grant, nil
}

// RevokeForBooking revokes an active grant. Returns false if none was active.
func (r *PackageGrantRepository) RevokeForBooking(ctx context.Context, bookingID uuid.UUID, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE package_grants
		SET status = 'revoked', revoked_at = $2, remaining_sessions = 0
		WHERE booking_id = $1 AND status = 'active'`,
		bookingID, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revoke package grant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
