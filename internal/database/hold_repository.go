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

const holdColumns = `id, service_id, resource_id, session_id, user_id, slot_start, slot_end,
	status, expires_at, created_at, consumed_at, released_at`

// holdBlockingIndex is the partial unique index over blocking holds
const holdBlockingIndex = "holds_blocking_slot_uq"

// HoldRepository handles slot hold persistence
type HoldRepository struct {
	db *sqlx.DB
}

// NewHoldRepository creates a new hold repository
func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

// ============================================================================
// CREATE
// ============================================================================

// Create inserts hold unless another blocking hold owns the same
// (resource, slot). It returns the inserted hold and true, or the hold that
// currently blocks the slot and false. Lapsed active holds for the slot are
// expired in the same transaction so they never block a new hold.
func (r *HoldRepository) Create(ctx context.Context, hold *models.Hold, now time.Time) (*models.Hold, bool, error) {
	var (
		result  *models.Hold
		created bool
	)

	// A blocking hold can be released between the insert and the read-back;
	// one retry settles that.
	for attempt := 0; attempt < 2; attempt++ {
		err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				UPDATE holds SET status = 'expired'
				WHERE resource_id = $1 AND slot_start = $2 AND slot_end = $3
				  AND status = 'active' AND expires_at <= $4`,
				hold.ResourceID, hold.SlotStart, hold.SlotEnd, now,
			); err != nil {
				return fmt.Errorf("failed to expire lapsed holds: %w", err)
			}

			var inserted models.Hold
			err := tx.GetContext(ctx, &inserted, `
				INSERT INTO holds (
					id, service_id, resource_id, session_id, user_id,
					slot_start, slot_end, status, expires_at, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, 'active', $8, $9)
				ON CONFLICT DO NOTHING
				RETURNING `+holdColumns,
				hold.ID, hold.ServiceID, hold.ResourceID, hold.SessionID, hold.UserID,
				hold.SlotStart, hold.SlotEnd, hold.ExpiresAt, now,
			)
			if err == nil {
				result, created = &inserted, true
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to insert hold: %w", err)
			}

			var existing models.Hold
			err = tx.GetContext(ctx, &existing, `
				SELECT `+holdColumns+` FROM holds
				WHERE resource_id = $1 AND slot_start = $2 AND slot_end = $3
				  AND status IN ('active', 'consumed')`,
				hold.ResourceID, hold.SlotStart, hold.SlotEnd,
			)
			if err != nil {
				return fmt.Errorf("failed to load blocking hold: %w", err)
			}
			result, created = &existing, false
			return nil
		})
		if err == nil {
			return result, created, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, err
		}
	}

	return nil, false, ErrSlotTaken
}

// ============================================================================
// READ
// ============================================================================

// GetByID returns a hold, or nil if it does not exist
func (r *HoldRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Hold, error) {
	var hold models.Hold
	err := r.db.GetContext(ctx, &hold, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}
	return &hold, nil
}

// getHoldForUpdate locks the hold row inside tx
func getHoldForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Hold, error) {
	var hold models.Hold
	err := tx.GetContext(ctx, &hold, `SELECT `+holdColumns+` FROM holds WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock hold: %w", err)
	}
	return &hold, nil
}

// ============================================================================
// STATE CHANGES
// ============================================================================

// Consume marks a hold consumed. Consuming a consumed hold is a no-op that
// keeps the original consumed_at. A hold the reaper already expired is
// reinstated when its slot is still free; ErrSlotTaken is returned when
// another hold owns the slot by now. Missing or released holds return nil.
func (r *HoldRepository) Consume(ctx context.Context, id uuid.UUID, now time.Time) (*models.Hold, error) {
	var hold models.Hold
	err := r.db.GetContext(ctx, &hold, `
		UPDATE holds
		SET status = 'consumed', consumed_at = COALESCE(consumed_at, $2)
		WHERE id = $1 AND status IN ('active', 'consumed', 'expired')
		RETURNING `+holdColumns,
		id, now,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if isUniqueViolation(err, holdBlockingIndex) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("failed to consume hold: %w", err)
	}
	return &hold, nil
}

// Release frees a blocking hold after its booking is cancelled
func (r *HoldRepository) Release(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE holds SET status = 'released', released_at = $2
		WHERE id = $1 AND status IN ('active', 'consumed')`,
		id, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to release hold: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ExpireLapsed marks up to limit active holds past expires_at as expired.
// Rows locked by a concurrent consume are skipped and picked up next run.
func (r *HoldRepository) ExpireLapsed(ctx context.Context, now time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE holds SET status = 'expired'
		WHERE id IN (
			SELECT id FROM holds
			WHERE status = 'active' AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) AND status = 'active'`,
		now, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire holds: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
