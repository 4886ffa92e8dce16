package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoldRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("Inserted", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewHoldRepository(db)
		hold := sampleHold()
		now := hold.CreatedAt

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE holds SET status = 'expired' WHERE resource_id = \$1`).
			WithArgs(hold.ResourceID, hold.SlotStart, hold.SlotEnd, now).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO holds (.+) ON CONFLICT DO NOTHING RETURNING`).
			WillReturnRows(holdRows(hold))
		mock.ExpectCommit()

		got, created, err := repo.Create(ctx, hold, now)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, hold.ID, got.ID)
		assert.Equal(t, models.HoldStatusActive, got.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BlockedReturnsExistingHold", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewHoldRepository(db)
		existing := sampleHold()
		attempt := sampleHold()
		attempt.SessionID = "sess-b"
		now := existing.CreatedAt.Add(time.Minute)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE holds SET status = 'expired'`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO holds`).
			WillReturnRows(sqlmock.NewRows(holdRowColumns))
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE resource_id = \$1 AND slot_start = \$2 AND slot_end = \$3 AND status IN \('active', 'consumed'\)`).
			WithArgs(attempt.ResourceID, attempt.SlotStart, attempt.SlotEnd).
			WillReturnRows(holdRows(existing))
		mock.ExpectCommit()

		got, created, err := repo.Create(ctx, attempt, now)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing.ID, got.ID)
		assert.Equal(t, "sess-a", got.SessionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewHoldRepository(db)
		hold := sampleHold()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE holds SET status = 'expired'`).
			WillReturnError(fmt.Errorf("connection reset"))
		mock.ExpectRollback()

		got, _, err := repo.Create(ctx, hold, hold.CreatedAt)
		require.Error(t, err)
		assert.Nil(t, got)
		assert.Contains(t, err.Error(), "failed to expire lapsed holds")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHoldRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHoldRepository(db)
	hold := sampleHold()

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE id = \$1`).
			WithArgs(hold.ID).
			WillReturnRows(holdRows(hold))

		got, err := repo.GetByID(context.Background(), hold.ID)
		require.NoError(t, err)
		assert.Equal(t, hold.SlotStart, got.SlotStart)
	})

	t.Run("Missing", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE id = \$1`).
			WithArgs(hold.ID).
			WillReturnRows(sqlmock.NewRows(holdRowColumns))

		got, err := repo.GetByID(context.Background(), hold.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldRepository_Consume(t *testing.T) {
	ctx := context.Background()

	t.Run("ConsumedTwiceKeepsFirstTimestamp", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewHoldRepository(db)
		hold := sampleHold()
		first := hold.CreatedAt.Add(2 * time.Minute)
		consumed := *hold
		consumed.Status = models.HoldStatusConsumed
		consumed.ConsumedAt = &first

		for i := 0; i < 2; i++ {
			mock.ExpectQuery(`UPDATE holds SET status = 'consumed', consumed_at = COALESCE\(consumed_at, \$2\) WHERE id = \$1 AND status IN \('active', 'consumed', 'expired'\)`).
				WithArgs(hold.ID, sqlmock.AnyArg()).
				WillReturnRows(holdRows(&consumed))
		}

		got, err := repo.Consume(ctx, hold.ID, first)
		require.NoError(t, err)
		again, err := repo.Consume(ctx, hold.ID, first.Add(time.Minute))
		require.NoError(t, err)

		assert.Equal(t, models.HoldStatusConsumed, again.Status)
		assert.Equal(t, got.ConsumedAt, again.ConsumedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ReleasedOrMissing", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewHoldRepository(db)
		hold := sampleHold()

		mock.ExpectQuery(`UPDATE holds SET status = 'consumed'`).
			WillReturnRows(sqlmock.NewRows(holdRowColumns))

		got, err := repo.Consume(ctx, hold.ID, time.Now())
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SlotTakenAfterExpiry", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewHoldRepository(db)
		hold := sampleHold()

		mock.ExpectQuery(`UPDATE holds SET status = 'consumed'`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: holdBlockingIndex})

		got, err := repo.Consume(ctx, hold.ID, time.Now())
		assert.ErrorIs(t, err, ErrSlotTaken)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHoldRepository_ExpireLapsed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHoldRepository(db)
	now := time.Now()

	mock.ExpectExec(`UPDATE holds SET status = 'expired' WHERE id IN \( SELECT id FROM holds WHERE status = 'active' AND expires_at <= \$1 ORDER BY expires_at LIMIT \$2 FOR UPDATE SKIP LOCKED \)`).
		WithArgs(now, 100).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.ExpireLapsed(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldRepository_Release(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHoldRepository(db)
	hold := sampleHold()
	now := time.Now()

	mock.ExpectExec(`UPDATE holds SET status = 'released', released_at = \$2 WHERE id = \$1 AND status IN \('active', 'consumed'\)`).
		WithArgs(hold.ID, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE holds SET status = 'released'`).
		WithArgs(hold.ID, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	released, err := repo.Release(context.Background(), hold.ID, now)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = repo.Release(context.Background(), hold.ID, now)
	require.NoError(t, err)
	assert.False(t, released)
	assert.NoError(t, mock.ExpectationsWereMet())
}
