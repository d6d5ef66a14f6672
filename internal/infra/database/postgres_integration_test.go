package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"khatam_bot/internal/domain/khatam"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to KHATAM_TEST_DATABASE_URL and resets the khatam tables.
// Tests are skipped when the variable is not set.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("KHATAM_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KHATAM_TEST_DATABASE_URL not set")
	}
	db, err := NewPostgresConnection(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, EnsureSchema(ctx, db, "khatam_changes_test"))
	_, err = db.ExecContext(ctx, `TRUNCATE khatam_history; DELETE FROM khatam_metadata; UPDATE khatam_units SET claimant_name = NULL, claimed_at = NULL`)
	require.NoError(t, err)
	return db
}

func TestPostgresUnitRepository_ClaimAndClear(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewPostgresUnitRepository(db)

	claimed, err := repo.ClaimUnits(ctx, []int{1, 2, 3}, "Ali")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3}, claimed)

	claimed, err = repo.ClaimUnits(ctx, []int{3, 4}, "Sara")
	require.NoError(t, err)
	assert.Equal(t, []int{4}, claimed)

	board, err := repo.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, board, khatam.TotalUnits)
	assert.Equal(t, 4, board.ClaimedCount())
	u, _ := board.Unit(3)
	assert.Equal(t, "Ali", u.ClaimantName.String)
	assert.True(t, u.ClaimedAt.Valid)

	require.NoError(t, repo.ClearAll(ctx))
	board, err = repo.ListUnits(ctx)
	require.NoError(t, err)
	assert.Zero(t, board.ClaimedCount())
}

func TestPostgresMetadataRepository_CompareAndSwap(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewPostgresMetadataRepository(db)

	_, err := repo.Get(ctx)
	assert.ErrorIs(t, err, khatam.ErrMetadataNotFound)

	require.NoError(t, repo.Initialize(ctx, khatam.Metadata{RecordedPeriod: "Rajab"}))
	require.NoError(t, repo.Initialize(ctx, khatam.Metadata{RecordedPeriod: "Safar"}))

	start := khatam.Metadata{RecordedPeriod: "Rajab"}
	next := khatam.Metadata{CycleCount: 1, RecordedPeriod: "Rajab"}

	won, err := repo.CompareAndSwap(ctx, start, next)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.CompareAndSwap(ctx, start, next)
	require.NoError(t, err)
	assert.False(t, won)

	meta, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.CycleCount)
	assert.Equal(t, "Rajab", meta.RecordedPeriod)

	restoreAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	won, err = repo.CompareAndSwap(ctx, next, khatam.Metadata{RecordedPeriod: "Rajab", UpdatedAt: restoreAt})
	require.NoError(t, err)
	assert.True(t, won)

	meta, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, restoreAt.Equal(meta.UpdatedAt))
}

func TestPostgresHistoryRepository_AppendAndList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewPostgresHistoryRepository(db)

	batch := make([]khatam.HistoryEntry, 0, khatam.TotalUnits)
	for i := 1; i <= khatam.TotalUnits; i++ {
		batch = append(batch, khatam.HistoryEntry{CycleNumber: 1, UnitIndex: i, ClaimantName: "Ali", PeriodName: "Rajab"})
	}
	require.NoError(t, repo.AppendBatch(ctx, batch))

	entries, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, khatam.TotalUnits)
	assert.Equal(t, 1, entries[0].UnitIndex)
	assert.False(t, entries[0].ArchivedAt.IsZero())
}

func TestUnavailable_WrapsStoreSentinel(t *testing.T) {
	err := unavailable(errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, khatam.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}
