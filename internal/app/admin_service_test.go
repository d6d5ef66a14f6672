package app

import (
	"context"
	"testing"

	"khatam_bot/internal/infra/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminService_ResetBoard(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.SeedMetadata(5, "Rajab")
	store.Seed(claimsFor(1, 10, "Ali"))
	oracle := &stubOracle{period: "Rajab"}
	admin := NewAdminService(store, store, oracle, newService(store, oracle), 42, testLogger())

	_, err := admin.ResetBoard(ctx, 7)
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)

	snap, err := admin.ResetBoard(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ClaimedCount())
	assert.Equal(t, 0, snap.Metadata.CycleCount)
	assert.Equal(t, "Rajab", snap.Metadata.RecordedPeriod)

	history, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}
