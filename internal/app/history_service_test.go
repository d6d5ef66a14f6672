package app

import (
	"context"
	"testing"

	"khatam_bot/internal/domain/khatam"
	"khatam_bot/internal/infra/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupHistory_GroupsByPeriodThenCycle(t *testing.T) {
	entries := []khatam.HistoryEntry{
		{CycleNumber: 1, UnitIndex: 2, ClaimantName: "B", PeriodName: "Rajab"},
		{CycleNumber: 1, UnitIndex: 1, ClaimantName: "A", PeriodName: "Rajab"},
		{CycleNumber: 2, UnitIndex: 1, ClaimantName: "C", PeriodName: "Rajab"},
		{CycleNumber: 1, UnitIndex: 1, ClaimantName: "D", PeriodName: "Sha'ban"},
	}

	groups := GroupHistory(entries)
	require.Len(t, groups, 2)

	assert.Equal(t, "Rajab", groups[0].Period)
	require.Len(t, groups[0].Cycles, 2)
	assert.Equal(t, 2, groups[0].Cycles[0].Number, "newest cycle first")
	assert.Equal(t, 1, groups[0].Cycles[1].Number)
	assert.Equal(t, 1, groups[0].Cycles[1].Entries[0].UnitIndex)
	assert.Equal(t, 2, groups[0].Cycles[1].Entries[1].UnitIndex)

	assert.Equal(t, "Sha'ban", groups[1].Period)
	assert.Len(t, groups[1].Cycles, 1)
}

func TestHistoryService_BrowseAfterRollover(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.SeedMetadata(0, "Ramadan")
	store.Seed(claimsFor(1, 30, "Ali"))
	_, err := newService(store, &stubOracle{period: "Ramadan"}).Reconcile(ctx, "test")
	require.NoError(t, err)

	groups, err := NewHistoryService(store).Browse(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Ramadan", groups[0].Period)
	require.Len(t, groups[0].Cycles, 1)
	assert.Equal(t, 1, groups[0].Cycles[0].Number)
	assert.Len(t, groups[0].Cycles[0].Entries, khatam.TotalUnits)
}

func TestHistoryService_BrowsePropagatesStoreErrors(t *testing.T) {
	store := memstore.New()
	store.FailNext()

	_, err := NewHistoryService(store).Browse(context.Background())
	assert.ErrorIs(t, err, khatam.ErrStoreUnavailable)
}
