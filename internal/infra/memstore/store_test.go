package memstore

import (
	"context"
	"sync"
	"testing"

	"khatam_bot/internal/domain/khatam"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ClaimOnlyTakesUnclaimedUnits(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Seed(map[int]string{2: "Khalid"})

	claimed, err := s.ClaimUnits(ctx, []int{1, 2, 3, 99}, "Sara")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, claimed)

	board, err := s.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, board, khatam.TotalUnits)
	assert.Equal(t, 3, board.ClaimedCount())
	u, _ := board.Unit(2)
	assert.Equal(t, "Khalid", u.ClaimantName.String)
}

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := New()

	won, err := s.CompareAndSwap(ctx, khatam.Metadata{}, khatam.Metadata{CycleCount: 1})
	require.NoError(t, err)
	assert.False(t, won, "no record yet")

	require.NoError(t, s.Initialize(ctx, khatam.Metadata{RecordedPeriod: "Rajab"}))
	require.NoError(t, s.Initialize(ctx, khatam.Metadata{RecordedPeriod: "Safar"}))

	won, err = s.CompareAndSwap(ctx, khatam.Metadata{RecordedPeriod: "Rajab"}, khatam.Metadata{CycleCount: 1, RecordedPeriod: "Rajab"})
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.CompareAndSwap(ctx, khatam.Metadata{RecordedPeriod: "Rajab"}, khatam.Metadata{CycleCount: 1, RecordedPeriod: "Rajab"})
	require.NoError(t, err)
	assert.False(t, won, "expected state is stale")

	meta, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.CycleCount)
	assert.False(t, meta.UpdatedAt.IsZero())
}

func TestStore_CompareAndSwapKeepsGivenTimestamp(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SeedMetadata(0, "Rajab")
	before, err := s.Get(ctx)
	require.NoError(t, err)

	won, err := s.CompareAndSwap(ctx, *before, khatam.Metadata{CycleCount: 1, RecordedPeriod: "Rajab"})
	require.NoError(t, err)
	require.True(t, won)

	won, err = s.CompareAndSwap(ctx, khatam.Metadata{CycleCount: 1, RecordedPeriod: "Rajab"}, *before)
	require.NoError(t, err)
	require.True(t, won)

	after, err := s.Get(ctx)
	require.NoError(t, err)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestStore_NotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	s := New()

	var mu sync.Mutex
	var got []khatam.ChangeEvent
	id := s.Subscribe(func(ev khatam.ChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	_, err := s.ClaimUnits(ctx, []int{4}, "Ali")
	require.NoError(t, err)
	require.NoError(t, s.AppendBatch(ctx, []khatam.HistoryEntry{{CycleNumber: 1, UnitIndex: 1, ClaimantName: "Ali", PeriodName: "Rajab"}}))

	s.Unsubscribe(id)
	require.NoError(t, s.ClearAll(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, khatam.ChangeEvent{Relation: khatam.RelationUnits, Operation: "UPDATE", Keys: []int{4}}, got[0])
	assert.Equal(t, khatam.RelationHistory, got[1].Relation)
	assert.False(t, got[1].AffectsBoard())
}

func TestStore_FailNextFailsOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailNext()

	_, err := s.ListUnits(ctx)
	assert.ErrorIs(t, err, khatam.ErrStoreUnavailable)

	_, err = s.ListUnits(ctx)
	assert.NoError(t, err)
}
