// internal/domain/khatam/repository.go
package khatam

import (
	"context"
	"errors"
)

// ErrStoreUnavailable wraps every transport or persistence failure returned by a repository.
var ErrStoreUnavailable = errors.New("khatam store unavailable")

// ErrMetadataNotFound signals that the metadata row has never been written (first run).
var ErrMetadataNotFound = errors.New("khatam metadata not found")

// UnitRepository owns the 30 pre-provisioned units.
type UnitRepository interface {
	ListUnits(ctx context.Context) (Board, error) // ordered by index
	// ClaimUnits sets the claimant on every listed unit that is still unclaimed at
	// apply time and returns the indices it actually updated.
	ClaimUnits(ctx context.Context, indices []int, claimantName string) ([]int, error)
	ClearAll(ctx context.Context) error
}

// MetadataRepository holds the singleton cycle record.
type MetadataRepository interface {
	Get(ctx context.Context) (*Metadata, error)
	// Initialize inserts meta only when no record exists yet.
	Initialize(ctx context.Context, meta Metadata) error
	// Write overwrites the record unconditionally. Reserved for administrative resets.
	Write(ctx context.Context, meta Metadata) error
	// CompareAndSwap writes next only if the stored record still equals expected.
	// It reports whether this call won the write. next.UpdatedAt is stored as
	// given when set, otherwise the record is stamped with the write time.
	CompareAndSwap(ctx context.Context, expected, next Metadata) (bool, error)
}

// HistoryRepository is the append-only archive of completed cycles.
type HistoryRepository interface {
	AppendBatch(ctx context.Context, entries []HistoryEntry) error
	ListAll(ctx context.Context) ([]HistoryEntry, error)
}

// PeriodOracle names the current period. Implementations never fail.
type PeriodOracle interface {
	CurrentPeriod(ctx context.Context) string
}
