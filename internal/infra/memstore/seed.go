package memstore

import (
	"time"

	"khatam_bot/internal/domain/khatam"
)

// Seed claims units directly without emitting change events. The claims are
// stamped one minute in the past.
func (s *Store) Seed(claims map[int]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now().Add(-time.Minute)
	for idx, name := range claims {
		u := &s.units[idx-1]
		u.ClaimantName.String, u.ClaimantName.Valid = name, true
		u.ClaimedAt.Time, u.ClaimedAt.Valid = at, true
	}
}

// SeedMetadata stores meta directly without emitting change events. The record
// is stamped one hour in the past.
func (s *Store) SeedMetadata(cycleCount int, period string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = &khatam.Metadata{CycleCount: cycleCount, RecordedPeriod: period, UpdatedAt: s.now().Add(-time.Hour)}
}
