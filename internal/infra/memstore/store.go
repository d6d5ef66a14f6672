// Package memstore keeps the board, metadata and history in process memory.
// It backs STORE_DRIVER=memory and the service tests.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"khatam_bot/internal/domain/khatam"
)

// Store implements the unit, metadata and history repositories and the change
// notifier on top of a single mutex.
type Store struct {
	mu      sync.Mutex
	units   []khatam.Unit
	meta    *khatam.Metadata
	history []khatam.HistoryEntry
	nextID  int64

	subsMu  sync.Mutex
	subs    map[khatam.SubscriptionID]func(khatam.ChangeEvent)
	nextSub khatam.SubscriptionID

	// failNext makes the next repository call return ErrStoreUnavailable.
	failNext bool

	now func() time.Time
}

// New returns a store with all units pre-provisioned and no metadata.
func New() *Store {
	s := &Store{
		units:  make([]khatam.Unit, khatam.TotalUnits),
		subs:   make(map[khatam.SubscriptionID]func(khatam.ChangeEvent)),
		nextID: 1,
		now:    time.Now,
	}
	for i := range s.units {
		s.units[i] = khatam.Unit{Index: i + 1}
	}
	return s
}

// FailNext makes the next repository call fail with khatam.ErrStoreUnavailable.
func (s *Store) FailNext() {
	s.mu.Lock()
	s.failNext = true
	s.mu.Unlock()
}

func (s *Store) takeFailure() error {
	if s.failNext {
		s.failNext = false
		return khatam.ErrStoreUnavailable
	}
	return nil
}

// --- UnitRepository ---

func (s *Store) ListUnits(ctx context.Context) (khatam.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	board := make(khatam.Board, len(s.units))
	copy(board, s.units)
	return board, nil
}

func (s *Store) ClaimUnits(ctx context.Context, indices []int, claimantName string) ([]int, error) {
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	now := s.now()
	claimed := make([]int, 0, len(indices))
	for _, idx := range indices {
		if !khatam.ValidIndex(idx) {
			continue
		}
		u := &s.units[idx-1]
		if u.Claimed() {
			continue
		}
		u.ClaimantName = sql.NullString{String: claimantName, Valid: true}
		u.ClaimedAt = sql.NullTime{Time: now, Valid: true}
		claimed = append(claimed, idx)
	}
	s.mu.Unlock()

	if len(claimed) > 0 {
		s.publish(khatam.ChangeEvent{Relation: khatam.RelationUnits, Operation: "UPDATE", Keys: claimed})
	}
	return claimed, nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return err
	}
	for i := range s.units {
		s.units[i].ClaimantName = sql.NullString{}
		s.units[i].ClaimedAt = sql.NullTime{}
	}
	s.mu.Unlock()

	s.publish(khatam.ChangeEvent{Relation: khatam.RelationUnits, Operation: "UPDATE"})
	return nil
}

// --- MetadataRepository ---

func (s *Store) Get(ctx context.Context) (*khatam.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	if s.meta == nil {
		return nil, khatam.ErrMetadataNotFound
	}
	m := *s.meta
	return &m, nil
}

func (s *Store) Initialize(ctx context.Context, meta khatam.Metadata) error {
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.meta != nil {
		s.mu.Unlock()
		return nil
	}
	meta.UpdatedAt = s.now()
	s.meta = &meta
	s.mu.Unlock()

	s.publish(khatam.ChangeEvent{Relation: khatam.RelationMetadata, Operation: "INSERT"})
	return nil
}

func (s *Store) Write(ctx context.Context, meta khatam.Metadata) error {
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return err
	}
	meta.UpdatedAt = s.now()
	s.meta = &meta
	s.mu.Unlock()

	s.publish(khatam.ChangeEvent{Relation: khatam.RelationMetadata, Operation: "UPDATE"})
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, expected, next khatam.Metadata) (bool, error) {
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if s.meta == nil || !s.meta.SameState(expected) {
		s.mu.Unlock()
		return false, nil
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = s.now()
	}
	s.meta = &next
	s.mu.Unlock()

	s.publish(khatam.ChangeEvent{Relation: khatam.RelationMetadata, Operation: "UPDATE"})
	return true, nil
}

// --- HistoryRepository ---

func (s *Store) AppendBatch(ctx context.Context, entries []khatam.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return err
	}
	now := s.now()
	for _, e := range entries {
		e.ID = s.nextID
		s.nextID++
		if e.ArchivedAt.IsZero() {
			e.ArchivedAt = now
		}
		s.history = append(s.history, e)
	}
	s.mu.Unlock()

	s.publish(khatam.ChangeEvent{Relation: khatam.RelationHistory, Operation: "INSERT"})
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]khatam.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]khatam.HistoryEntry, len(s.history))
	copy(out, s.history)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- ChangeNotifier ---

func (s *Store) Subscribe(onChange func(khatam.ChangeEvent)) khatam.SubscriptionID {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.nextSub++
	s.subs[s.nextSub] = onChange
	return s.nextSub
}

func (s *Store) Unsubscribe(id khatam.SubscriptionID) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs, id)
}

func (s *Store) publish(ev khatam.ChangeEvent) {
	s.subsMu.Lock()
	handlers := make([]func(khatam.ChangeEvent), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.subsMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
