// internal/app/rollover_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"khatam_bot/internal/domain/khatam"
	"khatam_bot/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Outcome is what a reconciliation run did to the stores.
type Outcome string

const (
	OutcomeNoOp               Outcome = "noop"
	OutcomeInitialized        Outcome = "initialized"
	OutcomePeriodReset        Outcome = "period_reset"
	OutcomeCompletionRollover Outcome = "completion_rollover"
	// OutcomeSuperseded means another client won the conditional metadata write
	// for the same reset or rollover; this run wrote nothing.
	OutcomeSuperseded Outcome = "superseded"
	// OutcomeStaleCleared means a complete board outlived the rollover that
	// counted it; the board was cleared without an archive.
	OutcomeStaleCleared Outcome = "stale_cleared"
)

// DefaultStaleRolloverGrace is how long a complete board that predates the last
// metadata write is left to the client that advanced the counter.
const DefaultStaleRolloverGrace = 2 * time.Minute

// Snapshot is the state a reconciliation run observed and left behind.
type Snapshot struct {
	Period   string
	Metadata khatam.Metadata
	Units    khatam.Board
	Outcome  Outcome
	// Archived holds the history batch written by a completion rollover.
	Archived []khatam.HistoryEntry
	At       time.Time
}

// ClaimedCount is the number of claimed units on the snapshot board.
func (s *Snapshot) ClaimedCount() int {
	return s.Units.ClaimedCount()
}

// ClaimResult reports what a claim request actually changed.
type ClaimResult struct {
	Requested []int
	Claimed   []int // units this request won at the store
	Taken     []int // requested units that someone else already held
	Snapshot  *Snapshot
	// CompletedKhatam is set when the post-claim reconciliation archived the cycle.
	CompletedKhatam bool
}

// RolloverService runs the reconciliation path: it reads the board, the cycle
// metadata and the current period, and applies at most one period reset or
// completion rollover per run.
type RolloverService struct {
	units   khatam.UnitRepository
	meta    khatam.MetadataRepository
	history khatam.HistoryRepository
	oracle  khatam.PeriodOracle
	logger  *logrus.Entry

	mu sync.Mutex // one reconciliation at a time in this process

	lastMu sync.RWMutex
	last   *Snapshot

	hooksMu sync.RWMutex
	hooks   []func(Snapshot)

	trigger    chan string
	now        func() time.Time
	staleGrace time.Duration
}

func NewRolloverService(
	ur khatam.UnitRepository,
	mr khatam.MetadataRepository,
	hr khatam.HistoryRepository,
	oracle khatam.PeriodOracle,
	logger *logrus.Entry,
) *RolloverService {
	return &RolloverService{
		units:   ur,
		meta:    mr,
		history: hr,
		oracle:  oracle,
		logger:  logger.WithField("component", "rollover"),
		trigger:    make(chan string, 1),
		now:        time.Now,
		staleGrace: DefaultStaleRolloverGrace,
	}
}

// OnOutcome registers fn to be called (in its own goroutine) after every run
// that reset or rolled over the board.
func (s *RolloverService) OnOutcome(fn func(Snapshot)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// LastSnapshot returns the last successfully reconciled state, or nil before the first success.
func (s *RolloverService) LastSnapshot() *Snapshot {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

// Reconcile runs one pass of the state machine. On a store failure it returns an
// error wrapping khatam.ErrStoreUnavailable together with the last good snapshot
// (which may be nil).
func (s *RolloverService) Reconcile(ctx context.Context, trigger string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.now()
	defer func() { metrics.ReconcileDuration.Observe(time.Since(started).Seconds()) }()

	runLog := s.logger.WithFields(logrus.Fields{
		"run_id":  uuid.NewString(),
		"trigger": trigger,
	})

	snap, err := s.reconcileLocked(ctx, runLog)
	if err != nil {
		runLog.WithError(err).Warn("Reconciliation failed, keeping last known state")
		return s.LastSnapshot(), err
	}

	snap.At = s.now()
	s.lastMu.Lock()
	s.last = snap
	s.lastMu.Unlock()
	metrics.ReconciliationsTotal.WithLabelValues(string(snap.Outcome)).Inc()
	metrics.ClaimedUnits.Set(float64(snap.ClaimedCount()))
	metrics.CompletedCycles.Set(float64(snap.Metadata.CycleCount))

	if snap.Outcome == OutcomeNoOp {
		runLog.Debug("Board is consistent, nothing to do")
	} else {
		runLog.WithFields(logrus.Fields{
			"outcome": snap.Outcome,
			"period":  snap.Period,
			"cycle":   snap.Metadata.CycleCount,
		}).Info("Reconciliation applied")
	}
	if snap.Outcome == OutcomePeriodReset || snap.Outcome == OutcomeCompletionRollover {
		s.fireHooks(*snap)
	}
	return snap, nil
}

func (s *RolloverService) reconcileLocked(ctx context.Context, runLog *logrus.Entry) (*Snapshot, error) {
	period := s.oracle.CurrentPeriod(ctx)

	meta, err := s.meta.Get(ctx)
	if errors.Is(err, khatam.ErrMetadataNotFound) {
		return s.initialize(ctx, runLog, period)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cycle metadata: %w", err)
	}

	if meta.RecordedPeriod == "" {
		return s.adoptPeriod(ctx, runLog, *meta, period)
	}
	if meta.RecordedPeriod != period {
		return s.periodReset(ctx, runLog, *meta, period)
	}

	board, err := s.units.ListUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	if board.IsComplete() {
		return s.completionRollover(ctx, runLog, *meta, period, board)
	}

	return &Snapshot{Period: period, Metadata: *meta, Units: board, Outcome: OutcomeNoOp}, nil
}

// initialize handles the very first run: record cycle 0 under the current period
// and leave the board alone.
func (s *RolloverService) initialize(ctx context.Context, runLog *logrus.Entry, period string) (*Snapshot, error) {
	fresh := khatam.Metadata{CycleCount: 0, RecordedPeriod: period}
	if err := s.meta.Initialize(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to initialize cycle metadata: %w", err)
	}
	runLog.WithField("period", period).Info("No cycle metadata found, starting cycle 0")

	// Another client may have initialized first with a different period.
	stored, err := s.meta.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read cycle metadata: %w", err)
	}
	board, err := s.units.ListUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	return &Snapshot{Period: period, Metadata: *stored, Units: board, Outcome: OutcomeInitialized}, nil
}

// adoptPeriod stamps a record that was provisioned without a period. The board
// and the counter are kept.
func (s *RolloverService) adoptPeriod(ctx context.Context, runLog *logrus.Entry, meta khatam.Metadata, period string) (*Snapshot, error) {
	// Adopting is not a transition, so the record keeps its timestamp.
	next := khatam.Metadata{CycleCount: meta.CycleCount, RecordedPeriod: period, UpdatedAt: meta.UpdatedAt}
	won, err := s.meta.CompareAndSwap(ctx, meta, next)
	if err != nil {
		return nil, fmt.Errorf("failed to record period: %w", err)
	}
	if !won {
		return s.superseded(ctx, period)
	}
	runLog.WithField("period", period).Info("Cycle metadata had no period, adopted the current one")

	board, err := s.units.ListUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	return &Snapshot{Period: period, Metadata: next, Units: board, Outcome: OutcomeInitialized}, nil
}

// periodReset discards the unfinished cycle. Claims are not archived; they are
// logged so the discarded names stay traceable.
func (s *RolloverService) periodReset(ctx context.Context, runLog *logrus.Entry, meta khatam.Metadata, period string) (*Snapshot, error) {
	resetLog := runLog.WithFields(logrus.Fields{
		"recorded_period": meta.RecordedPeriod,
		"current_period":  period,
		"cycle":           meta.CycleCount,
	})

	if board, err := s.units.ListUnits(ctx); err == nil && board.ClaimedCount() > 0 {
		resetLog.WithFields(logrus.Fields{
			"claimed": board.ClaimedCount(),
			"claims":  describeClaims(board),
		}).Warn("Period changed with an unfinished cycle, discarding its claims")
	}

	next := khatam.Metadata{CycleCount: 0, RecordedPeriod: period}
	won, err := s.meta.CompareAndSwap(ctx, meta, next)
	if err != nil {
		return nil, fmt.Errorf("failed to record period reset: %w", err)
	}
	if !won {
		resetLog.Info("Period reset already applied by another client")
		return s.superseded(ctx, period)
	}

	if err := s.units.ClearAll(ctx); err != nil {
		s.revertMetadata(ctx, resetLog, next, meta)
		return nil, fmt.Errorf("failed to clear board for period reset: %w", err)
	}
	resetLog.Info("Period reset applied")

	return &Snapshot{Period: period, Metadata: next, Units: s.boardAfterClear(ctx, resetLog), Outcome: OutcomePeriodReset}, nil
}

// completionRollover archives a full board as cycle N+1 and clears it. The
// conditional metadata write decides which racing client archives; losers stop.
func (s *RolloverService) completionRollover(ctx context.Context, runLog *logrus.Entry, meta khatam.Metadata, period string, board khatam.Board) (*Snapshot, error) {
	cycleNumber := meta.CycleCount + 1
	rollLog := runLog.WithFields(logrus.Fields{"cycle": cycleNumber, "period": period})

	if completedBeforeLastWrite(board, meta) {
		if s.now().Sub(meta.UpdatedAt) < s.staleGrace {
			rollLog.Info("Board was completed before the last metadata write, another client is rolling it over")
			return &Snapshot{Period: period, Metadata: meta, Units: board, Outcome: OutcomeSuperseded}, nil
		}
		return s.clearStaleBoard(ctx, rollLog, meta, period, board)
	}

	entries := archiveEntries(board, cycleNumber, period, s.now())

	next := khatam.Metadata{CycleCount: cycleNumber, RecordedPeriod: period}
	won, err := s.meta.CompareAndSwap(ctx, meta, next)
	if err != nil {
		return nil, fmt.Errorf("failed to record completion rollover: %w", err)
	}
	if !won {
		rollLog.Info("Completion rollover already applied by another client")
		return s.superseded(ctx, period)
	}

	if err := s.units.ClearAll(ctx); err != nil {
		s.revertMetadata(ctx, rollLog, next, meta)
		return nil, fmt.Errorf("failed to clear board after completion: %w", err)
	}

	if err := s.history.AppendBatch(ctx, entries); err != nil {
		// The board is already cleared and the counter advanced. The archive for
		// this cycle is lost; the claims are logged so it can be restored by hand.
		rollLog.WithError(err).WithField("claims", describeClaims(board)).Error("Failed to archive completed khatam")
		return &Snapshot{Period: period, Metadata: next, Units: s.boardAfterClear(ctx, rollLog), Outcome: OutcomeCompletionRollover}, nil
	}
	rollLog.WithField("entries", len(entries)).Info("Khatam completed and archived")

	return &Snapshot{
		Period:   period,
		Metadata: next,
		Units:    s.boardAfterClear(ctx, rollLog),
		Outcome:  OutcomeCompletionRollover,
		Archived: entries,
	}, nil
}

// clearStaleBoard handles a rollover that advanced the counter but never cleared
// the board. The cycle is already counted, so the board is cleared without an
// archive and the claims are logged for manual recovery.
func (s *RolloverService) clearStaleBoard(ctx context.Context, log *logrus.Entry, meta khatam.Metadata, period string, board khatam.Board) (*Snapshot, error) {
	log.WithFields(logrus.Fields{
		"counted_cycle": meta.CycleCount,
		"metadata_at":   meta.UpdatedAt,
		"claims":        describeClaims(board),
	}).Error("Completed board was never cleared by its rollover, clearing it without an archive")

	if err := s.units.ClearAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear stale board: %w", err)
	}
	return &Snapshot{Period: period, Metadata: meta, Units: s.boardAfterClear(ctx, log), Outcome: OutcomeStaleCleared}, nil
}

// superseded re-reads the state another client just wrote.
func (s *RolloverService) superseded(ctx context.Context, period string) (*Snapshot, error) {
	meta, err := s.meta.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read cycle metadata: %w", err)
	}
	board, err := s.units.ListUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	return &Snapshot{Period: period, Metadata: *meta, Units: board, Outcome: OutcomeSuperseded}, nil
}

// revertMetadata undoes a won conditional write whose follow-up failed, so the
// next run retries the whole transition. previous keeps its original timestamp.
func (s *RolloverService) revertMetadata(ctx context.Context, log *logrus.Entry, written, previous khatam.Metadata) {
	ok, err := s.meta.CompareAndSwap(ctx, written, previous)
	switch {
	case err != nil:
		log.WithError(err).Error("Failed to revert cycle metadata, state will self-correct on a later run")
	case !ok:
		log.Warn("Cycle metadata changed before revert, leaving it as is")
	default:
		log.Info("Cycle metadata reverted")
	}
}

func (s *RolloverService) boardAfterClear(ctx context.Context, log *logrus.Entry) khatam.Board {
	board, err := s.units.ListUnits(ctx)
	if err == nil {
		return board
	}
	log.WithError(err).Warn("Failed to re-read board after clearing, assuming empty board")
	board = make(khatam.Board, khatam.TotalUnits)
	for i := range board {
		board[i] = khatam.Unit{Index: i + 1}
	}
	return board
}

func (s *RolloverService) fireHooks(snap Snapshot) {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	for _, h := range s.hooks {
		go h(snap)
	}
}

// Claim assigns the selected units to claimantName and reconciles. Units taken
// by someone else in the meantime are reported through a *ConflictError, which
// is returned together with a non-nil result.
func (s *RolloverService) Claim(ctx context.Context, indices []int, claimantName string) (*ClaimResult, error) {
	name := strings.TrimSpace(claimantName)
	requested, err := normalizeSelection(indices, name)
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	claimLog := s.logger.WithFields(logrus.Fields{"units": requested, "claimant": name})

	claimed, err := s.units.ClaimUnits(ctx, requested, name)
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues("error").Inc()
		claimLog.WithError(err).Error("Failed to claim units")
		return nil, fmt.Errorf("failed to claim units: %w", err)
	}
	sort.Ints(claimed)

	res := &ClaimResult{
		Requested: requested,
		Claimed:   claimed,
		Taken:     difference(requested, claimed),
	}

	// The local view is never trusted after a write; reconcile re-reads the board.
	snap, err := s.Reconcile(ctx, "claim")
	res.Snapshot = snap
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues("error").Inc()
		err = fmt.Errorf("claimed units but failed to refresh the board: %w", err)
		if len(res.Taken) > 0 {
			err = errors.Join(err, &ConflictError{Taken: res.Taken})
		}
		return res, err
	}
	res.CompletedKhatam = len(claimed) > 0 && snap.Outcome == OutcomeCompletionRollover

	if len(res.Taken) > 0 {
		metrics.ClaimsTotal.WithLabelValues("conflict").Inc()
		claimLog.WithField("taken", res.Taken).Warn("Some units were already taken")
		return res, &ConflictError{Taken: res.Taken}
	}
	metrics.ClaimsTotal.WithLabelValues("ok").Inc()
	claimLog.Info("Units claimed")
	return res, nil
}

// Trigger asks the background loop for a reconciliation. Pending requests coalesce.
func (s *RolloverService) Trigger(reason string) {
	select {
	case s.trigger <- reason:
	default:
	}
}

// Start subscribes to notifier and reconciles on every board-affecting change
// until ctx is cancelled. History events are ignored.
func (s *RolloverService) Start(ctx context.Context, notifier khatam.ChangeNotifier) error {
	sub := notifier.Subscribe(func(ev khatam.ChangeEvent) {
		if !ev.AffectsBoard() {
			return
		}
		reason := "notify"
		if ev.Relation != khatam.RelationUnknown {
			reason = "notify:" + string(ev.Relation)
		}
		s.Trigger(reason)
	})
	defer notifier.Unsubscribe(sub)

	s.logger.Info("Rollover loop started")
	s.Trigger("startup")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Rollover loop stopped")
			return nil
		case reason := <-s.trigger:
			// Errors are logged inside Reconcile; the last good snapshot stays in place.
			_, _ = s.Reconcile(ctx, reason)
		}
	}
}

func normalizeSelection(indices []int, name string) ([]int, error) {
	if len(indices) == 0 {
		return nil, &ValidationError{Reason: "select at least one Juz"}
	}
	if name == "" {
		return nil, &ValidationError{Reason: "enter your name"}
	}
	seen := make(map[int]bool, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if !khatam.ValidIndex(i) {
			return nil, &ValidationError{Reason: fmt.Sprintf("Juz %d does not exist, choose 1-%d", i, khatam.TotalUnits)}
		}
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}

// completedBeforeLastWrite reports whether every claim on board predates the
// metadata record. A complete board older than the record belongs to a rollover
// another client has already counted and is about to clear.
func completedBeforeLastWrite(board khatam.Board, meta khatam.Metadata) bool {
	if meta.UpdatedAt.IsZero() {
		return false
	}
	var latest time.Time
	for _, u := range board {
		if !u.ClaimedAt.Valid {
			return false
		}
		if u.ClaimedAt.Time.After(latest) {
			latest = u.ClaimedAt.Time
		}
	}
	return latest.Before(meta.UpdatedAt)
}

func archiveEntries(board khatam.Board, cycleNumber int, period string, at time.Time) []khatam.HistoryEntry {
	entries := make([]khatam.HistoryEntry, 0, len(board))
	for _, u := range board {
		name := u.ClaimantName.String
		if !u.ClaimantName.Valid || strings.TrimSpace(name) == "" {
			name = khatam.AnonymousName
		}
		entries = append(entries, khatam.HistoryEntry{
			CycleNumber:  cycleNumber,
			UnitIndex:    u.Index,
			ClaimantName: name,
			PeriodName:   period,
			ArchivedAt:   at,
		})
	}
	return entries
}

func describeClaims(board khatam.Board) string {
	var b strings.Builder
	for _, u := range board {
		if !u.Claimed() {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d:%s", u.Index, u.ClaimantName.String)
	}
	return b.String()
}

func difference(all, subtract []int) []int {
	drop := make(map[int]bool, len(subtract))
	for _, i := range subtract {
		drop[i] = true
	}
	var out []int
	for _, i := range all {
		if !drop[i] {
			out = append(out, i)
		}
	}
	return out
}
