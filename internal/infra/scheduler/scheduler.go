package scheduler

import (
	"context"
	"time"

	"khatam_bot/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Reconciler is the part of the rollover service the scheduler drives.
type Reconciler interface {
	Reconcile(ctx context.Context, trigger string) (*app.Snapshot, error)
}

// ReconcileScheduler runs a periodic reconciliation so a period change is applied
// even when no participant is active and no change event arrives.
type ReconcileScheduler struct {
	cronEngine *cron.Cron
	reconciler Reconciler
	logger     *logrus.Entry
	cronSpec   string
	jobTimeout time.Duration
}

func NewReconcileScheduler(
	reconciler Reconciler,
	logger *logrus.Entry,
	cronSpec string, // e.g., "*/10 * * * *" (every 10 minutes)
	location *time.Location,
) *ReconcileScheduler {
	if location == nil {
		location = time.Local
	}
	return &ReconcileScheduler{
		cronEngine: cron.New(cron.WithLocation(location)),
		reconciler: reconciler,
		logger:     logger.WithField("component", "scheduler"),
		cronSpec:   cronSpec,
		jobTimeout: time.Minute,
	}
}

// Start registers the reconcile job and starts the cron engine.
func (s *ReconcileScheduler) Start() error {
	s.logger.Info("Starting reconcile scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpec, s.runReconcile)
	if err != nil {
		return err
	}

	s.cronEngine.Start()
	s.logger.WithField("spec", s.cronSpec).Info("Reconcile scheduler started")
	return nil
}

func (s *ReconcileScheduler) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	s.logger.Debug("Cron job triggered for reconciliation")
	snap, err := s.reconciler.Reconcile(ctx, "cron")
	if err != nil {
		s.logger.WithError(err).Error("Error during scheduled reconciliation")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"outcome": snap.Outcome,
		"claimed": snap.ClaimedCount(),
	}).Debug("Scheduled reconciliation finished")
}

func (s *ReconcileScheduler) Stop() {
	s.logger.Info("Stopping reconcile scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Reconcile scheduler gracefully stopped.")
}
