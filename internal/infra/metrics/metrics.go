// internal/infra/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// ReconciliationsTotal counts reconciliation runs by outcome (noop, initialized, period_reset, ...).
	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "khatam_reconciliations_total",
		Help: "Reconciliation runs by outcome",
	}, []string{"outcome"})

	// ClaimsTotal counts claim requests by result.
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "khatam_claims_total",
		Help: "Claim requests by result",
	}, []string{"result"})

	ClaimedUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "khatam_claimed_units",
		Help: "Units claimed on the board as of the last reconciliation",
	})

	CompletedCycles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "khatam_completed_cycles",
		Help: "Completed khatams recorded for the current period",
	})

	// PeriodLookupsTotal counts period resolutions by source (remote, fallback, cache).
	PeriodLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "khatam_period_lookups_total",
		Help: "Period name lookups by source",
	}, []string{"source"})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "khatam_reconcile_duration_seconds",
		Help:    "Reconciliation run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
	})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Metrics server shutdown failed")
		}
	}()

	log.WithField("addr", addr).Info("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
