package hijri

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func fixedClock(s string) func() time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func TestOracle_UsesRemoteMonthNumber(t *testing.T) {
	var gotDate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDate = r.URL.Query().Get("date")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"data":{"hijri":{"month":{"number":8,"en":"Shaʿbān"}}}}`))
	}))
	defer srv.Close()

	o := NewOracle(srv.URL, time.Second, time.UTC, testEntry())
	o.now = fixedClock("2024-02-20T10:00:00Z")

	assert.Equal(t, "Sha'ban", o.CurrentPeriod(context.Background()))
	assert.Equal(t, "20-02-2024", gotDate)
}

func TestOracle_FallsBackOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}},
		{"missing month", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":200,"data":{}}`))
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			o := NewOracle(srv.URL, 50*time.Millisecond, time.UTC, testEntry())
			o.now = fixedClock("2024-03-15T10:00:00Z") // 5 Ramadan 1445

			assert.Equal(t, "Ramadan", o.CurrentPeriod(context.Background()))
		})
	}
}

func TestOracle_UnreachableEndpointFallsBack(t *testing.T) {
	o := NewOracle("http://127.0.0.1:1/v1/gToH", 100*time.Millisecond, time.UTC, testEntry())
	o.now = fixedClock("2023-07-19T12:00:00Z")

	assert.Equal(t, "Muharram", o.CurrentPeriod(context.Background()))
}

func TestOracle_CachesWithinDay(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"code":200,"data":{"hijri":{"month":{"number":7,"en":"Rajab"}}}}`))
	}))
	defer srv.Close()

	o := NewOracle(srv.URL, time.Second, time.UTC, testEntry())
	now := fixedClock("2024-01-20T08:00:00Z")()
	o.now = func() time.Time { return now }

	require.Equal(t, "Rajab", o.CurrentPeriod(context.Background()))
	now = now.Add(10 * time.Hour)
	require.Equal(t, "Rajab", o.CurrentPeriod(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	now = now.Add(24 * time.Hour)
	o.CurrentPeriod(context.Background())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOracle_FallbackIsRetriedAndNeverGoesBackwards(t *testing.T) {
	var calls int32
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"hijri":{"month":{"number":9,"en":"Ramaḍān"}}}}`))
	}))
	defer srv.Close()

	o := NewOracle(srv.URL, time.Second, time.UTC, testEntry())
	now := fixedClock("2024-03-09T08:00:00Z")()
	o.now = func() time.Time { return now }
	ctx := context.Background()

	require.Equal(t, "Ramadan", o.CurrentPeriod(ctx))

	// The tabular calendar still says Sha'ban on 10 March.
	failing.Store(true)
	now = now.Add(24 * time.Hour)
	assert.Equal(t, "Ramadan", o.CurrentPeriod(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	now = now.Add(time.Minute)
	assert.Equal(t, "Ramadan", o.CurrentPeriod(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "fallback answer is served from cache for a while")

	now = now.Add(fallbackRetryAfter)
	assert.Equal(t, "Ramadan", o.CurrentPeriod(ctx))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "remote is retried after the fallback expires")

	failing.Store(false)
	now = now.Add(fallbackRetryAfter)
	assert.Equal(t, "Ramadan", o.CurrentPeriod(ctx))
	now = now.Add(time.Hour)
	assert.Equal(t, "Ramadan", o.CurrentPeriod(ctx))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "remote answer is cached for the day")
}

func TestPreviousMonth(t *testing.T) {
	assert.Equal(t, 12, previousMonth(1))
	assert.Equal(t, 8, previousMonth(9))
}
