// internal/infra/hijri/oracle.go
package hijri

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"khatam_bot/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

// Oracle names the current Hijri month. It asks a remote gToH endpoint first and
// falls back to the tabular calendar, so CurrentPeriod always returns a name.
type Oracle struct {
	endpoint string
	client   *http.Client
	location *time.Location
	logger   *logrus.Entry
	now      func() time.Time

	mu          sync.Mutex
	cachedDay   string
	cached      string
	cachedUntil time.Time // zero when the answer holds for the whole day
	lastRemote  int       // month number of the last remote answer
}

// fallbackRetryAfter bounds how long a tabular answer is served before the
// remote endpoint is asked again.
const fallbackRetryAfter = 5 * time.Minute

func NewOracle(endpoint string, timeout time.Duration, location *time.Location, logger *logrus.Entry) *Oracle {
	if location == nil {
		location = time.UTC
	}
	return &Oracle{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		location: location,
		logger:   logger.WithField("component", "period_oracle"),
		now:      time.Now,
	}
}

// CurrentPeriod returns the month name for today. A remote answer is cached for
// the rest of the calendar day in the configured location; a tabular answer only
// until fallbackRetryAfter has passed.
func (o *Oracle) CurrentPeriod(ctx context.Context) string {
	now := o.now()
	today := now.In(o.location)
	dayKey := today.Format("2006-01-02")

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cachedDay == dayKey && (o.cachedUntil.IsZero() || now.Before(o.cachedUntil)) {
		metrics.PeriodLookupsTotal.WithLabelValues("cache").Inc()
		return o.cached
	}

	month, err := o.fetchMonth(ctx, today)
	if err == nil {
		metrics.PeriodLookupsTotal.WithLabelValues("remote").Inc()
		o.lastRemote = month
		o.cachedDay, o.cached, o.cachedUntil = dayKey, MonthName(month), time.Time{}
		return o.cached
	}

	month = Tabular(today).Month
	// The tabular calendar can trail the observed one by a day around a month
	// boundary. Months never go backwards, so keep the last remote month then.
	if o.lastRemote != 0 && month == previousMonth(o.lastRemote) {
		month = o.lastRemote
	}
	name := MonthName(month)
	metrics.PeriodLookupsTotal.WithLabelValues("fallback").Inc()
	o.logger.WithError(err).WithField("period", name).Warn("Period lookup failed, using tabular calendar")

	o.cachedDay, o.cached, o.cachedUntil = dayKey, name, now.Add(fallbackRetryAfter)
	return name
}

func previousMonth(month int) int {
	if month == 1 {
		return 12
	}
	return month - 1
}

type gToHResponse struct {
	Code int `json:"code"`
	Data struct {
		Hijri struct {
			Month struct {
				Number int    `json:"number"`
				En     string `json:"en"`
			} `json:"month"`
		} `json:"hijri"`
	} `json:"data"`
}

// fetchMonth returns the Hijri month number (1..12) for day.
func (o *Oracle) fetchMonth(ctx context.Context, day time.Time) (int, error) {
	u, err := url.Parse(o.endpoint)
	if err != nil {
		return 0, fmt.Errorf("invalid period endpoint: %w", err)
	}
	q := u.Query()
	q.Set("date", day.Format("02-01-2006"))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build period request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("period request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("period request returned status %d", resp.StatusCode)
	}

	var body gToHResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode period response: %w", err)
	}
	month := body.Data.Hijri.Month.Number
	if MonthName(month) == "" {
		return 0, fmt.Errorf("period response has invalid month number %d (%q)", month, body.Data.Hijri.Month.En)
	}
	return month, nil
}
