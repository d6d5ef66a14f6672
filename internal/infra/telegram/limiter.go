// internal/infra/telegram/limiter.go
package telegram

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// senderLimiter throttles commands per Telegram user.
type senderLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	every    rate.Limit
	burst    int
}

func newSenderLimiter(perMinute int) *senderLimiter {
	if perMinute <= 0 {
		return &senderLimiter{limiters: make(map[int64]*rate.Limiter), every: rate.Inf, burst: 1}
	}
	return &senderLimiter{
		limiters: make(map[int64]*rate.Limiter),
		every:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (l *senderLimiter) Allow(senderID int64) bool {
	l.mu.Lock()
	lim, ok := l.limiters[senderID]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters[senderID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
