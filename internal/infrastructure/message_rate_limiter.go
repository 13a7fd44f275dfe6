package infrastructure

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SendLimiter throttles outbound sends per organization so a busy tenant cannot
// trip provider-side limits for everyone else.
type SendLimiter struct {
	mu       sync.Mutex
	limiters map[string]*orgLimiter
	rate     rate.Limit
	burst    int
	idle     time.Duration
}

type orgLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSendLimiter allows perSecond sends per organization with the given burst.
func NewSendLimiter(perSecond float64, burst int) *SendLimiter {
	if burst < 1 {
		burst = 1
	}
	return &SendLimiter{
		limiters: make(map[string]*orgLimiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

// Wait blocks until orgID may send or ctx is done.
func (l *SendLimiter) Wait(ctx context.Context, orgID string) error {
	return l.get(orgID).Wait(ctx)
}

func (l *SendLimiter) get(orgID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[orgID]
	if !ok {
		entry = &orgLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[orgID] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Run evicts idle organizations until ctx is cancelled.
func (l *SendLimiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evictIdle(now)
		}
	}
}

func (l *SendLimiter) evictIdle(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for orgID, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.limiters, orgID)
			evicted++
		}
	}
	return evicted
}

// Active returns the number of organizations currently tracked.
func (l *SendLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
