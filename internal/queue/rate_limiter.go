package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiter defaults.
const (
	DefaultRatePerSecond = 1.0
	DefaultBurst         = 5
	defaultLimiterIdle   = 10 * time.Minute
)

// IdentityLimiter is a token bucket per identity.
type IdentityLimiter struct {
	limiters map[string]*identityBucket
	now      func() time.Time
	idle     time.Duration
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
}

type identityBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ RateLimiter = (*IdentityLimiter)(nil)

// NewIdentityLimiter allows rps sustained messages per identity with the given burst.
func NewIdentityLimiter(rps float64, burst int) *IdentityLimiter {
	if rps <= 0 {
		rps = DefaultRatePerSecond
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &IdentityLimiter{
		limiters: make(map[string]*identityBucket),
		now:      time.Now,
		idle:     defaultLimiterIdle,
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// Allow consumes a token for identity if one is available.
func (l *IdentityLimiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.limiters[identity]
	if !ok {
		b = &identityBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[identity] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Prune forgets identities idle long enough to have a full bucket again.
func (l *IdentityLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	removed := 0
	for id, b := range l.limiters {
		if b.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identities.
func (l *IdentityLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
