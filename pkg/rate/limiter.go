package rate

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter limits operations per key, typically the fee payer of a
// transaction.
type Limiter interface {
	Allow(key string) bool
}

type localLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalLimiter returns an in memory Limiter allowing perSecond operations
// per key. Bursts of up to perSecond operations, and at least one, are
// permitted.
func NewLocalLimiter(perSecond float64) Limiter {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}

	return &localLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *localLimiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// NoLimiter never limits operations
type NoLimiter struct {
}

func (n *NoLimiter) Allow(_ string) bool {
	return true
}
