// Package ratelimit provides per-user request throttling backed by token
// buckets.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key (user ID). Buckets are created
// lazily and refill at an hourly rate with a configurable burst.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

func New(requestsPerHour, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rate:    rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:   burst,
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether the key may make another request now.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// Tokens returns the key's currently available request budget.
func (l *Limiter) Tokens(key string) float64 {
	return l.bucket(key).Tokens()
}
