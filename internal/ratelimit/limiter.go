package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages token-bucket rate limits keyed by user.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a per-user limiter allowing requestsPerMinute
// sustained with the given burst.
func NewLimiter(requestsPerMinute int, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (l *Limiter) limiter(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[userID] = lim
	}
	return lim
}

// Allow reports whether the user may make a request now.
func (l *Limiter) Allow(userID string) bool {
	return l.limiter(userID).Allow()
}

// Tokens returns the user's currently available tokens.
func (l *Limiter) Tokens(userID string) float64 {
	return l.limiter(userID).Tokens()
}
