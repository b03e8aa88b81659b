package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter token bucket por organización con golang.org/x/time/rate.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter perMinute llamadas por minuto con ráfaga burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
	}
}

// Wait bloquea hasta que haya cupo para orgID y devuelve el tiempo esperado.
func (l *RateLimiter) Wait(ctx context.Context, orgID string) (time.Duration, error) {
	start := time.Now()
	if err := l.limiter(orgID).Wait(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (l *RateLimiter) limiter(orgID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[orgID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[orgID] = lim
	}
	return lim
}
