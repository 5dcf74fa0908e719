package fetcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter ограничивает частоту запросов к каждому хосту (token bucket)
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewRateLimiter rpm запросов в минуту на хост, burst не больше maxConcurrent
func NewRateLimiter(maxConcurrent, rpm int) *RateLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	limit := rate.Inf
	if rpm > 0 {
		limit = rate.Every(time.Minute / time.Duration(rpm))
	}
	return &RateLimiter{
		limit:    limit,
		burst:    maxConcurrent,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) Wait(ctx context.Context, host string) error {
	return rl.limiter(host).Wait(ctx)
}

func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[host]
	rl.mu.RUnlock()
	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists = rl.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters[host] = limiter
	return limiter
}
