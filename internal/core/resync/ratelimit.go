package resync

import (
	"context"
	"sync"
	"time"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/time/rate"
)

const (
	// ProactiveRate keeps us under the authenticated 5000/hour quota.
	ProactiveRate = 1.2
	MinBuffer     = 100
)

// RateLimiter throttles GitHub calls with a token bucket and backs off until
// the reset time once the reported quota runs low.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	bucket    *rate.Limiter
	minBuffer int
}

func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		rps = ProactiveRate
	}
	return &RateLimiter{
		remaining: 5000,
		bucket:    rate.NewLimiter(rate.Limit(rps), 1),
		minBuffer: MinBuffer,
	}
}

func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining, reset := r.remaining, r.resetTime
	r.mu.Unlock()

	if remaining < r.minBuffer && time.Now().Before(reset) {
		timer := time.NewTimer(time.Until(reset))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Update records the quota reported on a response.
func (r *RateLimiter) Update(resp *gh.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = resp.Rate.Remaining
	r.resetTime = resp.Rate.Reset.Time
}
