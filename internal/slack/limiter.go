package slack

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces Slack calls for the whole process. It combines a token bucket
// with a cooldown gate that blocks every caller after a 429 until the
// Retry-After window has passed. One Limiter is shared by all tenant clients.
type Limiter struct {
	bucket *rate.Limiter

	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

// NewLimiter creates a Limiter allowing rps calls per second with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(rps), burst),
		now:    time.Now,
	}
}

// Wait blocks until the cooldown gate is open and a token is available.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := sleepContext(ctx, l.cooldown()); err != nil {
		return err
	}
	return l.bucket.Wait(ctx)
}

// Hold closes the gate for d. A shorter hold never shortens an existing one.
func (l *Limiter) Hold(d time.Duration) {
	if l == nil || d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := l.now().Add(d); until.After(l.until) {
		l.until = until
	}
}

func (l *Limiter) cooldown() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.until.Sub(l.now())
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
