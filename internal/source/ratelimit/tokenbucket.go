package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketwatch/internal/source"
)

// TokenBucket is a stdlib-only token bucket limiter.
// - rate: tokens per second
// - capacity: maximum tokens the bucket can hold (burst)
type TokenBucket struct {
	rate     float64
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
	now    func() time.Time
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 0.0000001
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		rate:     tokensPerSecond,
		capacity: float64(burst),
		tokens:   float64(burst), // start full to allow an initial burst
		last:     time.Now(),
		now:      time.Now,
	}
}

// PerMinute builds a bucket from a requests-per-minute budget.
func PerMinute(rpm, burst int) *TokenBucket {
	return NewTokenBucket(float64(rpm)/60.0, burst)
}

// reserve takes a token if one is available, otherwise reports how long
// until the next one accrues.
func (tb *TokenBucket) reserve() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := tb.now()
	if elapsed := now.Sub(tb.last).Seconds(); elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.last = now
	}
	if tb.tokens >= 1 {
		tb.tokens -= 1
		return 0
	}
	d := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// wait blocks until one token is available. A wait that cannot finish
// before ctx's deadline fails immediately instead of sleeping into it.
func (tb *TokenBucket) wait(ctx context.Context) error {
	for {
		d := tb.reserve()
		if d == 0 {
			return nil
		}
		if deadline, ok := ctx.Deadline(); ok && deadline.Sub(tb.now()) < d {
			return fmt.Errorf("local budget exhausted, next token in %s", d.Round(time.Millisecond))
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TokenBucketSource wraps a Source and gates calls using a token bucket.
type TokenBucketSource struct {
	S  source.Source
	TB *TokenBucket
}

func (t *TokenBucketSource) Name() string { return t.S.Name() }

func (t *TokenBucketSource) Fetch(ctx context.Context, key string) (source.Raw, error) {
	if t.TB != nil {
		if err := t.TB.wait(ctx); err != nil {
			return source.Raw{}, source.RateLimited(t.S.Name(), err)
		}
	}
	return t.S.Fetch(ctx, key)
}
