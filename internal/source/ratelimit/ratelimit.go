package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketwatch/internal/source"
)

// MinInterval wraps a source and enforces a minimum time between calls.
// Concurrent calls will wait until the interval has elapsed since the last call,
// or fail as rate limited if the context ends first.
type MinInterval struct {
	S        source.Source
	Interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

func (m *MinInterval) Name() string { return m.S.Name() }

func (m *MinInterval) Fetch(ctx context.Context, key string) (source.Raw, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		wait := time.Until(m.last.Add(m.Interval))
		m.mu.Unlock()
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return source.Raw{}, source.RateLimited(m.S.Name(), ctx.Err())
			case <-t.C:
			}
		}
	}
	raw, err := m.S.Fetch(ctx, key)
	if m.Interval > 0 {
		m.mu.Lock()
		m.last = time.Now()
		m.mu.Unlock()
	}
	return raw, err
}

// Wrap applies the limiter the settings ask for: a token bucket when rpm is
// set, otherwise a min interval, otherwise nothing.
func Wrap(s source.Source, rpm, burst int, minInterval time.Duration) source.Source {
	switch {
	case rpm > 0:
		if burst <= 0 {
			burst = 1
		}
		return &TokenBucketSource{S: s, TB: PerMinute(rpm, burst)}
	case minInterval > 0:
		return &MinInterval{S: s, Interval: minInterval}
	default:
		return s
	}
}
