package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"marketwatch/internal/source"
)

// entry stores a cached value for a single key with expiry.
type entry struct {
	expiresAt time.Time
	raw       source.Raw
}

// DefaultFetchTimeout bounds a shared upstream call when FetchTimeout is unset.
const DefaultFetchTimeout = 30 * time.Second

// Source caches successful results per key for a TTL.
// Concurrent misses for the same key share one upstream call. Failures are
// never cached, so a recovering upstream is seen on the next call.
type Source struct {
	S            source.Source
	TTL          time.Duration
	MaxItems     int
	// FetchTimeout bounds the shared call. It is detached from any single
	// caller, so one caller giving up does not fail the others.
	FetchTimeout time.Duration

	mu    sync.RWMutex
	items map[string]entry
	sf    singleflight.Group
	now   func() time.Time
}

func (c *Source) Name() string { return c.S.Name() }

func (c *Source) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Fetch returns the cached value for key while it is fresh.
func (c *Source) Fetch(ctx context.Context, key string) (source.Raw, error) {
	if c.TTL <= 0 {
		return c.S.Fetch(ctx, key)
	}

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if ok && c.clock().Before(e.expiresAt) {
		return e.raw, nil
	}

	ch := c.sf.DoChan(key, func() (any, error) {
		timeout := c.FetchTimeout
		if timeout <= 0 {
			timeout = DefaultFetchTimeout
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		raw, err := c.S.Fetch(fctx, key)
		if err != nil {
			return nil, err
		}
		c.store(key, raw)
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return source.Raw{}, source.Unreachable(c.S.Name(), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return source.Raw{}, res.Err
		}
		return res.Val.(source.Raw), nil
	}
}

func (c *Source) store(key string, raw source.Raw) {
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[string]entry)
	}
	c.items[key] = entry{expiresAt: now.Add(c.TTL), raw: raw}
	// best-effort cap: drop expired entries first, then arbitrary ones
	if c.MaxItems > 0 && len(c.items) > c.MaxItems {
		for k, v := range c.items {
			if now.After(v.expiresAt) {
				delete(c.items, k)
			}
		}
		for k := range c.items {
			if len(c.items) <= c.MaxItems {
				break
			}
			if k != key {
				delete(c.items, k)
			}
		}
	}
}

// Len reports how many keys are cached, fresh or not.
func (c *Source) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
