package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"freightquote/internal/provider"
	"freightquote/internal/quote"
)

// entry stores a cached quote for a single request with expiry.
type entry struct {
	expiresAt time.Time
	quote     quote.Standardized
}

// Provider caches successful quotes per request for a TTL. Failed quotes and
// errors are never stored, so the next identical request retries upstream.
type Provider struct {
	P        provider.Provider
	TTL      time.Duration
	MaxItems int

	mu    sync.RWMutex
	items map[string]entry // key: sha256 of the request JSON
	now   func() time.Time
}

func (c *Provider) Source() quote.Source { return c.P.Source() }

// Fetch returns the cached quote for an identical request when still valid.
func (c *Provider) Fetch(ctx context.Context, req *quote.Request) (quote.Standardized, error) {
	if c.TTL <= 0 {
		return c.P.Fetch(ctx, req)
	}
	key, err := Key(req)
	if err != nil {
		return c.P.Fetch(ctx, req)
	}

	now := c.clock()
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		return e.quote, nil
	}

	q, err := c.P.Fetch(ctx, req)
	if err != nil || q.Failed() {
		return q, err
	}

	c.mu.Lock()
	if c.items == nil {
		c.items = make(map[string]entry)
	}
	c.items[key] = entry{expiresAt: now.Add(c.TTL), quote: q}
	c.evictLocked(now)
	c.mu.Unlock()
	return q, nil
}

// evictLocked caps the cache size: expired entries go first, then arbitrary ones.
func (c *Provider) evictLocked(now time.Time) {
	if c.MaxItems <= 0 || len(c.items) <= c.MaxItems {
		return
	}
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	for k := range c.items {
		if len(c.items) <= c.MaxItems {
			break
		}
		delete(c.items, k)
	}
}

// Len reports the number of stored entries, expired or not.
func (c *Provider) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Provider) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Key derives the cache key of a request. Extension fields are included.
func Key(req *quote.Request) (string, error) {
	if req == nil {
		req = &quote.Request{}
	}
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
