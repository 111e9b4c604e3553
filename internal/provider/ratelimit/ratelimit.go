package ratelimit

import (
	"context"
	"sync"
	"time"

	"freightquote/internal/provider"
	"freightquote/internal/quote"
)

// MinInterval wraps a provider and enforces a minimum time between calls.
// Concurrent calls will wait until the interval has elapsed since the last call,
// or return early if the context is canceled.
type MinInterval struct {
	P        provider.Provider
	Interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

func (m *MinInterval) Source() quote.Source { return m.P.Source() }

func (m *MinInterval) Fetch(ctx context.Context, req *quote.Request) (quote.Standardized, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		wait := time.Until(m.last.Add(m.Interval))
		m.mu.Unlock()
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return quote.Standardized{}, ctx.Err()
			case <-t.C:
			}
		}
	}
	q, err := m.P.Fetch(ctx, req)
	if m.Interval > 0 {
		m.mu.Lock()
		m.last = time.Now()
		m.mu.Unlock()
	}
	return q, err
}
