package ratelimit

import (
	"context"
	"sync"
	"time"

	"freightquote/internal/provider"
	"freightquote/internal/quote"
)

// TokenBucket is a token bucket limiter.
// - rate: tokens per second
// - capacity: maximum tokens the bucket can hold (burst)
type TokenBucket struct {
	rate     float64
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
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
	}
}

// Wait blocks until one token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		if elapsed := now.Sub(tb.last).Seconds(); elapsed > 0 {
			tb.tokens += elapsed * tb.rate
			if tb.tokens > tb.capacity {
				tb.tokens = tb.capacity
			}
			tb.last = now
		}
		if tb.tokens >= 1 {
			tb.tokens -= 1
			tb.mu.Unlock()
			return nil
		}
		deficit := 1 - tb.tokens
		tb.mu.Unlock()

		waitDur := time.Duration(deficit / tb.rate * float64(time.Second))
		if waitDur <= 0 {
			waitDur = time.Millisecond
		}
		timer := time.NewTimer(waitDur)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TokenBucketProvider gates a provider's calls with a token bucket. A call
// that cannot get a token before its deadline fails like a transport fault.
type TokenBucketProvider struct {
	P  provider.Provider
	TB *TokenBucket
}

func (t *TokenBucketProvider) Source() quote.Source { return t.P.Source() }

func (t *TokenBucketProvider) Fetch(ctx context.Context, req *quote.Request) (quote.Standardized, error) {
	if t.TB != nil {
		if err := t.TB.Wait(ctx); err != nil {
			return quote.Standardized{}, err
		}
	}
	return t.P.Fetch(ctx, req)
}

// Wrap applies the limiter the settings ask for: a token bucket when
// maxPerMinute is set, otherwise a minimum interval, otherwise nothing.
func Wrap(p provider.Provider, maxPerMinute, burst int, minInterval time.Duration) provider.Provider {
	switch {
	case maxPerMinute > 0:
		return &TokenBucketProvider{P: p, TB: NewTokenBucket(float64(maxPerMinute)/60.0, burst)}
	case minInterval > 0:
		return &MinInterval{P: p, Interval: minInterval}
	}
	return p
}
