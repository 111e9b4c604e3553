// Package aggregate fans a quote request out to every provider and joins the
// results into one response.
package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"freightquote/internal/logging"
	"freightquote/internal/margin"
	"freightquote/internal/provider"
	"freightquote/internal/quote"
)

const marginTimeout = 2 * time.Second

// Aggregator owns one provider per source. A missing provider still gets its
// slot in the response, filled with an error.
type Aggregator struct {
	providers map[quote.Source]provider.Provider
	margin    margin.Reader
	timeout   time.Duration
	timeouts  map[quote.Source]time.Duration
	logger    *slog.Logger
}

type Option func(*Aggregator)

// WithMargin sets where the profit margin is read from. Without it no
// margin is applied.
func WithMargin(r margin.Reader) Option {
	return func(a *Aggregator) { a.margin = r }
}

// WithTimeout bounds every provider call that has no timeout of its own.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.timeout = d }
}

// WithProviderTimeout bounds calls to a single provider.
func WithProviderTimeout(src quote.Source, d time.Duration) Option {
	return func(a *Aggregator) { a.timeouts[src] = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

func New(providers []provider.Provider, opts ...Option) *Aggregator {
	a := &Aggregator{
		providers: make(map[quote.Source]provider.Provider, len(providers)),
		timeouts:  make(map[quote.Source]time.Duration),
		logger:    slog.Default(),
	}
	for _, p := range providers {
		if p != nil {
			a.providers[p.Source()] = p
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate queries all providers concurrently and waits for every one of
// them. A provider's failure only ever shows up in its own slot; Aggregate
// itself never fails.
func (a *Aggregator) Aggregate(ctx context.Context, req *quote.Request) quote.Response {
	if req == nil {
		req = &quote.Request{}
	}
	reqID := logging.RequestID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
		ctx = logging.WithRequestID(ctx, reqID)
	}
	logger := a.logger.With("request_id", reqID)
	start := time.Now()

	pct := a.marginPct(ctx, logger)

	quotes := make([]quote.Standardized, len(quote.Sources))
	var wg sync.WaitGroup
	for i, src := range quote.Sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			quotes[i] = a.fetch(ctx, logger, src, req)
		}()
	}
	wg.Wait()

	var resp quote.Response
	failed := 0
	for _, q := range quotes {
		if q.Failed() {
			failed++
		}
		resp.Set(margin.Apply(q, pct))
	}
	logger.Info("quote aggregated",
		"failed", failed,
		"margin_pct", pct,
		"duration", time.Since(start),
	)
	return resp
}

func (a *Aggregator) fetch(ctx context.Context, logger *slog.Logger, src quote.Source, req *quote.Request) (q quote.Standardized) {
	p, ok := a.providers[src]
	if !ok {
		return quote.ErrorQuote(src, "%s provider not configured", src)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("provider panic", "provider", src, "panic", r)
			q = quote.ErrorQuote(src, "%s provider failed unexpectedly", src)
		}
	}()

	if d := a.timeoutFor(src); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	q, err := p.Fetch(ctx, req)
	if err != nil {
		logger.Warn("provider call failed",
			"provider", src,
			"duration", time.Since(start),
			"error", err,
		)
		return quote.ErrorQuote(src, "%s", err.Error())
	}
	q.Source = src
	if q.Failed() {
		logger.Warn("provider returned error", "provider", src, "error", q.Error)
	} else {
		logger.Debug("provider quoted", "provider", src, "duration", time.Since(start))
	}
	return q
}

func (a *Aggregator) timeoutFor(src quote.Source) time.Duration {
	if d, ok := a.timeouts[src]; ok && d > 0 {
		return d
	}
	return a.timeout
}

// marginPct reads the margin once per request. Any failure means no margin.
func (a *Aggregator) marginPct(ctx context.Context, logger *slog.Logger) float64 {
	if a.margin == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, marginTimeout)
	defer cancel()
	pct, err := a.margin.MarginPct(ctx)
	if err == nil {
		err = margin.Validate(pct)
	}
	if err != nil {
		logger.Warn("profit margin unavailable, using 0", "error", err)
		return 0
	}
	return pct
}
