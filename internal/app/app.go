// Package app assembles the aggregator from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"freightquote/internal/aggregate"
	"freightquote/internal/config"
	"freightquote/internal/httpx"
	"freightquote/internal/margin"
	"freightquote/internal/normalize"
	"freightquote/internal/provider"
	"freightquote/internal/provider/cache"
	"freightquote/internal/provider/forecast"
	"freightquote/internal/provider/ratelimit"
	"freightquote/internal/provider/restcarrier"
	"freightquote/internal/provider/xmlcarrier"
	"freightquote/internal/quote"
)

const defaultClientTimeout = 30 * time.Second

// Build wires every configured provider into an aggregator. The returned
// cleanup releases the margin store connection, if one was opened.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*aggregate.Aggregator, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	hc := httpx.New(defaultClientTimeout)

	providers := Providers(cfg, hc, logger)

	reader, cleanup, err := MarginReader(ctx, cfg.Margin, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []aggregate.Option{
		aggregate.WithMargin(reader),
		aggregate.WithLogger(logger),
		aggregate.WithProviderTimeout(quote.SourceRESTCarrier, cfg.RESTCarrier.Timeout()),
		aggregate.WithProviderTimeout(quote.SourceXMLCarrier, cfg.XMLCarrier.Timeout()),
		aggregate.WithProviderTimeout(quote.SourceForecast, cfg.Forecast.Timeout()),
	}
	return aggregate.New(providers, opts...), cleanup, nil
}

// Providers builds the enabled providers that have enough configuration to
// make a call. Skipped providers are logged and later answer "not configured".
func Providers(cfg config.Config, hc httpx.HTTPClient, logger *slog.Logger) []provider.Provider {
	var out []provider.Provider

	if rc := cfg.RESTCarrier; rc.Enabled {
		if rc.BaseURL == "" {
			logger.Warn("rest carrier enabled but base_url not set; skipping", "provider", quote.SourceRESTCarrier)
		} else {
			if rc.APIKey == "" {
				logger.Warn("rest carrier api_key not set", "provider", quote.SourceRESTCarrier)
			}
			a := restcarrier.New(restcarrier.Config{BaseURL: rc.BaseURL, APIKey: rc.APIKey}, hc)
			p := provider.Normalized(quote.SourceRESTCarrier, a, normalize.RESTCarrier)
			out = append(out, wrap(p, rc.Limits))
		}
	}

	if xc := cfg.XMLCarrier; xc.Enabled {
		if xc.BaseURL == "" {
			logger.Warn("xml carrier enabled but base_url not set; skipping", "provider", quote.SourceXMLCarrier)
		} else {
			a := xmlcarrier.New(xmlcarrier.Config{
				BaseURL:    xc.BaseURL,
				User:       xc.User,
				Password:   xc.Password,
				CustomerID: xc.CustomerID,
			}, hc)
			p := provider.Normalized(quote.SourceXMLCarrier, a, normalize.XMLCarrier)
			out = append(out, wrap(p, xc.Limits))
		}
	}

	if fc := cfg.Forecast; fc.Enabled {
		if fc.BaseURL == "" || fc.IdentityURL == "" {
			logger.Warn("forecast enabled but base_url or identity_url not set; skipping", "provider", quote.SourceForecast)
		} else {
			tokens := forecast.NewTokenSource(forecast.TokenConfig{
				URL:      strings.TrimRight(fc.IdentityURL, "/") + forecast.TokenPath,
				Username: fc.Username,
				Password: fc.Password,
				Cache:    fc.TokenCache,
				TTL:      time.Duration(fc.TokenTTLSec) * time.Second,
			}, hc, logger)
			a := forecast.New(forecast.Config{BaseURL: fc.BaseURL}, tokens, hc)
			p := provider.Normalized(quote.SourceForecast, a, normalize.Forecast)
			out = append(out, wrap(p, fc.Limits))
		}
	}
	return out
}

// wrap applies rate limiting first, then caching, so cache hits skip the limiter.
func wrap(p provider.Provider, l config.Limits) provider.Provider {
	p = ratelimit.Wrap(p, l.MaxRequestsPerMinute, l.Burst, l.MinInterval())
	if ttl := l.CacheTTL(); ttl > 0 {
		p = &cache.Provider{P: p, TTL: ttl, MaxItems: l.CacheMaxItems}
	}
	return p
}

// pingTimeout bounds the startup reachability check of the margin store.
const pingTimeout = 3 * time.Second

// MarginReader opens the configured margin store. An unreachable database
// is only logged: quotes fall back to a zero margin until it answers.
func MarginReader(ctx context.Context, cfg config.Margin, logger *slog.Logger) (margin.Reader, func(), error) {
	switch cfg.Source {
	case config.MarginPostgres:
		pool, err := margin.Connect(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("margin store: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("margin store unreachable, continuing", "error", err)
		}
		return margin.NewPostgresReader(pool, cfg.RuleID), pool.Close, nil
	case config.MarginStatic, "":
		return margin.Static(cfg.StaticPct), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown margin source %q", cfg.Source)
	}
}
