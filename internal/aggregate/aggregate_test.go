package aggregate_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"freightquote/internal/aggregate"
	"freightquote/internal/httpx/httpxmock"
	"freightquote/internal/margin"
	"freightquote/internal/normalize"
	"freightquote/internal/provider"
	"freightquote/internal/provider/forecast"
	"freightquote/internal/provider/restcarrier"
	"freightquote/internal/provider/xmlcarrier"
	"freightquote/internal/quote"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type outcome int

const (
	success outcome = iota
	httpError
	malformed
	transportFailure
)

func (o outcome) String() string {
	return [...]string{"success", "http-error", "malformed", "transport"}[o]
}

type canned struct {
	contentType string
	ok          string
	failed      string
	broken      string
}

var bodies = map[quote.Source]canned{
	quote.SourceRESTCarrier: {
		contentType: "application/json",
		ok:          `{"rate":{"priceLineHaul":900,"rpm":2.5},"priceTotal":1000}`,
		failed:      `{"message":"rating engine down"}`,
		broken:      `{"rate":`,
	},
	quote.SourceXMLCarrier: {
		contentType: "application/xml",
		ok:          `<QuoteResponse><Charges><LineHaul>400</LineHaul><GrandTotal>450.00</GrandTotal></Charges></QuoteResponse>`,
		failed:      `<Error><Message>rating engine down</Message></Error>`,
		broken:      `<QuoteResponse><GrandTotal>`,
	},
	quote.SourceForecast: {
		contentType: "application/json",
		ok:          `{"forecasts":{"perMile":[{"forecastUSD":2.1}],"perTrip":[{"forecastUSD":1500}]}}`,
		failed:      `{"message":"rating engine down"}`,
		broken:      `{"forecasts":`,
	},
}

func answer(src quote.Source, o outcome) (*http.Response, error) {
	b := bodies[src]
	switch o {
	case httpError:
		return httpxmock.Response(http.StatusServiceUnavailable, b.contentType, b.failed), nil
	case malformed:
		return httpxmock.Response(http.StatusOK, b.contentType, b.broken), nil
	case transportFailure:
		return nil, errors.New("dial tcp: connection refused")
	}
	return httpxmock.Response(http.StatusOK, b.contentType, b.ok), nil
}

// realProviders wires the production adapters and normalizers to a mocked
// transport that answers each provider with the given outcome.
func realProviders(t *testing.T, outcomes map[quote.Source]outcome) []provider.Provider {
	ctrl := gomock.NewController(t)
	httpClient := httpxmock.NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			switch {
			case strings.HasSuffix(req.URL.Path, forecast.TokenPath):
				return httpxmock.Response(http.StatusOK, "application/json", `{"accessToken":"t"}`), nil
			case req.URL.Path == restcarrier.Path:
				return answer(quote.SourceRESTCarrier, outcomes[quote.SourceRESTCarrier])
			case req.URL.Path == xmlcarrier.Path:
				return answer(quote.SourceXMLCarrier, outcomes[quote.SourceXMLCarrier])
			case req.URL.Path == forecast.Path:
				return answer(quote.SourceForecast, outcomes[quote.SourceForecast])
			}
			return nil, fmt.Errorf("unexpected url %s", req.URL)
		}).
		AnyTimes()

	tokens := forecast.NewTokenSource(forecast.TokenConfig{
		URL: "https://id.example" + forecast.TokenPath, Username: "u", Password: "p",
	}, httpClient, quietLogger)

	return []provider.Provider{
		provider.Normalized(quote.SourceRESTCarrier,
			restcarrier.New(restcarrier.Config{BaseURL: "https://a.example"}, httpClient), normalize.RESTCarrier),
		provider.Normalized(quote.SourceXMLCarrier,
			xmlcarrier.New(xmlcarrier.Config{BaseURL: "https://b.example"}, httpClient), normalize.XMLCarrier),
		provider.Normalized(quote.SourceForecast,
			forecast.New(forecast.Config{BaseURL: "https://c.example"}, tokens, httpClient), normalize.Forecast),
	}
}

func TestAggregate_IsolatesEveryFailureCombination(t *testing.T) {
	t.Parallel()

	all := []outcome{success, httpError, malformed, transportFailure}
	wantTotals := map[quote.Source]float64{
		quote.SourceRESTCarrier: 1100,
		quote.SourceXMLCarrier:  495,
		quote.SourceForecast:    1650,
	}

	for _, a := range all {
		for _, b := range all {
			for _, c := range all {
				outcomes := map[quote.Source]outcome{
					quote.SourceRESTCarrier: a,
					quote.SourceXMLCarrier:  b,
					quote.SourceForecast:    c,
				}
				t.Run(fmt.Sprintf("%s/%s/%s", a, b, c), func(t *testing.T) {
					t.Parallel()

					// Arrange
					agg := aggregate.New(realProviders(t, outcomes),
						aggregate.WithMargin(margin.Static(10)),
						aggregate.WithLogger(quietLogger),
					)

					// Act
					resp := agg.Aggregate(t.Context(), &quote.Request{})

					// Assert: three slots, each reflecting only its own provider.
					quotes := resp.Quotes()
					require.Len(t, quotes, 3)
					for i, q := range quotes {
						src := quote.Sources[i]
						require.Equal(t, src, q.Source)
						if outcomes[src] != success {
							require.True(t, q.Failed(), "%s should fail", src)
							require.NotContains(t, q.AdditionalInfo, margin.InfoKey)
							continue
						}
						require.False(t, q.Failed(), "%s: %s", src, q.Error)
						require.InDelta(t, wantTotals[src], *q.Total, 1e-9)
						require.Equal(t, 10.0, q.AdditionalInfo[margin.InfoKey])
					}
				})
			}
		}
	}
}

type fakeProvider struct {
	src quote.Source
	fn  func(ctx context.Context, req *quote.Request) (quote.Standardized, error)
}

func (f fakeProvider) Source() quote.Source { return f.src }

func (f fakeProvider) Fetch(ctx context.Context, req *quote.Request) (quote.Standardized, error) {
	return f.fn(ctx, req)
}

func priced(src quote.Source, total float64) fakeProvider {
	return fakeProvider{src: src, fn: func(context.Context, *quote.Request) (quote.Standardized, error) {
		return quote.Standardized{Total: quote.Float(total)}, nil
	}}
}

func TestAggregate_MissingProvidersStillFillSlots(t *testing.T) {
	t.Parallel()

	// Arrange
	agg := aggregate.New([]provider.Provider{priced(quote.SourceXMLCarrier, 100)}, aggregate.WithLogger(quietLogger))

	// Act
	resp := agg.Aggregate(t.Context(), nil)

	// Assert
	require.Equal(t, "rest_carrier provider not configured", resp.RESTCarrier.Error)
	require.Equal(t, quote.SourceRESTCarrier, resp.RESTCarrier.Source)
	require.Equal(t, "rate_forecast provider not configured", resp.RateForecast.Error)
	require.Equal(t, quote.SourceXMLCarrier, resp.XMLCarrier.Source, "source set by the orchestrator")
	require.Equal(t, 100.0, *resp.XMLCarrier.Total)
	require.Equal(t, 0.0, resp.XMLCarrier.AdditionalInfo[margin.InfoKey], "no margin reader means 0%")
}

func TestAggregate_PanicIsContained(t *testing.T) {
	t.Parallel()

	// Arrange
	agg := aggregate.New([]provider.Provider{
		fakeProvider{src: quote.SourceRESTCarrier, fn: func(context.Context, *quote.Request) (quote.Standardized, error) {
			panic("nil map write")
		}},
		priced(quote.SourceXMLCarrier, 100),
		priced(quote.SourceForecast, 200),
	}, aggregate.WithLogger(quietLogger))

	// Act
	resp := agg.Aggregate(t.Context(), &quote.Request{})

	// Assert
	require.Equal(t, "rest_carrier provider failed unexpectedly", resp.RESTCarrier.Error)
	require.False(t, resp.XMLCarrier.Failed())
	require.False(t, resp.RateForecast.Failed())
}

func TestAggregate_SlowProviderTimesOutAlone(t *testing.T) {
	t.Parallel()

	// Arrange
	slow := fakeProvider{src: quote.SourceForecast, fn: func(ctx context.Context, _ *quote.Request) (quote.Standardized, error) {
		<-ctx.Done()
		return quote.Standardized{}, ctx.Err()
	}}
	agg := aggregate.New([]provider.Provider{
		priced(quote.SourceRESTCarrier, 100),
		priced(quote.SourceXMLCarrier, 100),
		slow,
	},
		aggregate.WithTimeout(5*time.Second),
		aggregate.WithProviderTimeout(quote.SourceForecast, 20*time.Millisecond),
		aggregate.WithLogger(quietLogger),
	)

	// Act
	start := time.Now()
	resp := agg.Aggregate(t.Context(), &quote.Request{})

	// Assert
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, context.DeadlineExceeded.Error(), resp.RateForecast.Error)
	require.False(t, resp.RESTCarrier.Failed())
	require.False(t, resp.XMLCarrier.Failed())
}

func TestAggregate_CallerCancellationReachesProviders(t *testing.T) {
	t.Parallel()

	// Arrange
	blocked := func(src quote.Source) fakeProvider {
		return fakeProvider{src: src, fn: func(ctx context.Context, _ *quote.Request) (quote.Standardized, error) {
			<-ctx.Done()
			return quote.Standardized{}, ctx.Err()
		}}
	}
	agg := aggregate.New([]provider.Provider{
		blocked(quote.SourceRESTCarrier), blocked(quote.SourceXMLCarrier), blocked(quote.SourceForecast),
	}, aggregate.WithLogger(quietLogger))
	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(10*time.Millisecond, cancel)

	// Act
	resp := agg.Aggregate(ctx, &quote.Request{})

	// Assert
	for _, q := range resp.Quotes() {
		require.Equal(t, context.Canceled.Error(), q.Error)
	}
}

type failingReader struct{ pct float64 }

func (f failingReader) MarginPct(context.Context) (float64, error) {
	if f.pct != 0 {
		return f.pct, nil
	}
	return 0, errors.New("store unreachable")
}

func TestAggregate_MarginFallsBackToZero(t *testing.T) {
	t.Parallel()

	tests := map[string]margin.Reader{
		"read error":   failingReader{},
		"out of range": failingReader{pct: 250},
	}
	for name, reader := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			agg := aggregate.New([]provider.Provider{priced(quote.SourceRESTCarrier, 1000)},
				aggregate.WithMargin(reader), aggregate.WithLogger(quietLogger))

			resp := agg.Aggregate(t.Context(), &quote.Request{})

			require.Equal(t, 1000.0, *resp.RESTCarrier.Total)
			require.Equal(t, 0.0, resp.RESTCarrier.AdditionalInfo[margin.InfoKey])
		})
	}
}

func TestAggregate_ProvidersShareTheSameRequest(t *testing.T) {
	t.Parallel()

	// Arrange
	req := &quote.Request{ShipmentID: "SHP-1"}
	seen := make(chan *quote.Request, 3)
	record := func(src quote.Source) fakeProvider {
		return fakeProvider{src: src, fn: func(_ context.Context, r *quote.Request) (quote.Standardized, error) {
			seen <- r
			return quote.Standardized{Total: quote.Float(1)}, nil
		}}
	}
	agg := aggregate.New([]provider.Provider{
		record(quote.SourceRESTCarrier), record(quote.SourceXMLCarrier), record(quote.SourceForecast),
	}, aggregate.WithMargin(margin.Static(12)), aggregate.WithLogger(quietLogger))

	// Act
	resp := agg.Aggregate(t.Context(), req)
	close(seen)

	// Assert
	for r := range seen {
		require.Same(t, req, r)
	}
	for _, q := range resp.Quotes() {
		require.InDelta(t, 1.12, *q.Total, 1e-9)
	}
}
