package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"freightquote/internal/httpx"
	"freightquote/internal/quote"
)

// Path is the spot forecast endpoint relative to the forecast host.
const Path = "/linehaulrates/v1/forecasts/spot"

// Period is the forecast window requested for every quote.
const Period = "52WEEKS"

type Config struct {
	BaseURL string
}

// MAE is the forecast's mean absolute error band.
type MAE struct {
	HighUSD float64 `json:"highUSD"`
	LowUSD  float64 `json:"lowUSD"`
}

type Forecast struct {
	ForecastDate string  `json:"forecastDate"`
	ForecastUSD  float64 `json:"forecastUSD"`
	MAE          MAE     `json:"mae"`
}

type Forecasts struct {
	PerMile []Forecast `json:"perMile"`
	PerTrip []Forecast `json:"perTrip"`
}

// Response is the forecast payload. Forecasts is never nil on a 2xx result:
// when the upstream omits it a zero-valued forecast is put in its place.
// Fields outside the forecasts are untyped so an unexpected shape there
// does not cost the prices.
type Response struct {
	Mileage           any        `json:"mileage,omitempty"`
	EquipmentCategory any        `json:"equipmentCategory,omitempty"`
	Forecasts         *Forecasts `json:"forecasts,omitempty"`
	Error             any        `json:"error,omitempty"`
	Message           any        `json:"message,omitempty"`
}

type place struct {
	City            string `json:"city,omitempty"`
	StateOrProvince string `json:"stateOrProvince,omitempty"`
	PostalCode      string `json:"postalCode,omitempty"`
}

type request struct {
	Origin            place  `json:"origin"`
	Destination       place  `json:"destination"`
	EquipmentCategory string `json:"equipmentCategory"`
	ForecastPeriod    string `json:"forecastPeriod"`
}

// Adapter runs the two-step exchange: bearer token from the TokenSource,
// then the forecast request.
type Adapter struct {
	cfg    Config
	tokens *TokenSource
	client httpx.HTTPClient
	now    func() time.Time
}

func New(cfg Config, tokens *TokenSource, hc httpx.HTTPClient) *Adapter {
	return &Adapter{cfg: cfg, tokens: tokens, client: hc, now: time.Now}
}

func (a *Adapter) Quote(ctx context.Context, req *quote.Request) (quote.Result[*Response], error) {
	var out quote.Result[*Response]
	if req == nil {
		req = &quote.Request{}
	}

	tok, err := a.tokens.Token(ctx)
	if err != nil {
		return out, err
	}

	equipment := EquipmentCategory(req.EquipmentHint())
	body, err := json.Marshal(request{
		Origin:            placeOf(req.Pickup),
		Destination:       placeOf(req.Delivery),
		EquipmentCategory: equipment,
		ForecastPeriod:    Period,
	})
	if err != nil {
		return out, fmt.Errorf("encoding request: %w", err)
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + Path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	res, err := a.client.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("performing request: %w", err)
	}
	raw, err := httpx.ReadBody(res)
	if err != nil {
		return out, err
	}

	out.StatusCode = res.StatusCode
	if res.StatusCode == http.StatusUnauthorized {
		a.tokens.Invalidate()
	}

	var data Response
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		out.Failure = &quote.ErrorPayload{Error: fmt.Sprintf("invalid JSON response: %v", err), Raw: string(raw)}
		return out, nil
	}
	if out.OK() {
		if data.Forecasts == nil {
			data.Forecasts = zeroForecasts(a.now())
		}
		if data.EquipmentCategory == nil || data.EquipmentCategory == "" {
			data.EquipmentCategory = equipment
		}
	}
	out.Data = &data
	return out, nil
}

func placeOf(l quote.Location) place {
	return place{
		City:            strings.TrimSpace(l.City),
		StateOrProvince: strings.TrimSpace(l.State),
		PostalCode:      strings.TrimSpace(l.Zip),
	}
}

func zeroForecasts(now time.Time) *Forecasts {
	zero := Forecast{ForecastDate: now.UTC().Format(time.DateOnly)}
	return &Forecasts{PerMile: []Forecast{zero}, PerTrip: []Forecast{zero}}
}
