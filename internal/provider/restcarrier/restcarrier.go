package restcarrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"freightquote/internal/httpx"
	"freightquote/internal/quote"
)

// Path is the rate calculation endpoint relative to the carrier host.
const Path = "/api/v2/calculate-rate"

// Placeholders the carrier accepts when the caller has no shipment yet.
const (
	DefaultShipmentID      = "QUOTE-ONLY"
	DefaultReferenceNumber = "QUOTE-ONLY-REF"
)

var (
	// DefaultUNNumbers is sent when the request carries no hazmat UN numbers;
	// the carrier rejects an empty list.
	DefaultUNNumbers = []string{"UN1993"}
	// DefaultAccessorialCodes is sent when the request has no accessorials.
	DefaultAccessorialCodes = []string{"APPT"}
)

type Config struct {
	BaseURL string
	APIKey  string

	// Overrides for the fallback values above. Empty means use the package default.
	UNNumbers        []string
	AccessorialCodes []string
	ShipmentID       string
	ReferenceNumber  string
}

// Rate is the line-haul part of a rate response.
type Rate struct {
	PriceLineHaul json.Number `json:"priceLineHaul"`
	RPM           json.Number `json:"rpm"`
}

// Response is the carrier's rate payload. Passthrough and message fields
// are left untyped; the carrier sends them as strings, numbers or objects.
type Response struct {
	Rate              Rate             `json:"rate"`
	PriceTotal        json.Number      `json:"priceTotal"`
	PriceAccessorials []map[string]any `json:"priceAccessorials"`
	TruckType         any              `json:"truckType"`
	TransitTime       any              `json:"transitTime"`
	RateCalculationID any              `json:"rateCalculationID"`
	Error             any              `json:"error"`
	Message           any              `json:"message"`
}

type Adapter struct {
	cfg    Config
	client httpx.HTTPClient
}

func New(cfg Config, hc httpx.HTTPClient) *Adapter {
	if len(cfg.UNNumbers) == 0 {
		cfg.UNNumbers = DefaultUNNumbers
	}
	if len(cfg.AccessorialCodes) == 0 {
		cfg.AccessorialCodes = DefaultAccessorialCodes
	}
	if cfg.ShipmentID == "" {
		cfg.ShipmentID = DefaultShipmentID
	}
	if cfg.ReferenceNumber == "" {
		cfg.ReferenceNumber = DefaultReferenceNumber
	}
	return &Adapter{cfg: cfg, client: hc}
}

// Quote posts the request to the carrier. Only transport failures are
// returned as errors.
func (a *Adapter) Quote(ctx context.Context, req *quote.Request) (quote.Result[*Response], error) {
	var out quote.Result[*Response]

	body, err := json.Marshal(a.withDefaults(req))
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
	httpReq.Header.Set("X-API-Key", a.cfg.APIKey)

	res, err := a.client.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("performing request: %w", err)
	}
	raw, err := httpx.ReadBody(res)
	if err != nil {
		return out, err
	}

	out.StatusCode = res.StatusCode
	if !httpx.IsJSON(httpx.MediaType(res.Header)) {
		out.Failure = &quote.ErrorPayload{Error: "non-JSON response", Raw: string(raw)}
		return out, nil
	}

	var data Response
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		out.Failure = &quote.ErrorPayload{Error: fmt.Sprintf("invalid JSON response: %v", err), Raw: string(raw)}
		return out, nil
	}
	out.Data = &data
	return out, nil
}

// withDefaults returns a copy of req with the carrier's mandatory fields filled.
// req itself is shared with the other adapters and must not be modified.
func (a *Adapter) withDefaults(req *quote.Request) quote.Request {
	var r quote.Request
	if req != nil {
		r = *req
	}
	if len(r.HazardousMaterial.UNNumbers) == 0 {
		r.HazardousMaterial.UNNumbers = slices.Clone(a.cfg.UNNumbers)
	}
	if len(r.AccessorialCodes) == 0 {
		r.AccessorialCodes = slices.Clone(a.cfg.AccessorialCodes)
	}
	if strings.TrimSpace(r.ShipmentID) == "" {
		r.ShipmentID = a.cfg.ShipmentID
	}
	if strings.TrimSpace(r.ReferenceNumber) == "" {
		r.ReferenceNumber = a.cfg.ReferenceNumber
	}
	return r
}
