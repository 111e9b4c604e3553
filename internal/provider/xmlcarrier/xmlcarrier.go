package xmlcarrier

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clbanning/mxj/v2"

	"freightquote/internal/httpx"
	"freightquote/internal/quote"
)

// Path is the quote endpoint relative to the carrier host.
const Path = "/ltlservices/v2/rest/waybills/quotes"

type Config struct {
	BaseURL    string
	User       string
	Password   string
	CustomerID string
}

// Adapter posts XML quote requests. The response is returned as a generic
// tree because the carrier's schema is not fixed: XML elements become
// map[string]any, repeated elements become []any and a single occurrence
// stays a map.
type Adapter struct {
	cfg    Config
	client httpx.HTTPClient
	now    func() time.Time
}

func New(cfg Config, hc httpx.HTTPClient) *Adapter {
	return &Adapter{cfg: cfg, client: hc, now: time.Now}
}

// Body renders the XML document sent for req.
func (a *Adapter) Body(req *quote.Request) ([]byte, error) {
	b, err := xml.Marshal(buildDocument(req, a.now()))
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return append([]byte(xml.Header), b...), nil
}

func (a *Adapter) Quote(ctx context.Context, req *quote.Request) (quote.Result[map[string]any], error) {
	var out quote.Result[map[string]any]

	body, err := a.Body(req)
	if err != nil {
		return out, err
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + Path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/xml")
	httpReq.Header.Set("Accept", "application/xml")
	// sent verbatim, the carrier matches header names case-sensitively
	httpReq.Header["user"] = []string{a.cfg.User}
	httpReq.Header["password"] = []string{a.cfg.Password}
	httpReq.Header["customerId"] = []string{a.cfg.CustomerID}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("performing request: %w", err)
	}
	raw, err := httpx.ReadBody(res)
	if err != nil {
		return out, err
	}

	out.StatusCode = res.StatusCode
	data, failure := parseBody(httpx.MediaType(res.Header), raw)
	out.Data, out.Failure = data, failure
	return out, nil
}

// ItemsKey holds a JSON body whose root is not an object.
const ItemsKey = "items"

func parseBody(mediaType string, raw []byte) (map[string]any, *quote.ErrorPayload) {
	if mediaType == "" {
		mediaType = sniff(raw)
	}
	switch {
	case httpx.IsXML(mediaType):
		m, err := mxj.NewMapXml(raw)
		if err != nil {
			return nil, &quote.ErrorPayload{Error: fmt.Sprintf("invalid XML response: %v", err), Raw: string(raw)}
		}
		return map[string]any(m), nil
	case httpx.IsJSON(mediaType):
		var v any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, &quote.ErrorPayload{Error: fmt.Sprintf("invalid JSON response: %v", err), Raw: string(raw)}
		}
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
		// Arrays and scalars are kept under ItemsKey so the tree stays searchable.
		return map[string]any{ItemsKey: v}, nil
	default:
		return nil, &quote.ErrorPayload{Error: fmt.Sprintf("unexpected content type %q", mediaType), Raw: string(raw)}
	}
}

// sniff guesses a media type for responses sent without Content-Type.
func sniff(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case bytes.HasPrefix(trimmed, []byte("<")):
		return "application/xml"
	case bytes.HasPrefix(trimmed, []byte("{")), bytes.HasPrefix(trimmed, []byte("[")):
		return "application/json"
	}
	return ""
}
