package quote

import "fmt"

// Source identifies the provider a standardized quote came from.
type Source string

const (
	SourceRESTCarrier Source = "rest_carrier"
	SourceXMLCarrier  Source = "xml_carrier"
	SourceForecast    Source = "rate_forecast"
)

// Sources lists every provider slot in response order.
var Sources = []Source{SourceRESTCarrier, SourceXMLCarrier, SourceForecast}

// ErrorPayload is what an adapter hands back when it cannot use an upstream
// body. Raw always carries the body text for diagnosis.
type ErrorPayload struct {
	Error string `json:"error"`
	Raw   string `json:"raw,omitempty"`
}

// Result is a completed HTTP exchange with a provider. Non-2xx statuses are
// still results; only transport failures surface as adapter errors.
// Exactly one of Data or Failure is meaningful.
type Result[T any] struct {
	StatusCode int
	Data       T
	Failure    *ErrorPayload
}

// OK reports whether the upstream answered with a 2xx status.
func (r Result[T]) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Standardized is the provider-independent quote shape.
type Standardized struct {
	Source         Source         `json:"source"`
	LineHaul       *float64       `json:"lineHaul,omitempty"`
	RatePerMile    *float64       `json:"ratePerMile,omitempty"`
	Total          *float64       `json:"total,omitempty"`
	AdditionalInfo map[string]any `json:"additionalInfo,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Failed reports whether the quote carries an error instead of prices.
func (q Standardized) Failed() bool { return q.Error != "" }

// ErrorQuote builds a failed quote for src.
func ErrorQuote(src Source, format string, args ...any) Standardized {
	return Standardized{Source: src, Error: fmt.Sprintf(format, args...)}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Response always carries one quote per provider, failed or not.
type Response struct {
	RESTCarrier  Standardized `json:"restCarrier"`
	XMLCarrier   Standardized `json:"xmlCarrier"`
	RateForecast Standardized `json:"rateForecast"`
}

// Set stores q in the slot matching its source. Unknown sources are ignored.
func (r *Response) Set(q Standardized) {
	switch q.Source {
	case SourceRESTCarrier:
		r.RESTCarrier = q
	case SourceXMLCarrier:
		r.XMLCarrier = q
	case SourceForecast:
		r.RateForecast = q
	}
}

// Quotes returns the three slots in Sources order.
func (r Response) Quotes() []Standardized {
	return []Standardized{r.RESTCarrier, r.XMLCarrier, r.RateForecast}
}
