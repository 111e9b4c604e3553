// Package normalize maps each provider's raw payload onto quote.Standardized.
// The functions are pure; every failure becomes the quote's Error.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"freightquote/internal/provider/forecast"
	"freightquote/internal/provider/restcarrier"
	"freightquote/internal/quote"
)

// Candidate key fragments searched for in the XML carrier's tree.
var (
	LineHaulKeys = []string{"linehaul", "line_haul", "base", "basecharge"}
	TotalKeys    = []string{"grandtotal", "totalcharge", "netcharge", "total"}
	MessageKeys  = []string{"errormessage", "faultstring", "message", "error"}
	QuoteIDKeys  = []string{"quotenumber", "quoteid", "quote_id"}
)

// AccessorialPath locates the XML carrier's accessorial line items.
var AccessorialPath = []string{"QuoteResponse", "Accessorials", "Accessorial"}

// RESTCarrier projects the JSON carrier's rate response field by field.
func RESTCarrier(res quote.Result[*restcarrier.Response]) quote.Standardized {
	src := quote.SourceRESTCarrier
	if res.Failure != nil {
		return failure(src, res.StatusCode, res.Failure)
	}
	raw := res.Data
	if raw == nil {
		return quote.ErrorQuote(src, "empty response (status %d)", res.StatusCode)
	}
	if msg := Text(raw.Error); msg != "" {
		return quote.ErrorQuote(src, "%s", msg)
	}
	if !res.OK() {
		return statusError(src, res.StatusCode, Text(raw.Message))
	}

	q := quote.Standardized{
		Source:      src,
		LineHaul:    number(raw.Rate.PriceLineHaul),
		RatePerMile: number(raw.Rate.RPM),
		Total:       number(raw.PriceTotal),
	}
	info := map[string]any{}
	if len(raw.PriceAccessorials) > 0 {
		info["accessorials"] = raw.PriceAccessorials
	}
	if present(raw.TruckType) {
		info["truckType"] = raw.TruckType
	}
	if raw.TransitTime != nil {
		info["transitTime"] = raw.TransitTime
	}
	if present(raw.RateCalculationID) {
		info["rateCalculationID"] = raw.RateCalculationID
	}
	if len(info) > 0 {
		q.AdditionalInfo = info
	}
	return q
}

// XMLCarrier searches the XML carrier's generic tree for prices, since its
// schema is not fixed.
func XMLCarrier(res quote.Result[map[string]any]) quote.Standardized {
	src := quote.SourceXMLCarrier
	if res.Failure != nil {
		return failure(src, res.StatusCode, res.Failure)
	}
	tree := res.Data
	if !res.OK() {
		msg, _ := FindString(tree, MessageKeys...)
		return statusError(src, res.StatusCode, msg)
	}

	q := quote.Standardized{Source: src}
	if v, ok := FindNumber(tree, LineHaulKeys...); ok {
		q.LineHaul = quote.Float(v)
	}
	if v, ok := FindNumber(tree, TotalKeys...); ok {
		q.Total = quote.Float(v)
	}
	if q.LineHaul == nil && q.Total == nil {
		if msg, ok := FindString(tree, MessageKeys...); ok {
			return quote.ErrorQuote(src, "%s", msg)
		}
	}

	info := map[string]any{}
	if acc := accessorials(tree); len(acc) > 0 {
		info["accessorials"] = acc
	}
	if id, ok := FindString(tree, QuoteIDKeys...); ok {
		info["quoteNumber"] = id
	}
	if len(info) > 0 {
		q.AdditionalInfo = info
	}
	return q
}

func accessorials(tree map[string]any) []map[string]any {
	v, ok := Lookup(tree, AccessorialPath...)
	if !ok {
		return nil
	}
	items := AsList(v)
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		line := map[string]any{}
		if code, ok := FindString(m, "code"); ok {
			line["code"] = code
		}
		if desc, ok := FindString(m, "description", "desc", "name"); ok {
			line["description"] = desc
		}
		if amt, ok := FindNumber(m, "amount", "charge", "price"); ok {
			line["amount"] = amt
		}
		if len(line) > 0 {
			out = append(out, line)
		}
	}
	return out
}

// Forecast takes the first per-trip entry as the trip price and the first
// per-mile entry as the rate per mile.
func Forecast(res quote.Result[*forecast.Response]) quote.Standardized {
	src := quote.SourceForecast
	if res.Failure != nil {
		return failure(src, res.StatusCode, res.Failure)
	}
	raw := res.Data
	if raw == nil {
		return quote.ErrorQuote(src, "empty response (status %d)", res.StatusCode)
	}
	if !res.OK() {
		msg := Text(raw.Message)
		if msg == "" {
			msg = Text(raw.Error)
		}
		return statusError(src, res.StatusCode, msg)
	}

	q := quote.Standardized{Source: src}
	info := map[string]any{}
	if v, ok := ToFloat(raw.Mileage); ok {
		info["mileage"] = v
	} else if present(raw.Mileage) {
		info["mileage"] = raw.Mileage
	}
	if s := Text(raw.EquipmentCategory); s != "" {
		info["equipmentCategory"] = s
	}
	if f := raw.Forecasts; f != nil {
		if len(f.PerTrip) > 0 {
			trip := f.PerTrip[0]
			q.LineHaul = quote.Float(trip.ForecastUSD)
			q.Total = quote.Float(trip.ForecastUSD)
			info["forecastDate"] = trip.ForecastDate
			info["maeHighUSD"] = trip.MAE.HighUSD
			info["maeLowUSD"] = trip.MAE.LowUSD
		}
		if len(f.PerMile) > 0 {
			mile := f.PerMile[0]
			q.RatePerMile = quote.Float(mile.ForecastUSD)
			if _, ok := info["forecastDate"]; !ok {
				info["forecastDate"] = mile.ForecastDate
			}
		}
	}
	if len(info) > 0 {
		q.AdditionalInfo = info
	}
	return q
}

func failure(src quote.Source, status int, p *quote.ErrorPayload) quote.Standardized {
	if status == 0 {
		return quote.ErrorQuote(src, "%s", p.Error)
	}
	return quote.ErrorQuote(src, "%s (status %d)", p.Error, status)
}

func statusError(src quote.Source, status int, msg string) quote.Standardized {
	if msg = strings.TrimSpace(msg); msg != "" {
		return quote.ErrorQuote(src, "upstream returned status %d: %s", status, msg)
	}
	return quote.ErrorQuote(src, "upstream returned status %d", status)
}

// Text renders an untyped upstream field as message text. Objects are
// searched for a message key and otherwise encoded as JSON; false and null
// yield "".
func Text(v any) string {
	if s, ok := toText(v); ok {
		return s
	}
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if t {
			return "true"
		}
		return ""
	case map[string]any:
		if s, ok := FindString(t, MessageKeys...); ok {
			return s
		}
	}
	if _, ok := v.(string); ok {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// present reports whether an untyped passthrough field carries a value.
func present(v any) bool {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return v != nil
}

func number(n json.Number) *float64 {
	if n == "" {
		return nil
	}
	v, ok := ToFloat(n)
	if !ok {
		return nil
	}
	return quote.Float(v)
}

// String renders a standardized quote for logs.
func String(q quote.Standardized) string {
	if q.Failed() {
		return fmt.Sprintf("%s: error=%q", q.Source, q.Error)
	}
	f := func(p *float64) string {
		if p == nil {
			return "-"
		}
		return fmt.Sprintf("%.2f", *p)
	}
	return fmt.Sprintf("%s: lineHaul=%s rpm=%s total=%s", q.Source, f(q.LineHaul), f(q.RatePerMile), f(q.Total))
}
