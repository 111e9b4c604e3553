package xmlcarrier

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"freightquote/internal/quote"
)

// Literal fallbacks for fields the carrier requires.
const (
	DefaultOriginZip      = "30303"
	DefaultDestinationZip = "60601"
	DefaultWeight         = 500.0
	DefaultLength         = 48.0
	DefaultWidth          = 40.0
	DefaultHeight         = 48.0
	DefaultShipDate       = "2025-01-02"
)

type document struct {
	XMLName     xml.Name    `xml:"QuoteRequest"`
	ShipDate    string      `xml:"ShipDate"`
	Origin      postal      `xml:"Origin"`
	Destination postal      `xml:"Destination"`
	Commodities []commodity `xml:"Commodities>Commodity"`
}

type postal struct {
	ZipCode string `xml:"ZipCode"`
}

// Numbers are pre-formatted: encoding/xml would write large floats in
// exponent form.
type commodity struct {
	Pieces     int    `xml:"Pieces"`
	Weight     string `xml:"Weight"`
	WeightType string `xml:"WeightType"`
	Length     string `xml:"Length"`
	Width      string `xml:"Width"`
	Height     string `xml:"Height"`
}

func buildDocument(req *quote.Request, now time.Time) document {
	if req == nil {
		req = &quote.Request{}
	}
	part, _ := req.FirstPart()

	pieces := req.Pieces.Quantity
	if pieces <= 0 {
		pieces = max(len(req.Pieces.Parts), 1)
	}

	weight := req.Weight.Value
	if weight <= 0 {
		weight = DefaultWeight
	}

	return document{
		ShipDate:    FormatShipDate(req.Pickup.Date, now),
		Origin:      postal{ZipCode: orDefault(req.Pickup.Zip, DefaultOriginZip)},
		Destination: postal{ZipCode: orDefault(req.Delivery.Zip, DefaultDestinationZip)},
		Commodities: []commodity{{
			Pieces:     pieces,
			Weight:     formatNumber(weight),
			WeightType: WeightTypeCode(req.Weight.Unit),
			Length:     formatNumber(positiveOr(part.Length, DefaultLength)),
			Width:      formatNumber(positiveOr(part.Width, DefaultWidth)),
			Height:     formatNumber(positiveOr(part.Height, DefaultHeight)),
		}},
	}
}

// WeightTypeCode maps a free-form weight unit to the carrier's code:
// "L" for pounds, "K" for kilograms. Anything unrecognised is "L".
func WeightTypeCode(unit string) string {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), ".") {
	case "kg", "kgs", "kilo", "kilos", "kilogram", "kilograms":
		return "K"
	default:
		// lb, lbs, pound, pounds and everything else
		return "L"
	}
}

var shipDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateOnly,
	"01/02/2006",
	"1/2/2006",
	time.RFC1123Z,
	time.RFC1123,
}

// FormatShipDate renders raw as YYYY-MM-DD in UTC. An empty date means now;
// a date that cannot be parsed becomes DefaultShipDate. It never fails.
func FormatShipDate(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC().Format(time.DateOnly)
	}
	for _, layout := range shipDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.DateOnly)
		}
	}
	return DefaultShipDate
}

func formatNumber(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func positiveOr(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
