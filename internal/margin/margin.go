package margin

import (
	"context"
	"fmt"
	"maps"
	"math"

	"github.com/shopspring/decimal"

	"freightquote/internal/quote"
)

// InfoKey is the additionalInfo entry recording the percentage applied.
const InfoKey = "profitMarginPct"

var hundred = decimal.NewFromInt(100)

// Apply marks up a successful quote by pct percent. The base is Total, or
// LineHaul when there is no total. Failed quotes and quotes without a finite
// base are returned unchanged. The input quote is not modified.
func Apply(q quote.Standardized, pct float64) quote.Standardized {
	if q.Failed() || !finite(pct) {
		return q
	}
	var base float64
	switch {
	case q.Total != nil:
		base = *q.Total
	case q.LineHaul != nil:
		base = *q.LineHaul
	default:
		return q
	}
	if !finite(base) {
		return q
	}

	total := decimal.NewFromFloat(base).
		Mul(hundred.Add(decimal.NewFromFloat(pct))).
		Div(hundred)

	out := q
	out.Total = quote.Float(total.InexactFloat64())
	out.AdditionalInfo = maps.Clone(q.AdditionalInfo)
	if out.AdditionalInfo == nil {
		out.AdditionalInfo = make(map[string]any, 1)
	}
	out.AdditionalInfo[InfoKey] = pct
	return out
}

// Reader returns the current profit margin percentage.
type Reader interface {
	MarginPct(ctx context.Context) (float64, error)
}

// Static is a fixed margin percentage.
type Static float64

func (s Static) MarginPct(context.Context) (float64, error) {
	pct := float64(s)
	if err := Validate(pct); err != nil {
		return 0, err
	}
	return pct, nil
}

// Validate accepts finite percentages between 0 and 100.
func Validate(pct float64) error {
	if !finite(pct) || pct < 0 || pct > 100 {
		return fmt.Errorf("profit margin %v out of range [0, 100]", pct)
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
