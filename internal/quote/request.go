package quote

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Location is a pickup or delivery point. Date is free-form; adapters parse it
// leniently.
type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
	Date    string `json:"date,omitempty"`
}

// Dimension describes one handling unit.
type Dimension struct {
	Length float64 `json:"length,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Weight float64 `json:"weight,omitempty"`
}

type Pieces struct {
	Unit     string      `json:"unit,omitempty"`
	Quantity int         `json:"quantity,omitempty"`
	Parts    []Dimension `json:"parts,omitempty"`
}

type Weight struct {
	Value float64 `json:"value,omitempty"`
	Unit  string  `json:"unit,omitempty"`
}

type HazardousMaterial struct {
	UNNumbers []string `json:"unNumbers,omitempty"`
}

// Request is the unified input every adapter consumes. Every field is
// optional: adapters fill in whatever their upstream requires.
//
// Unknown JSON keys are kept in Extra and written back inline on marshal, so
// provider-specific fields pass through untouched.
type Request struct {
	Pickup            Location          `json:"pickup"`
	Delivery          Location          `json:"delivery"`
	Pieces            Pieces            `json:"pieces"`
	Weight            Weight            `json:"weight"`
	TruckType         string            `json:"truckType,omitempty"`
	EquipmentCategory string            `json:"equipmentCategory,omitempty"`
	HazardousMaterial HazardousMaterial `json:"hazardousMaterial"`
	AccessorialCodes  []string          `json:"accessorialCodes,omitempty"`
	ShipmentID        string            `json:"shipmentId,omitempty"`
	ReferenceNumber   string            `json:"referenceNumber,omitempty"`

	Extra map[string]any `json:"-"`
}

var knownFields = map[string]struct{}{
	"pickup":            {},
	"delivery":          {},
	"pieces":            {},
	"weight":            {},
	"truckType":         {},
	"equipmentCategory": {},
	"hazardousMaterial": {},
	"accessorialCodes":  {},
	"shipmentId":        {},
	"referenceNumber":   {},
}

// requestFields breaks the MarshalJSON/UnmarshalJSON recursion.
type requestFields Request

func (r Request) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(requestFields(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return b, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, ok := merged[k]; ok {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode extension field %q: %w", k, err)
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

func (r *Request) UnmarshalJSON(b []byte) error {
	var fields requestFields
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	*r = Request(fields)
	for k, raw := range all {
		if _, ok := knownFields[k]; ok {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode extension field %q: %w", k, err)
		}
		if r.Extra == nil {
			r.Extra = make(map[string]any)
		}
		r.Extra[k] = v
	}
	return nil
}

// FirstPart returns the first handling unit, if any.
func (r *Request) FirstPart() (Dimension, bool) {
	if len(r.Pieces.Parts) == 0 {
		return Dimension{}, false
	}
	return r.Pieces.Parts[0], true
}

// EquipmentHint prefers the explicit equipment category over the truck type.
func (r *Request) EquipmentHint() string {
	if s := strings.TrimSpace(r.EquipmentCategory); s != "" {
		return s
	}
	return strings.TrimSpace(r.TruckType)
}
