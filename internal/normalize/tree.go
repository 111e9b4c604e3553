package normalize

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Find walks tree looking for a key that contains one of candidates
// (case-insensitive substring match) and whose value coerce accepts.
// Candidates are tried in order against the keys of one level before the
// search descends into nested objects and lists. Keys are visited in sorted
// order so the result does not depend on map iteration.
func Find[T any](tree map[string]any, candidates []string, coerce func(any) (T, bool)) (T, bool) {
	var zero T
	if len(tree) == 0 || len(candidates) == 0 {
		return zero, false
	}
	keys := sortedKeys(tree)

	for _, c := range candidates {
		c = strings.ToLower(c)
		for _, k := range keys {
			if !strings.Contains(strings.ToLower(k), c) {
				continue
			}
			if v, ok := coerce(tree[k]); ok {
				return v, true
			}
		}
	}

	for _, k := range keys {
		for _, child := range children(tree[k]) {
			if v, ok := Find(child, candidates, coerce); ok {
				return v, true
			}
		}
	}
	return zero, false
}

// FindNumber is Find with numeric coercion.
func FindNumber(tree map[string]any, candidates ...string) (float64, bool) {
	return Find(tree, candidates, ToFloat)
}

// FindString is Find accepting non-empty scalar text.
func FindString(tree map[string]any, candidates ...string) (string, bool) {
	return Find(tree, candidates, toText)
}

// children returns the object-valued descendants one step below v.
func children(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// AsList normalizes a repeated-element value: XML decoding yields a single
// map when an element occurs once and a list when it repeats. nil becomes an
// empty list.
func AsList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return []any{t}
	}
}

// Lookup follows path through nested objects, matching keys
// case-insensitively. A list met before the end of the path is entered
// through its first element.
func Lookup(tree map[string]any, path ...string) (any, bool) {
	var cur any = tree
	for _, step := range path {
		if l, ok := cur.([]any); ok {
			if len(l) == 0 {
				return nil, false
			}
			cur = l[0]
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := getFold(m, step)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func getFold(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for _, k := range sortedKeys(m) {
		if strings.EqualFold(k, key) {
			return m[k], true
		}
	}
	return nil, false
}

// ToFloat coerces numbers, numeric strings ("$1,250.00" included) and XML
// text nodes carrying attributes to a finite float64.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		x, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return 0, false
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = x
	case map[string]any:
		// <Total currency="USD">12.50</Total>
		text, ok := t["#text"]
		if !ok {
			return 0, false
		}
		return ToFloat(text)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case map[string]any:
		if text, ok := t["#text"]; ok {
			return toText(text)
		}
	}
	return "", false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
