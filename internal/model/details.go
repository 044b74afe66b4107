package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Details is the opaque structured payload of an item. Values follow encoding/json
// decoding rules; the accessors below absorb the numeric and list shape differences
// between upstreams so callers never type-assert directly.
type Details map[string]any

// String returns the value at key rendered as a string, or "" when absent.
func (d Details) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Int returns the integral value at key.
func (d Details) Int(key string) (int, bool) {
	switch v := d[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

// Float returns the numeric value at key. Fraction strings such as "1/4" are accepted.
func (d Details) Float(key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		return ParseFraction(v)
	}
	return 0, false
}

// Bool returns the boolean at key; "yes"/"true" strings count as true.
func (d Details) Bool(key string) bool {
	switch v := d[key].(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "true" || s == "yes"
	}
	return false
}

// Strings returns the list of strings at key. A single string yields a one-element list.
func (d Details) Strings(key string) []string {
	switch v := d[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Object returns the nested object at key, or nil.
func (d Details) Object(key string) Details {
	return asDetails(d[key])
}

// Objects returns the list of nested objects at key, skipping non-object elements.
func (d Details) Objects(key string) []Details {
	switch v := d[key].(type) {
	case []Details:
		return v
	case []map[string]any:
		out := make([]Details, 0, len(v))
		for _, m := range v {
			out = append(out, Details(m))
		}
		return out
	case []any:
		out := make([]Details, 0, len(v))
		for _, e := range v {
			if m := asDetails(e); m != nil {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// Has reports whether key is present with a non-nil value.
func (d Details) Has(key string) bool {
	v, ok := d[key]
	return ok && v != nil
}

func asDetails(v any) Details {
	switch m := v.(type) {
	case Details:
		return m
	case map[string]any:
		return Details(m)
	}
	return nil
}

// ParseFraction parses "1/2", "0.25" or "5" into a float.
func ParseFraction(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
		q, err2 := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err1 != nil || err2 != nil || q == 0 {
			return 0, false
		}
		return n / q, true
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
