package util

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ToString attempts to coerce v into a string.
func ToString(v any) (string, bool) {
	s, ok := v.(string)
	if ok {
		return s, true
	}
	return "", false
}

// ToInt attempts to coerce v into an int.
//
// When decoding JSON into map[string]any with json.Decoder.UseNumber(),
// numbers arrive as json.Number. Numeric strings are accepted too since
// some inspector builds stringify status codes.
func ToInt(v any) (int, bool) {
	i, ok := ToInt64(v)
	return int(i), ok
}

// ToInt64 attempts to coerce v into an int64.
func ToInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			f, ferr := x.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// ToStringMap coerces a decoded JSON object into map[string]string.
// Non-string values are dropped.
func ToStringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, raw := range m {
		if s, ok := raw.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Object returns m[key] as a JSON object, or nil.
func Object(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	o, _ := m[key].(map[string]any)
	return o
}
