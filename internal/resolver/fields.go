package resolver

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Helpers for probing loosely-typed payloads decoded into map[string]any.

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// path walks nested objects, e.g. path(post, "extended_entities", "media").
func path(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		obj := asMap(cur)
		if obj == nil {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

// stringOf renders scalar JSON values as strings. Payloads should be decoded
// with UseNumber so large numeric ids survive; plain float64 is formatted
// without an exponent.
func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// firstString returns the first non-empty field among keys.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringOf(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func intOf(v any) int {
	switch t := v.(type) {
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	default:
		return 0
	}
}

// objects keeps only the object elements of a JSON array.
func objects(v any) []map[string]any {
	var out []map[string]any
	for _, item := range asSlice(v) {
		if m := asMap(item); m != nil {
			out = append(out, m)
		}
	}
	return out
}
