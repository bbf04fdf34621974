package types

import (
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// VALUE EXTRACTION UTILITIES
// =============================================================================
//
// Safe, type-aware extraction from loosely typed values: tool-call inputs
// decoded from model JSON, node/edge property maps, and Fact args. These
// replace bare type assertions that panic on mismatch.
//
// JSON decoding produces: string, float64, bool, []interface{},
// map[string]interface{}, nil. Fact args additionally carry MangleAtom,
// int64, and time.Time.

// ExtractString extracts a string representation from a value.
func ExtractString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case MangleAtom:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ExtractInt64 extracts an int64. Returns (0, false) on incompatible types.
func ExtractInt64(arg interface{}) (int64, bool) {
	switch v := arg.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// ExtractFloat64 extracts a float64. Returns (0, false) on incompatible
// types. Numeric strings are accepted because model output often quotes
// amounts.
func ExtractFloat64(arg interface{}) (float64, bool) {
	switch v := arg.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ExtractBool extracts a boolean, accepting bool, the /true and /false atom
// conventions, and "true"/"false" strings.
func ExtractBool(arg interface{}) (bool, bool) {
	switch v := arg.(type) {
	case bool:
		return v, true
	case MangleAtom:
		switch string(v) {
		case "/true":
			return true, true
		case "/false":
			return false, true
		}
		return false, false
	case string:
		switch v {
		case "/true", "true":
			return true, true
		case "/false", "false":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// ExtractStringSlice extracts a []string from a JSON-decoded array. Non-string
// elements are stringified; a nil or non-array value yields nil.
func ExtractStringSlice(arg interface{}) []string {
	switch v := arg.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, ExtractString(item))
		}
		return out
	default:
		return nil
	}
}

// ExtractMap extracts a map[string]interface{}; returns nil for anything else.
func ExtractMap(arg interface{}) map[string]interface{} {
	if m, ok := arg.(map[string]interface{}); ok {
		return m
	}
	return nil
}

// ExtractMapSlice extracts a slice of JSON objects.
func ExtractMapSlice(arg interface{}) []map[string]interface{} {
	items, ok := arg.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// ExtractTime extracts a time.Time, interpreting int64 as Unix nanoseconds.
func ExtractTime(arg interface{}) (time.Time, bool) {
	switch v := arg.(type) {
	case time.Time:
		return v, true
	case int64:
		return time.Unix(0, v).UTC(), true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}
