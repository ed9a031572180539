package climate

import (
	"encoding/json"
	"math"
	"strconv"
)

// Helpers for reading loosely typed JSON payloads. Each returns ok=false
// when the key is missing, null, or of an unusable type.

const keyCelsius = "celsius"

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func getFloat(data map[string]any, key string) (float64, bool) {
	return floatValue(data[key])
}

func getInt(data map[string]any, key string) (int, bool) {
	f, ok := floatValue(data[key])
	if !ok {
		return 0, false
	}
	return int(f), true
}

func getBool(data map[string]any, key string) (bool, bool) {
	return boolValue(data[key])
}

func boolValue(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case nil:
		return false, false
	case string:
		return b != "", true
	}
	f, ok := floatValue(v)
	if !ok {
		return false, false
	}
	return f != 0, true
}

func getString(data map[string]any, key string) (string, bool) {
	return stringValue(data[key])
}

func stringValue(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case nil:
		return "", false
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case bool:
		return strconv.FormatBool(s), true
	case map[string]any:
		b, err := json.Marshal(s)
		return string(b), err == nil
	}
	return "", false
}

func getMap(data map[string]any, key string) map[string]any {
	m, _ := data[key].(map[string]any)
	return m
}

// getCelsius reads data[key].celsius.
func getCelsius(data map[string]any, key string) (float64, bool) {
	return getFloat(getMap(data, key), keyCelsius)
}

func getStrings(data map[string]any, key string) ([]string, bool) {
	raw, ok := data[key].([]any)
	if !ok {
		if s, ok := data[key].([]string); ok {
			return append([]string(nil), s...), true
		}
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := stringValue(v); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func getInts(data map[string]any, key string) ([]int, bool) {
	raw, ok := data[key].([]any)
	if !ok {
		if s, ok := data[key].([]int); ok {
			return append([]int(nil), s...), true
		}
		return nil, false
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		if f, ok := floatValue(v); ok {
			out = append(out, int(f))
		}
	}
	return out, true
}

// decodeTriState applies the "active" flag rules to dst.
//
//   - key present with a value: the value
//   - key present with null on a full update: false
//   - key absent on a full update: unknown (nil)
//   - partial updates: only a non-null value changes dst
func decodeTriState(dst **bool, data map[string]any, key string, origin Origin) {
	raw, present := data[key]
	if present && raw != nil {
		if b, ok := getBool(data, key); ok {
			*dst = ptr(b)
		}
		return
	}
	if !origin.IsFull() {
		return
	}
	if present {
		*dst = ptr(false)
		return
	}
	*dst = nil
}

func ptr[T any](v T) *T { return &v }

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return ptr(round1(*v))
}
