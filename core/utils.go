package core

import "encoding/json"

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

func IntPtr(i int) *int {
	return &i
}

// ToFloat64 converts any numeric value decoded from JSON or built in Go to a
// float64. Strings are not numbers here.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
