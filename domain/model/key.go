package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// KeyString returns the canonical string form of a scalar key or attribute
// value, so that 7, int64(7), 7.0, json.Number("7") and "7" compare equal.
// ok is false for nil, fractional floats and non-scalar values.
// This is a PURE function.
func KeyString(v any) (string, bool) {
	switch n := v.(type) {
	case string:
		return n, true
	case int:
		return strconv.FormatInt(int64(n), 10), true
	case int8:
		return strconv.FormatInt(int64(n), 10), true
	case int16:
		return strconv.FormatInt(int64(n), 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), true
	case uint8:
		return strconv.FormatUint(uint64(n), 10), true
	case uint16:
		return strconv.FormatUint(uint64(n), 10), true
	case uint32:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	case float32:
		return floatKey(float64(n))
	case float64:
		return floatKey(n)
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return n.String(), true
		}
		if f, err := n.Float64(); err == nil {
			return floatKey(f)
		}
		return "", false
	case bool:
		return strconv.FormatBool(n), true
	}
	return "", false
}

func floatKey(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', 0, 64), true
}
