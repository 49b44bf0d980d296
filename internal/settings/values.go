package settings

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Int returns the integer setting for key, or fallback when missing or unparsable.
func Int(key string, fallback int) int {
	raw, ok := Value(key)
	if !ok {
		return fallback
	}
	if n, okParse := parseInt(raw); okParse {
		return n
	}
	return fallback
}

// Float returns the float setting for key, or fallback when missing or unparsable.
func Float(key string, fallback float64) float64 {
	raw, ok := Value(key)
	if !ok {
		return fallback
	}
	if f, okParse := parseFloat(raw); okParse {
		return f
	}
	return fallback
}

func parseInt(raw json.RawMessage) (int, bool) {
	f, ok := parseFloat(raw)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// parseFloat accepts bare numbers, numeric strings and {"value": ...} wrappers.
func parseFloat(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		parsed, errParse := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if errParse == nil && !math.IsNaN(parsed) && !math.IsInf(parsed, 0) {
			return parsed, true
		}
		return 0, false
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal == nil && len(wrapper.Value) > 0 {
		return parseFloat(wrapper.Value)
	}
	return 0, false
}
