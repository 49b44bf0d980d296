package logging

import (
	"net/url"
	"strings"
)

// Mask keeps only the edges of a credential so log lines stay correlatable.
func Mask(value string) string {
	switch n := len(value); {
	case n > 8:
		return value[:4] + "..." + value[n-4:]
	case n > 4:
		return value[:2] + "..." + value[n-2:]
	case n > 2:
		return value[:1] + "..." + value[n-1:]
	}
	return value
}

// MaskQuery masks credential-looking parameters of a raw query string.
func MaskQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		key, value, _ := strings.Cut(part, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			decodedKey = key
		}
		if !sensitiveParam(decodedKey) {
			continue
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}
		parts[i] = key + "=" + url.QueryEscape(Mask(strings.TrimSpace(decodedValue)))
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}

func sensitiveParam(key string) bool {
	key = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(key)), "[]")
	if key == "" {
		return false
	}
	if key == "code" || key == "state" {
		return true
	}
	for _, marker := range []string{"secret", "token", "password", "api_key", "apikey"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}
