package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Identifier prefixes for generated application credentials.
const (
	appIDPrefix     = "app_"
	appSecretPrefix = "gws_"
)

// GenerateAppID creates a new public application identifier.
func GenerateAppID() (string, error) {
	raw := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate app id: %w", err)
	}
	return appIDPrefix + hex.EncodeToString(raw), nil
}

// GenerateAppSecret creates a new random application secret. Only its digest is stored.
func GenerateAppSecret() (secret string, err error) {
	raw := make([]byte, 32)
	if _, err = io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate app secret: %w", err)
	}
	return appSecretPrefix + hex.EncodeToString(raw), nil
}

// GenerateRandomString returns a hex-encoded random string of the given length.
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, (length+1)/2)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", fmt.Errorf("generate random string: %w", err)
	}
	return hex.EncodeToString(bytes)[:length], nil
}
