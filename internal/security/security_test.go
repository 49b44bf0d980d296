package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAppTokenRoundTrip(t *testing.T) {
	token, expiresAt, errSign := GenerateAppToken("0123456789abcdef", "app-1", time.Hour)
	if errSign != nil {
		t.Fatalf("sign: %v", errSign)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiry, got %s", expiresAt)
	}
	claims, errParse := ParseAppToken("0123456789abcdef", token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.AppID != "app-1" {
		t.Fatalf("expected app-1, got %q", claims.AppID)
	}
}

func TestAppTokenRejectsWrongSecret(t *testing.T) {
	token, _, errSign := GenerateAppToken("0123456789abcdef", "app-1", time.Hour)
	if errSign != nil {
		t.Fatalf("sign: %v", errSign)
	}
	if _, errParse := ParseAppToken("fedcba9876543210", token); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", errParse)
	}
}

func TestAppTokenExpired(t *testing.T) {
	token, _, errSign := GenerateAppToken("0123456789abcdef", "app-1", -time.Minute)
	if errSign != nil {
		t.Fatalf("sign: %v", errSign)
	}
	if _, errParse := ParseAppToken("0123456789abcdef", token); !errors.Is(errParse, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", errParse)
	}
}

func TestAdminTokenIsNotAnAppToken(t *testing.T) {
	token, errSign := GenerateAdminToken("0123456789abcdef", 7, "root", time.Hour)
	if errSign != nil {
		t.Fatalf("sign: %v", errSign)
	}
	if _, errParse := ParseAppToken("0123456789abcdef", token); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected admin token without app_id to be rejected, got %v", errParse)
	}
}

func TestSecretDigest(t *testing.T) {
	restore := SetHashCostForTesting(4)
	defer restore()

	secret, errGen := GenerateAppSecret()
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if !strings.HasPrefix(secret, appSecretPrefix) {
		t.Fatalf("unexpected secret prefix: %q", secret)
	}
	hash, errHash := HashSecret(secret)
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	if hash == secret {
		t.Fatalf("digest must differ from secret")
	}
	if !CheckSecret(hash, secret) {
		t.Fatalf("expected secret to match digest")
	}
	if CheckSecret(hash, secret+"x") {
		t.Fatalf("expected mismatched secret to fail")
	}
	if CheckSecret("", secret) {
		t.Fatalf("expected empty digest to fail")
	}
}

func TestGenerateRandomStringLength(t *testing.T) {
	for _, n := range []int{1, 7, 16} {
		s, errGen := GenerateRandomString(n)
		if errGen != nil {
			t.Fatalf("generate: %v", errGen)
		}
		if len(s) != n {
			t.Fatalf("expected length %d, got %d", n, len(s))
		}
	}
}
