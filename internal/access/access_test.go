package access

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/router-for-me/AppGateway/internal/models"
	"github.com/router-for-me/AppGateway/internal/security"
	"github.com/router-for-me/AppGateway/internal/store"
)

const testJWTSecret = "0123456789abcdef"

type mapResolver map[string]*store.ApplicationConfig

func (m mapResolver) Resolve(_ context.Context, appID string) (*store.ApplicationConfig, error) {
	cfg, ok := m[appID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cfg, nil
}

type countingToucher struct{ n atomic.Int64 }

func (c *countingToucher) TouchLastUsed(context.Context, string, time.Time) error {
	c.n.Add(1)
	return nil
}

func newTestVerifier(t *testing.T) (*Verifier, *countingToucher) {
	t.Helper()
	restore := security.SetHashCostForTesting(4)
	t.Cleanup(restore)
	hash, err := security.HashSecret("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	resolver := mapResolver{
		"app-1": {AppID: "app-1", SecretHash: hash, Status: models.ApplicationStatusActive},
		"app-2": {AppID: "app-2", SecretHash: hash, Status: models.ApplicationStatusActive},
		"off":   {AppID: "off", SecretHash: hash, Status: models.ApplicationStatusDisabled},
	}
	toucher := &countingToucher{}
	return NewVerifier(resolver, toucher, testJWTSecret), toucher
}

func TestAuthenticateSecret(t *testing.T) {
	v, toucher := newTestVerifier(t)
	cases := []struct {
		name   string
		appID  string
		secret string
		want   error
	}{
		{name: "valid", appID: "app-1", secret: "s3cret"},
		{name: "wrong secret", appID: "app-1", secret: "nope", want: ErrInvalidCredentials},
		{name: "unknown app", appID: "ghost", secret: "s3cret", want: ErrInvalidCredentials},
		{name: "disabled", appID: "off", secret: "s3cret", want: ErrApplicationDisabled},
		{name: "disabled with wrong secret", appID: "off", secret: "nope", want: ErrInvalidCredentials},
		{name: "missing secret", appID: "app-1", want: ErrMissingCredentials},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/users/me", nil)
			req.Header.Set(HeaderAppID, tc.appID)
			if tc.secret != "" {
				req.Header.Set(HeaderAppSecret, tc.secret)
			}
			res, err := v.Authenticate(context.Background(), req)
			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Fatalf("expected %v, got %v", tc.want, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.AppID != tc.appID || res.Method != MethodSecret {
				t.Fatalf("unexpected result %+v", res)
			}
		})
	}
	if toucher.n.Load() == 0 {
		t.Fatalf("expected last-used touch on successful verification")
	}
}

func TestAuthenticateSecretRemembersVerification(t *testing.T) {
	v, toucher := newTestVerifier(t)
	for i := 0; i < 3; i++ {
		if _, err := v.VerifySecret(context.Background(), "app-1", "s3cret"); err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
	}
	if got := toucher.n.Load(); got != 1 {
		t.Fatalf("expected one digest comparison, got %d", got)
	}
	if _, err := v.VerifySecret(context.Background(), "app-1", "other"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected different secret to be re-checked and fail, got %v", err)
	}
}

func TestAuthenticateBearer(t *testing.T) {
	v, _ := newTestVerifier(t)
	token, _, err := security.GenerateAppToken(testJWTSecret, "app-1", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest("GET", "/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := v.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if res.AppID != "app-1" || res.Method != MethodBearer {
		t.Fatalf("unexpected result %+v", res)
	}

	req.Header.Set(HeaderAppID, "app-2")
	if _, err := v.Authenticate(context.Background(), req); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected cross-application reuse to fail, got %v", err)
	}

	bad := httptest.NewRequest("GET", "/v1/users/me", nil)
	bad.Header.Set("Authorization", "Bearer not-a-token")
	if _, err := v.Authenticate(context.Background(), bad); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid token to fail, got %v", err)
	}
}

func TestAuthenticateBypassesUnprotectedPaths(t *testing.T) {
	v, _ := newTestVerifier(t)
	for _, path := range []string{"/healthz", "/v0/admin/applications", "/v1/oauth/token"} {
		res, err := v.Authenticate(context.Background(), httptest.NewRequest("GET", path, nil))
		if err != nil || res != nil {
			t.Fatalf("%s: expected bypass, got %+v %v", path, res, err)
		}
	}
	if _, err := v.Authenticate(context.Background(), httptest.NewRequest("GET", "/healthzz", nil)); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected prefix boundary to be enforced, got %v", err)
	}
}
