// Package access verifies application credentials on inbound calls.
package access

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/router-for-me/AppGateway/internal/security"
	"github.com/router-for-me/AppGateway/internal/store"
	log "github.com/sirupsen/logrus"
)

// Credential header names.
const (
	HeaderAppID     = "X-App-Id"
	HeaderAppSecret = "X-App-Secret"
)

// Verification methods reported on Result.
const (
	MethodSecret = "secret"
	MethodBearer = "bearer"
)

var (
	// ErrMissingCredentials indicates the call carried neither secret headers nor a bearer token.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrInvalidCredentials covers unknown applications, secret mismatches and bad tokens alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrApplicationDisabled indicates the application exists but is disabled.
	ErrApplicationDisabled = errors.New("application disabled")
)

// Resolver resolves application configuration.
type Resolver interface {
	Resolve(ctx context.Context, appID string) (*store.ApplicationConfig, error)
}

// Toucher records successful secret verifications.
type Toucher interface {
	TouchLastUsed(ctx context.Context, appID string, at time.Time) error
}

// Result identifies the verified application.
type Result struct {
	AppID  string
	Method string
	Config *store.ApplicationConfig
}

// Verifier authenticates calls by application secret or bearer token.
type Verifier struct {
	resolver  Resolver
	toucher   Toucher
	jwtSecret string

	bypassPathPrefixes []string

	// verified remembers recent digest matches so bcrypt runs once per secret per window.
	verified *lru.LRU[string, string]
}

// NewVerifier constructs a Verifier. toucher may be nil.
func NewVerifier(resolver Resolver, toucher Toucher, jwtSecret string) *Verifier {
	return &Verifier{
		resolver:           resolver,
		toucher:            toucher,
		jwtSecret:          jwtSecret,
		bypassPathPrefixes: []string{"/healthz", "/metrics", "/v0/admin", "/v1/oauth/token"},
		verified:           lru.NewLRU[string, string](4096, nil, 5*time.Second),
	}
}

// Authenticate verifies the request. Bypassed paths return a nil result and nil error.
func (v *Verifier) Authenticate(ctx context.Context, r *http.Request) (*Result, error) {
	if v == nil || r == nil {
		return nil, ErrMissingCredentials
	}
	path := ""
	if r.URL != nil {
		path = r.URL.Path
	}
	for _, prefix := range v.bypassPathPrefixes {
		if prefix != "" && (path == prefix || strings.HasPrefix(path, prefix+"/")) {
			return nil, nil
		}
	}

	headerAppID := strings.TrimSpace(r.Header.Get(HeaderAppID))
	if token := bearerToken(r); token != "" {
		return v.verifyBearer(ctx, token, headerAppID)
	}
	secret := strings.TrimSpace(r.Header.Get(HeaderAppSecret))
	if headerAppID == "" || secret == "" {
		return nil, ErrMissingCredentials
	}
	cfg, err := v.VerifySecret(ctx, headerAppID, secret)
	if err != nil {
		return nil, err
	}
	return &Result{AppID: cfg.AppID, Method: MethodSecret, Config: cfg}, nil
}

// VerifySecret checks an application id and secret pair.
func (v *Verifier) VerifySecret(ctx context.Context, appID, secret string) (*store.ApplicationConfig, error) {
	cfg, err := v.resolve(ctx, appID)
	if err != nil {
		return nil, err
	}
	fingerprint := secretFingerprint(secret, cfg.SecretHash)
	if cached, ok := v.verified.Get(appID); !ok || cached != fingerprint {
		if !security.CheckSecret(cfg.SecretHash, secret) {
			return nil, ErrInvalidCredentials
		}
		v.verified.Add(appID, fingerprint)
		if v.toucher != nil {
			if errTouch := v.toucher.TouchLastUsed(ctx, appID, time.Now().UTC()); errTouch != nil {
				log.WithError(errTouch).WithField("app_id", appID).Debug("access: touch last used failed")
			}
		}
	}
	if cfg.Disabled() {
		return nil, ErrApplicationDisabled
	}
	return cfg, nil
}

// Forget drops remembered verifications for appID, e.g. after a secret reset.
func (v *Verifier) Forget(appID string) {
	v.verified.Remove(appID)
}

func (v *Verifier) verifyBearer(ctx context.Context, token, headerAppID string) (*Result, error) {
	claims, err := security.ParseAppToken(v.jwtSecret, token)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	// A token issued to one application must not be replayed under another identity.
	if headerAppID != "" && headerAppID != claims.AppID {
		return nil, ErrInvalidCredentials
	}
	cfg, err := v.resolve(ctx, claims.AppID)
	if err != nil {
		return nil, err
	}
	if cfg.Disabled() {
		return nil, ErrApplicationDisabled
	}
	return &Result{AppID: cfg.AppID, Method: MethodBearer, Config: cfg}, nil
}

func (v *Verifier) resolve(ctx context.Context, appID string) (*store.ApplicationConfig, error) {
	cfg, err := v.resolver.Resolve(ctx, appID)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrInvalidCredentials
	default:
		return nil, fmt.Errorf("access: resolve application: %w", err)
	}
}

// bearerToken extracts a token from the Authorization header.
func bearerToken(r *http.Request) string {
	val := strings.TrimSpace(r.Header.Get("Authorization"))
	if val == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(val) > len(prefix) && strings.EqualFold(val[:len(prefix)], prefix) {
		return strings.TrimSpace(val[len(prefix):])
	}
	return ""
}

func secretFingerprint(secret, hash string) string {
	sum := sha256.Sum256([]byte(hash + "\x00" + secret))
	return hex.EncodeToString(sum[:])
}
