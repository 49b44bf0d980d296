// Package applications owns the administrative write paths of application
// configuration. Every write invalidates cached copies after it commits.
package applications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/AppGateway/internal/audit"
	"github.com/router-for-me/AppGateway/internal/models"
	"github.com/router-for-me/AppGateway/internal/security"
	"github.com/router-for-me/AppGateway/internal/store"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrInvalidStatus indicates a status other than active or disabled.
	ErrInvalidStatus = errors.New("applications: invalid status")
	// ErrInvalidRateLimit indicates a negative rate limit.
	ErrInvalidRateLimit = errors.New("applications: invalid rate limit")
	// ErrInvalidName indicates an empty application name.
	ErrInvalidName = errors.New("applications: name is required")
)

// Store is the durable application store.
type Store interface {
	LoadApplication(ctx context.Context, appID string) (*store.ApplicationConfig, error)
	SaveApplication(ctx context.Context, cfg *store.ApplicationConfig) error
	SaveOAuth(ctx context.Context, cfg *store.OAuthConfig) error
}

// Invalidator drops cached configuration.
type Invalidator interface {
	Invalidate(ctx context.Context, appID string) error
}

// Forgetter drops remembered credential verifications.
type Forgetter interface {
	Forget(appID string)
}

// Auditor records audit events.
type Auditor interface {
	Record(ctx context.Context, e audit.Event) error
}

// Service applies administrative changes to applications.
type Service struct {
	store       Store
	invalidator Invalidator
	forgetter   Forgetter
	auditor     Auditor
}

// NewService constructs a Service. Any collaborator except store may be nil.
func NewService(s Store, invalidator Invalidator, forgetter Forgetter, auditor Auditor) *Service {
	return &Service{store: s, invalidator: invalidator, forgetter: forgetter, auditor: auditor}
}

// CreateInput describes a new application.
type CreateInput struct {
	Name         string   `json:"name"`
	Scopes       []string `json:"scopes"`
	LoginMethods []string `json:"login_methods"`
	RateLimit    int      `json:"rate_limit"`
}

// Created is a new application with its plaintext secret, shown once.
type Created struct {
	Config *store.ApplicationConfig
	Secret string
}

// Create registers an application with a generated identifier and secret.
func (s *Service) Create(ctx context.Context, in CreateInput, actor string) (*Created, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if in.RateLimit < 0 {
		return nil, ErrInvalidRateLimit
	}
	appID, err := security.GenerateAppID()
	if err != nil {
		return nil, fmt.Errorf("applications: generate id: %w", err)
	}
	secret, err := security.GenerateAppSecret()
	if err != nil {
		return nil, fmt.Errorf("applications: generate secret: %w", err)
	}
	hash, err := security.HashSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("applications: hash secret: %w", err)
	}
	cfg := &store.ApplicationConfig{
		AppID:        appID,
		Name:         name,
		SecretHash:   hash,
		Status:       models.ApplicationStatusActive,
		RateLimit:    in.RateLimit,
		Scopes:       in.Scopes,
		LoginMethods: in.LoginMethods,
	}
	if err = s.store.SaveApplication(ctx, cfg); err != nil {
		return nil, err
	}
	saved, err := s.store.LoadApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.ActionAppCreated, appID, map[string]any{"name": name, "rate_limit": in.RateLimit})
	return &Created{Config: saved, Secret: secret}, nil
}

// SetStatus enables or disables an application.
func (s *Service) SetStatus(ctx context.Context, appID, status, actor string) error {
	if status != models.ApplicationStatusActive && status != models.ApplicationStatusDisabled {
		return ErrInvalidStatus
	}
	return s.mutate(ctx, appID, actor, audit.ActionAppStatus, func(cfg *store.ApplicationConfig) map[string]any {
		previous := cfg.Status
		cfg.Status = status
		return map[string]any{"from": previous, "to": status}
	})
}

// SetScopes replaces the granted scope set.
func (s *Service) SetScopes(ctx context.Context, appID string, scopes []string, actor string) error {
	return s.mutate(ctx, appID, actor, audit.ActionAppScopes, func(cfg *store.ApplicationConfig) map[string]any {
		cfg.Scopes = scopes
		return map[string]any{"scopes": scopes}
	})
}

// SetLoginMethods replaces the enabled login methods.
func (s *Service) SetLoginMethods(ctx context.Context, appID string, methods []string, actor string) error {
	return s.mutate(ctx, appID, actor, audit.ActionAppLoginMethods, func(cfg *store.ApplicationConfig) map[string]any {
		cfg.LoginMethods = methods
		return map[string]any{"login_methods": methods}
	})
}

// SetRateLimit changes the requests-per-minute ceiling; 0 disables the limiter.
func (s *Service) SetRateLimit(ctx context.Context, appID string, limit int, actor string) error {
	if limit < 0 {
		return ErrInvalidRateLimit
	}
	return s.mutate(ctx, appID, actor, audit.ActionAppRateLimit, func(cfg *store.ApplicationConfig) map[string]any {
		previous := cfg.RateLimit
		cfg.RateLimit = limit
		return map[string]any{"from": previous, "to": limit}
	})
}

// ResetSecret issues a new secret and returns it in plaintext.
func (s *Service) ResetSecret(ctx context.Context, appID, actor string) (string, error) {
	secret, err := security.GenerateAppSecret()
	if err != nil {
		return "", fmt.Errorf("applications: generate secret: %w", err)
	}
	hash, err := security.HashSecret(secret)
	if err != nil {
		return "", fmt.Errorf("applications: hash secret: %w", err)
	}
	err = s.mutate(ctx, appID, actor, audit.ActionAppSecretReset, func(cfg *store.ApplicationConfig) map[string]any {
		cfg.SecretHash = hash
		return nil
	})
	if err != nil {
		return "", err
	}
	return secret, nil
}

// SaveOAuth stores an OAuth provider sub-configuration.
func (s *Service) SaveOAuth(ctx context.Context, cfg *store.OAuthConfig, actor string) error {
	if _, err := s.store.LoadApplication(ctx, cfg.AppID); err != nil {
		return err
	}
	if err := s.store.SaveOAuth(ctx, cfg); err != nil {
		return err
	}
	s.invalidate(ctx, cfg.AppID)
	s.record(ctx, actor, audit.ActionAppLoginMethods, cfg.AppID, map[string]any{"oauth_provider": cfg.Provider})
	return nil
}

// mutate loads, edits and saves one application, then invalidates it.
func (s *Service) mutate(ctx context.Context, appID, actor, action string, edit func(*store.ApplicationConfig) map[string]any) error {
	cfg, err := s.store.LoadApplication(ctx, appID)
	if err != nil {
		return err
	}
	detail := edit(cfg)
	if err = s.store.SaveApplication(ctx, cfg); err != nil {
		return err
	}
	s.invalidate(ctx, appID)
	s.record(ctx, actor, action, appID, detail)
	return nil
}

func (s *Service) invalidate(ctx context.Context, appID string) {
	if s.forgetter != nil {
		s.forgetter.Forget(appID)
	}
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, appID); err != nil {
		log.WithError(err).WithField("app_id", appID).Warn("applications: cache invalidation failed")
	}
}

func (s *Service) record(ctx context.Context, actor, action, appID string, detail map[string]any) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, audit.Event{Actor: actor, Action: action, AppID: appID, Detail: detail}); err != nil {
		log.WithError(err).WithFields(log.Fields{"app_id": appID, "action": action}).Warn("applications: audit failed")
	}
}
