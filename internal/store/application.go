package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/router-for-me/AppGateway/internal/models"
	"gorm.io/gorm/clause"
)

// ApplicationConfig is the resolved configuration of one application.
type ApplicationConfig struct {
	AppID        string    `json:"app_id"`
	Name         string    `json:"name"`
	SecretHash   string    `json:"secret_hash"`
	Status       string    `json:"status"`
	RateLimit    int       `json:"rate_limit"`
	Scopes       []string  `json:"scopes"`
	LoginMethods []string  `json:"login_methods"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Disabled reports whether every check must fail closed for this application.
func (c *ApplicationConfig) Disabled() bool {
	return c == nil || c.Status != models.ApplicationStatusActive
}

// HasScope reports whether scope is granted.
func (c *ApplicationConfig) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

// HasLoginMethod reports whether method is enabled.
func (c *ApplicationConfig) HasLoginMethod(method string) bool {
	return c != nil && slices.Contains(c.LoginMethods, method)
}

// OAuthConfig is one provider sub-configuration of an application.
type OAuthConfig struct {
	AppID            string `json:"app_id"`
	Provider         string `json:"provider"`
	ClientID         string `json:"client_id"`
	SecretCiphertext []byte `json:"secret_ciphertext"`
	RedirectURL      string `json:"redirect_url"`
}

func applicationFromModel(row *models.Application) *ApplicationConfig {
	return &ApplicationConfig{
		AppID:        row.AppID,
		Name:         row.Name,
		SecretHash:   row.SecretHash,
		Status:       row.Status,
		RateLimit:    row.RateLimit,
		Scopes:       decodeStrings(row.Scopes),
		LoginMethods: decodeStrings(row.LoginMethods),
		UpdatedAt:    row.UpdatedAt,
	}
}

// LoadApplication loads one application by its public identifier.
func (s *Store) LoadApplication(ctx context.Context, appID string) (*ApplicationConfig, error) {
	var row models.Application
	if err := s.db.WithContext(ctx).Where("app_id = ?", appID).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return applicationFromModel(&row), nil
}

// SaveApplication inserts or updates an application keyed by AppID.
func (s *Store) SaveApplication(ctx context.Context, cfg *ApplicationConfig) error {
	if cfg == nil || strings.TrimSpace(cfg.AppID) == "" {
		return fmt.Errorf("store: save application: empty app id")
	}
	if cfg.RateLimit < 0 {
		return fmt.Errorf("store: save application: negative rate limit")
	}
	status := cfg.Status
	if status == "" {
		status = models.ApplicationStatusActive
	}
	row := models.Application{
		AppID:        strings.TrimSpace(cfg.AppID),
		Name:         cfg.Name,
		SecretHash:   cfg.SecretHash,
		Status:       status,
		RateLimit:    cfg.RateLimit,
		Scopes:       encodeStrings(cfg.Scopes),
		LoginMethods: encodeStrings(cfg.LoginMethods),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "secret_hash", "status", "rate_limit", "scopes", "login_methods", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: save application: %w", err)
	}
	return nil
}

// TouchLastUsed records a successful credential verification.
func (s *Store) TouchLastUsed(ctx context.Context, appID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Application{}).
		Where("app_id = ?", appID).
		UpdateColumn("last_used_at", at.UTC()).Error
}

// LoadOAuth loads the provider sub-configuration of an application.
func (s *Store) LoadOAuth(ctx context.Context, appID, provider string) (*OAuthConfig, error) {
	var row models.ApplicationOAuth
	if err := s.db.WithContext(ctx).
		Where("app_id = ? AND provider = ?", appID, provider).
		First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &OAuthConfig{
		AppID:            row.AppID,
		Provider:         row.Provider,
		ClientID:         row.ClientID,
		SecretCiphertext: row.SecretCiphertext,
		RedirectURL:      row.RedirectURL,
	}, nil
}

// SaveOAuth inserts or updates a provider sub-configuration.
func (s *Store) SaveOAuth(ctx context.Context, cfg *OAuthConfig) error {
	if cfg == nil || cfg.AppID == "" || strings.TrimSpace(cfg.Provider) == "" {
		return fmt.Errorf("store: save oauth: missing app id or provider")
	}
	row := models.ApplicationOAuth{
		AppID:            cfg.AppID,
		Provider:         strings.ToLower(strings.TrimSpace(cfg.Provider)),
		ClientID:         cfg.ClientID,
		SecretCiphertext: cfg.SecretCiphertext,
		RedirectURL:      cfg.RedirectURL,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"client_id", "secret_ciphertext", "redirect_url", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: save oauth: %w", err)
	}
	return nil
}

// ListOAuthProviders returns the providers configured for an application.
func (s *Store) ListOAuthProviders(ctx context.Context, appID string) ([]string, error) {
	var providers []string
	if err := s.db.WithContext(ctx).Model(&models.ApplicationOAuth{}).
		Where("app_id = ?", appID).
		Order("provider ASC").
		Pluck("provider", &providers).Error; err != nil {
		return nil, err
	}
	return providers, nil
}
