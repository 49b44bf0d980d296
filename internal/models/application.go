package models

import (
	"time"

	"gorm.io/datatypes"
)

// Application lifecycle status values.
const (
	// ApplicationStatusActive marks an application allowed to call the gateway.
	ApplicationStatusActive = "active"
	// ApplicationStatusDisabled marks an application rejected on every call.
	ApplicationStatusDisabled = "disabled"
)

// Application represents a registered third-party integrator.
type Application struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AppID string `gorm:"column:app_id;type:text;not null;uniqueIndex"` // Public, immutable application identifier.
	Name  string `gorm:"type:text;not null;default:''"`                // Display name.

	SecretHash string `gorm:"type:text;not null"`                   // One-way digest of the application secret.
	Status     string `gorm:"type:text;not null;default:'active'"` // Lifecycle status.

	RateLimit int `gorm:"not null;default:0"` // Requests per minute; 0 disables the limiter.

	Scopes       datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Granted scope names.
	LoginMethods datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Enabled login method names.

	LastUsedAt *time.Time // Last successful credential verification.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsDisabled reports whether the application is disabled.
func (a *Application) IsDisabled() bool {
	return a == nil || a.Status == ApplicationStatusDisabled
}

// ApplicationOAuth stores an OAuth provider sub-configuration for an application.
type ApplicationOAuth struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AppID    string `gorm:"column:app_id;type:text;not null;uniqueIndex:idx_application_oauth_provider"` // Owning application identifier.
	Provider string `gorm:"type:text;not null;uniqueIndex:idx_application_oauth_provider"`              // Provider name, e.g. github.

	ClientID         string `gorm:"type:text;not null"` // OAuth client ID.
	SecretCiphertext []byte `gorm:"type:bytea"`         // Encrypted client secret; never decrypted by the gateway core.
	RedirectURL      string `gorm:"type:text"`          // Registered redirect URL.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (ApplicationOAuth) TableName() string {
	return "application_oauth"
}
