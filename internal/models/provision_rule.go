package models

import (
	"time"

	"gorm.io/datatypes"
)

// AutoProvisionRule describes grants applied to users registering through an application.
type AutoProvisionRule struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AppID   string `gorm:"column:app_id;type:text;not null;uniqueIndex"` // Application identifier.
	Enabled bool   `gorm:"not null;default:false"`                       // Whether the rule runs.

	RoleIDs       datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Role IDs to grant.
	PermissionIDs datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Permission IDs to grant.

	OrganizationID     *uint64 // Organization to join.
	SubscriptionPlanID *uint64 // Subscription plan to start.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
