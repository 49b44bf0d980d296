package models

import "time"

// Subscription status values.
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
)

// Role is a named role users can hold.
type Role struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"type:text;not null;uniqueIndex"`
}

// Permission is a named permission users can hold.
type Permission struct {
	ID  uint64 `gorm:"primaryKey;autoIncrement"`
	Key string `gorm:"type:text;not null;uniqueIndex"`
}

// Organization groups users.
type Organization struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"type:text;not null;uniqueIndex"`
}

// SubscriptionPlan is a plan users can subscribe to.
type SubscriptionPlan struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"type:text;not null;uniqueIndex"`
}

// UserRole assigns a role to a user.
type UserRole struct {
	ID     uint64    `gorm:"primaryKey;autoIncrement"`
	UserID uint64    `gorm:"not null;uniqueIndex:idx_user_roles_pair"`
	RoleID uint64    `gorm:"not null;uniqueIndex:idx_user_roles_pair"`
	At     time.Time `gorm:"not null;autoCreateTime"`
}

// UserPermission assigns a permission to a user.
type UserPermission struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	UserID       uint64    `gorm:"not null;uniqueIndex:idx_user_permissions_pair"`
	PermissionID uint64    `gorm:"not null;uniqueIndex:idx_user_permissions_pair"`
	At           time.Time `gorm:"not null;autoCreateTime"`
}

// OrganizationMember records organization membership.
type OrganizationMember struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	OrganizationID uint64    `gorm:"not null;uniqueIndex:idx_organization_members_pair"`
	UserID         uint64    `gorm:"not null;uniqueIndex:idx_organization_members_pair"`
	At             time.Time `gorm:"not null;autoCreateTime"`
}

// Subscription records a user's subscription to a plan.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`     // Subscriber.
	PlanID uint64 `gorm:"not null;index"`     // Subscribed plan.
	Status string `gorm:"type:text;not null"` // active or cancelled.

	StartedAt time.Time  `gorm:"not null"` // Start time.
	EndedAt   *time.Time // End time, nil while open-ended.
}

// ApplicationUser binds a user to the application it registered through.
type ApplicationUser struct {
	ID     uint64    `gorm:"primaryKey;autoIncrement"`
	AppID  string    `gorm:"column:app_id;type:text;not null;uniqueIndex:idx_application_users_pair"`
	UserID uint64    `gorm:"not null;uniqueIndex:idx_application_users_pair"`
	At     time.Time `gorm:"not null;autoCreateTime"`
}
