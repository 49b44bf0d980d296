package models

import "time"

// UnlimitedQuota is the ceiling sentinel meaning "no limit".
const UnlimitedQuota int64 = -1

// QuotaPlan defines per-cycle request and token ceilings.
type QuotaPlan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name string `gorm:"type:text;not null;uniqueIndex"` // Plan name.

	RequestLimit int64 `gorm:"not null"` // Requests per cycle, -1 for unlimited.
	TokenLimit   int64 `gorm:"not null"` // Tokens per cycle, -1 for unlimited.
	PeriodDays   int   `gorm:"not null"` // Cycle length in days.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ApplicationQuota binds an application to a plan and carries its optional override.
type ApplicationQuota struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AppID string `gorm:"column:app_id;type:text;not null;uniqueIndex"` // Application identifier.

	PlanID *uint64    `gorm:"index"`              // Active plan.
	Plan   *QuotaPlan `gorm:"foreignKey:PlanID"` // Active plan record.

	PendingPlanID *uint64    `gorm:"index"`                     // Downgrade applied at the next cycle.
	PendingPlan   *QuotaPlan `gorm:"foreignKey:PendingPlanID"` // Pending plan record.

	OverrideRequestLimit *int64 // Override for the request ceiling.
	OverrideTokenLimit   *int64 // Override for the token ceiling.
	OverridePeriodDays   *int   // Override for the cycle length.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// HasOverride reports whether any override field is set.
func (q *ApplicationQuota) HasOverride() bool {
	if q == nil {
		return false
	}
	return q.OverrideRequestLimit != nil || q.OverrideTokenLimit != nil || q.OverridePeriodDays != nil
}

// TableName overrides the default table name.
func (ApplicationQuota) TableName() string {
	return "application_quotas"
}
