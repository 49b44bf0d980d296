package models

import "time"

// Reset causes recorded on usage snapshots.
const (
	// ResetCauseAutomatic marks a scheduled or lazily detected cycle rollover.
	ResetCauseAutomatic = "automatic"
	// ResetCauseManual marks an administrator-invoked reset.
	ResetCauseManual = "manual"
)

// UsageSnapshot is the durable, append-only record of a closed quota cycle.
type UsageSnapshot struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AppID      string    `gorm:"column:app_id;type:text;not null;uniqueIndex:idx_usage_snapshots_cycle"` // Application identifier.
	CycleStart time.Time `gorm:"not null;uniqueIndex:idx_usage_snapshots_cycle"`                         // Closed cycle start.
	CycleEnd   time.Time `gorm:"not null"`                                                               // Closure time.

	RequestLimit int64 `gorm:"not null"` // Request ceiling in effect.
	TokenLimit   int64 `gorm:"not null"` // Token ceiling in effect.

	RequestsUsed int64   `gorm:"not null;default:0"` // Requests consumed in the cycle.
	TokensUsed   float64 `gorm:"not null;default:0"` // Tokens consumed in the cycle.

	ResetCause string `gorm:"type:text;not null"` // automatic or manual.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
