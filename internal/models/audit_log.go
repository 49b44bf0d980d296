package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is a durable record of an administrative or metering event.
type AuditLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EventID string `gorm:"type:text;not null;uniqueIndex"` // Unique event identifier.
	Actor   string `gorm:"type:text;not null;default:''"`  // Who triggered the event.
	Action  string `gorm:"type:text;not null;index"`       // Event action name.
	AppID   string `gorm:"column:app_id;type:text;index"`  // Related application, when any.

	Detail datatypes.JSON `gorm:"type:jsonb"` // Structured event detail.

	CreatedAt time.Time `gorm:"not null;index"` // Event time.
}
