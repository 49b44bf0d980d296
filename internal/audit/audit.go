// Package audit records durable administrative and metering events.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/AppGateway/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audited actions.
const (
	ActionQuotaReset       = "quota.reset"
	ActionQuotaRollover    = "quota.rollover"
	ActionQuotaThreshold   = "quota.threshold"
	ActionQuotaPlanBound   = "quota.plan_bound"
	ActionQuotaOverride    = "quota.override"
	ActionAppStatus        = "application.status"
	ActionAppScopes        = "application.scopes"
	ActionAppLoginMethods  = "application.login_methods"
	ActionAppRateLimit     = "application.rate_limit"
	ActionAppSecretReset   = "application.secret_reset"
	ActionAppCreated       = "application.created"
	ActionProvisionRuleSet = "provision.rule_saved"
)

// Event is one audit record.
type Event struct {
	ID     string
	Actor  string
	Action string
	AppID  string
	Detail map[string]any
	At     time.Time
}

// Recorder appends events to the audit_logs table.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record appends e. Missing ids and timestamps are filled in.
func (r *Recorder) Record(ctx context.Context, e Event) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("audit: nil recorder")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	var detail datatypes.JSON
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("audit: encode detail: %w", err)
		}
		detail = raw
	}
	row := models.AuditLog{
		EventID:   e.ID,
		Actor:     e.Actor,
		Action:    e.Action,
		AppID:     e.AppID,
		Detail:    detail,
		CreatedAt: e.At,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("audit: record %s: %w", e.Action, err)
	}
	return nil
}

// List returns the most recent events of an application, newest first.
func (r *Recorder) List(ctx context.Context, appID string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.AuditLog
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if appID != "" {
		q = q.Where("app_id = ?", appID)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return rows, nil
}
