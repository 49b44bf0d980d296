package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/AppGateway/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPeriodDays applies when neither plan nor override sets a cycle length.
const DefaultPeriodDays = 30

// MaxPeriodDays bounds the cycle length to roughly ten years.
const MaxPeriodDays = 3660

// Plan is a quota plan.
type Plan struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name"`
	RequestLimit int64  `json:"request_limit"`
	TokenLimit   int64  `json:"token_limit"`
	PeriodDays   int    `json:"period_days"`
}

// Override carries the optional per-application ceilings. Nil fields fall back to the plan.
type Override struct {
	RequestLimit *int64 `json:"request_limit,omitempty"`
	TokenLimit   *int64 `json:"token_limit,omitempty"`
	PeriodDays   *int   `json:"period_days,omitempty"`
}

// Empty reports whether no override field is set.
func (o Override) Empty() bool {
	return o.RequestLimit == nil && o.TokenLimit == nil && o.PeriodDays == nil
}

// QuotaBinding is the quota configuration of one application.
type QuotaBinding struct {
	AppID       string   `json:"app_id"`
	Plan        *Plan    `json:"plan,omitempty"`
	PendingPlan *Plan    `json:"pending_plan,omitempty"`
	Override    Override `json:"override"`
}

// Configured reports whether a plan or an override applies.
func (b *QuotaBinding) Configured() bool {
	return b != nil && (b.Plan != nil || !b.Override.Empty())
}

// ValidateLimit rejects ceilings below the unlimited sentinel.
func ValidateLimit(v int64) error {
	if v < models.UnlimitedQuota {
		return fmt.Errorf("%w: ceiling %d below -1", ErrInvalidQuota, v)
	}
	return nil
}

// ValidatePeriod rejects cycle lengths below one day or above MaxPeriodDays.
func ValidatePeriod(days int) error {
	if days < 1 {
		return fmt.Errorf("%w: period %d below 1 day", ErrInvalidQuota, days)
	}
	if days > MaxPeriodDays {
		return fmt.Errorf("%w: period %d above %d days", ErrInvalidQuota, days, MaxPeriodDays)
	}
	return nil
}

// Validate checks every field of the override that is set.
func (o Override) Validate() error {
	if o.RequestLimit != nil {
		if err := ValidateLimit(*o.RequestLimit); err != nil {
			return err
		}
	}
	if o.TokenLimit != nil {
		if err := ValidateLimit(*o.TokenLimit); err != nil {
			return err
		}
	}
	if o.PeriodDays != nil {
		if err := ValidatePeriod(*o.PeriodDays); err != nil {
			return err
		}
	}
	return nil
}

func planFromModel(row *models.QuotaPlan) *Plan {
	if row == nil {
		return nil
	}
	return &Plan{
		ID:           row.ID,
		Name:         row.Name,
		RequestLimit: row.RequestLimit,
		TokenLimit:   row.TokenLimit,
		PeriodDays:   row.PeriodDays,
	}
}

// SavePlan inserts a plan, or updates it when ID is set.
func (s *Store) SavePlan(ctx context.Context, plan *Plan) error {
	if plan == nil || strings.TrimSpace(plan.Name) == "" {
		return fmt.Errorf("store: save plan: empty name")
	}
	if err := ValidateLimit(plan.RequestLimit); err != nil {
		return err
	}
	if err := ValidateLimit(plan.TokenLimit); err != nil {
		return err
	}
	if err := ValidatePeriod(plan.PeriodDays); err != nil {
		return err
	}
	name := strings.TrimSpace(plan.Name)
	if plan.ID != 0 {
		res := s.db.WithContext(ctx).Model(&models.QuotaPlan{}).Where("id = ?", plan.ID).Updates(map[string]any{
			"name":          name,
			"request_limit": plan.RequestLimit,
			"token_limit":   plan.TokenLimit,
			"period_days":   plan.PeriodDays,
		})
		if res.Error != nil {
			return fmt.Errorf("store: save plan: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	}
	row := models.QuotaPlan{
		Name:         name,
		RequestLimit: plan.RequestLimit,
		TokenLimit:   plan.TokenLimit,
		PeriodDays:   plan.PeriodDays,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: save plan: %w", err)
	}
	plan.ID = row.ID
	return nil
}

// LoadPlan loads a plan by id.
func (s *Store) LoadPlan(ctx context.Context, id uint64) (*Plan, error) {
	var row models.QuotaPlan
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err)
	}
	return planFromModel(&row), nil
}

// LoadQuota loads the quota binding of an application. A missing row yields an unconfigured binding.
func (s *Store) LoadQuota(ctx context.Context, appID string) (*QuotaBinding, error) {
	var row models.ApplicationQuota
	err := s.db.WithContext(ctx).
		Preload("Plan").
		Preload("PendingPlan").
		Where("app_id = ?", appID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &QuotaBinding{AppID: appID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load quota: %w", err)
	}
	return &QuotaBinding{
		AppID:       row.AppID,
		Plan:        planFromModel(row.Plan),
		PendingPlan: planFromModel(row.PendingPlan),
		Override: Override{
			RequestLimit: row.OverrideRequestLimit,
			TokenLimit:   row.OverrideTokenLimit,
			PeriodDays:   row.OverridePeriodDays,
		},
	}, nil
}

// upsertQuota writes the given columns of the application's quota row, creating it when missing.
func (s *Store) upsertQuota(ctx context.Context, appID string, values map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.ApplicationQuota{AppID: appID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&models.ApplicationQuota{}).Where("app_id = ?", appID).Updates(values).Error
	})
}

// SetPlans stores the active and pending plan of an application.
func (s *Store) SetPlans(ctx context.Context, appID string, planID, pendingPlanID *uint64) error {
	if err := s.upsertQuota(ctx, appID, map[string]any{
		"plan_id":         planID,
		"pending_plan_id": pendingPlanID,
	}); err != nil {
		return fmt.Errorf("store: set plans: %w", err)
	}
	return nil
}

// SetOverride replaces the application's override.
func (s *Store) SetOverride(ctx context.Context, appID string, o Override) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if err := s.upsertQuota(ctx, appID, map[string]any{
		"override_request_limit": o.RequestLimit,
		"override_token_limit":   o.TokenLimit,
		"override_period_days":   o.PeriodDays,
	}); err != nil {
		return fmt.Errorf("store: set override: %w", err)
	}
	return nil
}

// PromotePendingPlan makes the pending plan active. It reports whether a pending plan existed.
func (s *Store) PromotePendingPlan(ctx context.Context, appID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.ApplicationQuota{}).
		Where("app_id = ? AND pending_plan_id IS NOT NULL", appID).
		Updates(map[string]any{
			"plan_id":         gorm.Expr("pending_plan_id"),
			"pending_plan_id": nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("store: promote pending plan: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListQuotaAppIDs returns every application with a quota row.
func (s *Store) ListQuotaAppIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.ApplicationQuota{}).
		Order("app_id ASC").
		Pluck("app_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
