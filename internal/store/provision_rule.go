package store

import (
	"context"
	"fmt"

	"github.com/router-for-me/AppGateway/internal/models"
	"gorm.io/gorm/clause"
)

// ProvisionRule lists the grants applied to users registering through an application.
type ProvisionRule struct {
	AppID              string   `json:"app_id"`
	Enabled            bool     `json:"enabled"`
	RoleIDs            []uint64 `json:"role_ids"`
	PermissionIDs      []uint64 `json:"permission_ids"`
	OrganizationID     *uint64  `json:"organization_id,omitempty"`
	SubscriptionPlanID *uint64  `json:"subscription_plan_id,omitempty"`
}

// LoadProvisionRule loads the rule of an application.
func (s *Store) LoadProvisionRule(ctx context.Context, appID string) (*ProvisionRule, error) {
	var row models.AutoProvisionRule
	if err := s.db.WithContext(ctx).Where("app_id = ?", appID).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &ProvisionRule{
		AppID:              row.AppID,
		Enabled:            row.Enabled,
		RoleIDs:            decodeIDs(row.RoleIDs),
		PermissionIDs:      decodeIDs(row.PermissionIDs),
		OrganizationID:     row.OrganizationID,
		SubscriptionPlanID: row.SubscriptionPlanID,
	}, nil
}

// SaveProvisionRule inserts or replaces the rule of an application. References are validated by the caller.
func (s *Store) SaveProvisionRule(ctx context.Context, rule *ProvisionRule) error {
	if rule == nil || rule.AppID == "" {
		return fmt.Errorf("store: save provision rule: empty app id")
	}
	row := models.AutoProvisionRule{
		AppID:              rule.AppID,
		Enabled:            rule.Enabled,
		RoleIDs:            encodeIDs(rule.RoleIDs),
		PermissionIDs:      encodeIDs(rule.PermissionIDs),
		OrganizationID:     rule.OrganizationID,
		SubscriptionPlanID: rule.SubscriptionPlanID,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "role_ids", "permission_ids", "organization_id", "subscription_plan_id", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: save provision rule: %w", err)
	}
	return nil
}
