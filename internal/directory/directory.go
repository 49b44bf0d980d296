// Package directory is the role, permission, organization, subscription and
// application-user collaborator. Every grant is idempotent.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/AppGateway/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnknownReference indicates a rule points at an entity that does not exist.
var ErrUnknownReference = errors.New("directory: unknown reference")

// Directory reads and writes user grants through gorm.
type Directory struct {
	db  *gorm.DB
	now func() time.Time
}

// New constructs a Directory.
func New(db *gorm.DB) *Directory {
	return &Directory{db: db, now: time.Now}
}

func (d *Directory) exists(ctx context.Context, model any, query string, args ...any) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(model).Where(query, args...).Limit(1).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// insertIgnore creates row unless the unique pair already exists.
func (d *Directory) insertIgnore(ctx context.Context, row any) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
}

// HasRole reports whether userID holds roleID.
func (d *Directory) HasRole(ctx context.Context, userID, roleID uint64) (bool, error) {
	ok, err := d.exists(ctx, &models.UserRole{}, "user_id = ? AND role_id = ?", userID, roleID)
	if err != nil {
		return false, fmt.Errorf("directory: has role: %w", err)
	}
	return ok, nil
}

// GrantRole assigns roleID to userID.
func (d *Directory) GrantRole(ctx context.Context, userID, roleID uint64) error {
	if err := d.insertIgnore(ctx, &models.UserRole{UserID: userID, RoleID: roleID}); err != nil {
		return fmt.Errorf("directory: grant role: %w", err)
	}
	return nil
}

// HasPermission reports whether userID holds permissionID.
func (d *Directory) HasPermission(ctx context.Context, userID, permissionID uint64) (bool, error) {
	ok, err := d.exists(ctx, &models.UserPermission{}, "user_id = ? AND permission_id = ?", userID, permissionID)
	if err != nil {
		return false, fmt.Errorf("directory: has permission: %w", err)
	}
	return ok, nil
}

// GrantPermission assigns permissionID to userID.
func (d *Directory) GrantPermission(ctx context.Context, userID, permissionID uint64) error {
	if err := d.insertIgnore(ctx, &models.UserPermission{UserID: userID, PermissionID: permissionID}); err != nil {
		return fmt.Errorf("directory: grant permission: %w", err)
	}
	return nil
}

// IsMember reports whether userID belongs to organizationID.
func (d *Directory) IsMember(ctx context.Context, userID, organizationID uint64) (bool, error) {
	ok, err := d.exists(ctx, &models.OrganizationMember{}, "user_id = ? AND organization_id = ?", userID, organizationID)
	if err != nil {
		return false, fmt.Errorf("directory: is member: %w", err)
	}
	return ok, nil
}

// AddMember adds userID to organizationID.
func (d *Directory) AddMember(ctx context.Context, userID, organizationID uint64) error {
	if err := d.insertIgnore(ctx, &models.OrganizationMember{UserID: userID, OrganizationID: organizationID}); err != nil {
		return fmt.Errorf("directory: add member: %w", err)
	}
	return nil
}

// HasActiveSubscription reports whether userID has an open, active subscription to planID.
func (d *Directory) HasActiveSubscription(ctx context.Context, userID, planID uint64) (bool, error) {
	ok, err := d.exists(ctx, &models.Subscription{},
		"user_id = ? AND plan_id = ? AND status = ? AND (ended_at IS NULL OR ended_at > ?)",
		userID, planID, models.SubscriptionStatusActive, d.now().UTC())
	if err != nil {
		return false, fmt.Errorf("directory: has subscription: %w", err)
	}
	return ok, nil
}

// StartSubscription opens an active subscription of userID to planID.
func (d *Directory) StartSubscription(ctx context.Context, userID, planID uint64) error {
	row := models.Subscription{
		UserID:    userID,
		PlanID:    planID,
		Status:    models.SubscriptionStatusActive,
		StartedAt: d.now().UTC(),
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("directory: start subscription: %w", err)
	}
	return nil
}

// IsUserBound reports whether userID registered through appID.
func (d *Directory) IsUserBound(ctx context.Context, appID string, userID uint64) (bool, error) {
	ok, err := d.exists(ctx, &models.ApplicationUser{}, "app_id = ? AND user_id = ?", appID, userID)
	if err != nil {
		return false, fmt.Errorf("directory: is user bound: %w", err)
	}
	return ok, nil
}

// BindUser records that userID belongs to appID.
func (d *Directory) BindUser(ctx context.Context, appID string, userID uint64) error {
	if err := d.insertIgnore(ctx, &models.ApplicationUser{AppID: appID, UserID: userID}); err != nil {
		return fmt.Errorf("directory: bind user: %w", err)
	}
	return nil
}
