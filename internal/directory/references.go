package directory

import (
	"context"
	"fmt"

	"github.com/router-for-me/AppGateway/internal/models"
)

// RoleExists reports whether roleID exists.
func (d *Directory) RoleExists(ctx context.Context, roleID uint64) (bool, error) {
	return d.exists(ctx, &models.Role{}, "id = ?", roleID)
}

// PermissionExists reports whether permissionID exists.
func (d *Directory) PermissionExists(ctx context.Context, permissionID uint64) (bool, error) {
	return d.exists(ctx, &models.Permission{}, "id = ?", permissionID)
}

// OrganizationExists reports whether organizationID exists.
func (d *Directory) OrganizationExists(ctx context.Context, organizationID uint64) (bool, error) {
	return d.exists(ctx, &models.Organization{}, "id = ?", organizationID)
}

// SubscriptionPlanExists reports whether planID exists.
func (d *Directory) SubscriptionPlanExists(ctx context.Context, planID uint64) (bool, error) {
	return d.exists(ctx, &models.SubscriptionPlan{}, "id = ?", planID)
}

// References lists the entities an auto-provision rule points at.
type References struct {
	RoleIDs            []uint64
	PermissionIDs      []uint64
	OrganizationID     *uint64
	SubscriptionPlanID *uint64
}

// Validate checks that every reference exists. The returned error wraps ErrUnknownReference
// and names the first missing entity.
func (d *Directory) Validate(ctx context.Context, refs References) error {
	check := func(kind string, id uint64, fn func(context.Context, uint64) (bool, error)) error {
		ok, err := fn(ctx, id)
		if err != nil {
			return fmt.Errorf("directory: check %s %d: %w", kind, id, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s %d", ErrUnknownReference, kind, id)
		}
		return nil
	}
	for _, id := range refs.RoleIDs {
		if err := check("role", id, d.RoleExists); err != nil {
			return err
		}
	}
	for _, id := range refs.PermissionIDs {
		if err := check("permission", id, d.PermissionExists); err != nil {
			return err
		}
	}
	if refs.OrganizationID != nil {
		if err := check("organization", *refs.OrganizationID, d.OrganizationExists); err != nil {
			return err
		}
	}
	if refs.SubscriptionPlanID != nil {
		if err := check("subscription plan", *refs.SubscriptionPlanID, d.SubscriptionPlanExists); err != nil {
			return err
		}
	}
	return nil
}
