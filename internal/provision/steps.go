package provision

import (
	"context"
	"errors"
	"fmt"
)

// Step names, used in logs and metrics.
const (
	StepRoles        = "roles"
	StepPermissions  = "permissions"
	StepOrganization = "organization"
	StepSubscription = "subscription"
)

// Step is one idempotent grant command. Run reports whether it changed anything.
type Step interface {
	Name() string
	Run(ctx context.Context, userID uint64) (bool, error)
}

// grantEach checks then grants every id, continuing past failures.
func grantEach(ctx context.Context, userID uint64, ids []uint64, has func(context.Context, uint64, uint64) (bool, error), grant func(context.Context, uint64, uint64) error) (bool, error) {
	changed := false
	var errs []error
	for _, id := range ids {
		held, err := has(ctx, userID, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("check %d: %w", id, err))
			continue
		}
		if held {
			continue
		}
		if err = grant(ctx, userID, id); err != nil {
			errs = append(errs, fmt.Errorf("grant %d: %w", id, err))
			continue
		}
		changed = true
	}
	return changed, errors.Join(errs...)
}

type roleStep struct {
	dir Directory
	ids []uint64
}

func (s roleStep) Name() string { return StepRoles }

func (s roleStep) Run(ctx context.Context, userID uint64) (bool, error) {
	return grantEach(ctx, userID, s.ids, s.dir.HasRole, s.dir.GrantRole)
}

type permissionStep struct {
	dir Directory
	ids []uint64
}

func (s permissionStep) Name() string { return StepPermissions }

func (s permissionStep) Run(ctx context.Context, userID uint64) (bool, error) {
	return grantEach(ctx, userID, s.ids, s.dir.HasPermission, s.dir.GrantPermission)
}

type organizationStep struct {
	dir Directory
	id  uint64
}

func (s organizationStep) Name() string { return StepOrganization }

func (s organizationStep) Run(ctx context.Context, userID uint64) (bool, error) {
	return grantEach(ctx, userID, []uint64{s.id}, s.dir.IsMember, s.dir.AddMember)
}

type subscriptionStep struct {
	dir    Directory
	planID uint64
}

func (s subscriptionStep) Name() string { return StepSubscription }

func (s subscriptionStep) Run(ctx context.Context, userID uint64) (bool, error) {
	return grantEach(ctx, userID, []uint64{s.planID}, s.dir.HasActiveSubscription, s.dir.StartSubscription)
}
