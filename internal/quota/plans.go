package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/router-for-me/AppGateway/internal/audit"
	"github.com/router-for-me/AppGateway/internal/models"
	"github.com/router-for-me/AppGateway/internal/store"
	log "github.com/sirupsen/logrus"
)

// Plan change outcomes.
const (
	PlanChangeImmediate = "immediate"
	PlanChangeDeferred  = "deferred"
)

// SavePlan validates and stores a plan. Updating a plan invalidates every bound application.
func (m *Manager) SavePlan(ctx context.Context, plan *store.Plan) error {
	updating := plan != nil && plan.ID != 0
	if err := m.repo.SavePlan(ctx, plan); err != nil {
		return err
	}
	if !updating {
		return nil
	}
	ids, err := m.repo.ListQuotaAppIDs(ctx)
	if err != nil {
		return fmt.Errorf("quota: list bound applications: %w", err)
	}
	for _, appID := range ids {
		m.invalidate(ctx, appID)
	}
	return nil
}

// BindPlan binds appID to planID. An upgrade applies immediately and keeps this cycle's usage;
// a downgrade is recorded as pending and applies from the next cycle.
func (m *Manager) BindPlan(ctx context.Context, appID string, planID uint64, actor string) (string, error) {
	next, err := m.repo.LoadPlan(ctx, planID)
	if err != nil {
		return "", fmt.Errorf("quota: load plan %d: %w", planID, err)
	}
	binding, err := m.repo.LoadQuota(ctx, appID)
	if err != nil {
		return "", fmt.Errorf("quota: load binding: %w", err)
	}

	outcome := PlanChangeImmediate
	switch {
	case binding.Plan == nil, binding.Plan.ID == next.ID, isUpgrade(binding.Plan, next):
		err = m.repo.SetPlans(ctx, appID, &next.ID, nil)
	default:
		outcome = PlanChangeDeferred
		current := binding.Plan.ID
		err = m.repo.SetPlans(ctx, appID, &current, &next.ID)
	}
	if err != nil {
		return "", fmt.Errorf("quota: bind plan: %w", err)
	}
	m.invalidate(ctx, appID)
	m.record(ctx, audit.Event{
		Actor:  actor,
		Action: audit.ActionQuotaPlanBound,
		AppID:  appID,
		Detail: map[string]any{"plan_id": next.ID, "plan": next.Name, "outcome": outcome},
	})
	return outcome, nil
}

// SetOverride replaces the override of appID.
func (m *Manager) SetOverride(ctx context.Context, appID string, o store.Override, actor string) error {
	if err := m.repo.SetOverride(ctx, appID, o); err != nil {
		return err
	}
	m.invalidate(ctx, appID)
	detail := map[string]any{"cleared": o.Empty()}
	if o.RequestLimit != nil {
		detail["request_limit"] = *o.RequestLimit
	}
	if o.TokenLimit != nil {
		detail["token_limit"] = *o.TokenLimit
	}
	if o.PeriodDays != nil {
		detail["period_days"] = *o.PeriodDays
	}
	m.record(ctx, audit.Event{Actor: actor, Action: audit.ActionQuotaOverride, AppID: appID, Detail: detail})
	return nil
}

// ClearOverride removes the override of appID so every ceiling falls back to the plan.
func (m *Manager) ClearOverride(ctx context.Context, appID, actor string) error {
	return m.SetOverride(ctx, appID, store.Override{}, actor)
}

// isUpgrade reports whether every ceiling of next is at least the matching ceiling of current.
func isUpgrade(current, next *store.Plan) bool {
	return atLeast(next.RequestLimit, current.RequestLimit) && atLeast(next.TokenLimit, current.TokenLimit)
}

// atLeast compares ceilings with -1 ranking above every finite value.
func atLeast(a, b int64) bool {
	switch {
	case a == models.UnlimitedQuota:
		return true
	case b == models.UnlimitedQuota:
		return false
	}
	return a >= b
}

func (m *Manager) invalidate(ctx context.Context, appID string) {
	if m.invalidator == nil {
		return
	}
	if err := m.invalidator.Invalidate(ctx, appID); err != nil {
		log.WithError(err).WithField("app_id", appID).Warn("quota: cache invalidation failed")
	}
}

func (m *Manager) record(ctx context.Context, e audit.Event) {
	if m.auditor == nil {
		return
	}
	if err := m.auditor.Record(ctx, e); err != nil {
		log.WithError(err).WithFields(log.Fields{"app_id": e.AppID, "action": e.Action}).Warn("quota: audit failed")
	}
}

// IsValidation reports whether err is a quota validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, store.ErrInvalidQuota)
}
