package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/router-for-me/AppGateway/internal/audit"
	"github.com/router-for-me/AppGateway/internal/counter"
	"github.com/router-for-me/AppGateway/internal/models"
	log "github.com/sirupsen/logrus"
)

type rolloverInput struct {
	cause  string
	actor  string
	cycle  counter.Cycle
	limits Limits
	end    time.Time
	next   time.Time
}

// rollover closes a cycle in order: durable snapshot, counter reset and cycle advance, flag
// clearing, pending plan promotion. The snapshot insert is idempotent per (app, cycle start),
// and the counter reset only applies while the cycle start is unchanged, so concurrent callers
// record one snapshot and reset once.
func (m *Manager) rollover(ctx context.Context, appID string, in rolloverInput) error {
	snap := &models.UsageSnapshot{
		AppID:        appID,
		CycleStart:   in.cycle.Start,
		CycleEnd:     in.end,
		RequestLimit: in.limits.RequestLimit,
		TokenLimit:   in.limits.TokenLimit,
		RequestsUsed: in.cycle.Requests,
		TokensUsed:   in.cycle.Tokens,
		ResetCause:   in.cause,
	}
	created, err := m.repo.InsertSnapshot(ctx, snap)
	if err != nil {
		return fmt.Errorf("quota: snapshot %s: %w", appID, err)
	}

	reset, err := m.counters.ResetCycle(ctx, appID, in.cycle.Start, in.next, in.cycle.Requests, in.cycle.Tokens)
	if err != nil {
		return fmt.Errorf("quota: reset counters %s: %w", appID, err)
	}
	if !reset {
		return nil
	}

	if errClear := m.counters.ClearFlags(ctx, appID); errClear != nil {
		log.WithError(errClear).WithField("app_id", appID).Warn("quota: clear threshold flags failed")
	}
	promoted, errPromote := m.repo.PromotePendingPlan(ctx, appID)
	if errPromote != nil {
		log.WithError(errPromote).WithField("app_id", appID).Warn("quota: promote pending plan failed")
	}
	if promoted && m.invalidator != nil {
		if errInvalidate := m.invalidator.Invalidate(ctx, appID); errInvalidate != nil {
			log.WithError(errInvalidate).WithField("app_id", appID).Warn("quota: invalidate after plan promotion failed")
		}
	}

	fields := log.Fields{
		"app_id":        appID,
		"cause":         in.cause,
		"cycle_start":   in.cycle.Start.Format(time.RFC3339),
		"next_start":    in.next.Format(time.RFC3339),
		"requests_used": in.cycle.Requests,
		"tokens_used":   in.cycle.Tokens,
		"snapshot":      created,
	}
	log.WithFields(fields).Info("quota cycle closed")

	if m.auditor != nil {
		action := audit.ActionQuotaRollover
		actor := "system"
		if in.cause == models.ResetCauseManual {
			action = audit.ActionQuotaReset
			actor = in.actor
		}
		errRecord := m.auditor.Record(ctx, audit.Event{
			Actor:  actor,
			Action: action,
			AppID:  appID,
			Detail: map[string]any{
				"cycle_start":    in.cycle.Start,
				"cycle_end":      in.end,
				"requests_used":  in.cycle.Requests,
				"tokens_used":    in.cycle.Tokens,
				"request_limit":  in.limits.RequestLimit,
				"token_limit":    in.limits.TokenLimit,
				"plan_promoted":  promoted,
				"snapshot_saved": created,
			},
		})
		if errRecord != nil {
			log.WithError(errRecord).WithField("app_id", appID).Warn("quota: audit cycle close failed")
		}
	}
	return nil
}

// ManualReset closes the current cycle immediately, tagged as a manual reset.
func (m *Manager) ManualReset(ctx context.Context, appID, actor string) error {
	binding, err := m.repo.LoadQuota(ctx, appID)
	if err != nil {
		return fmt.Errorf("quota: load binding: %w", err)
	}
	limits, ok := Effective(binding)
	if !ok {
		return ErrNotConfigured
	}
	cycle, err := m.counters.ReadCycle(ctx, appID)
	if err != nil {
		return fmt.Errorf("quota: read counters: %w", err)
	}
	now := m.nowMs()
	if !cycle.Started {
		if cycle.Start, err = m.counters.InitCycle(ctx, appID, now); err != nil {
			return fmt.Errorf("quota: init cycle: %w", err)
		}
		cycle.Started = true
	}
	if !now.After(cycle.Start) {
		now = cycle.Start.Add(time.Millisecond)
	}
	return m.rollover(ctx, appID, rolloverInput{
		cause:  models.ResetCauseManual,
		actor:  actor,
		cycle:  cycle,
		limits: limits,
		end:    now,
		next:   now,
	})
}

// RolloverIfStale closes the cycle of appID when it has expired. It reports whether it did.
func (m *Manager) RolloverIfStale(ctx context.Context, appID string) (bool, error) {
	binding, err := m.repo.LoadQuota(ctx, appID)
	if err != nil {
		return false, fmt.Errorf("quota: load binding: %w", err)
	}
	limits, ok := Effective(binding)
	if !ok {
		return false, nil
	}
	cycle, err := m.counters.ReadCycle(ctx, appID)
	if err != nil {
		return false, fmt.Errorf("quota: read counters: %w", err)
	}
	now := m.nowMs()
	if !cycle.Started || !stale(cycle.Start, limits, now) {
		return false, nil
	}
	if err := m.rollover(ctx, appID, rolloverInput{
		cause:  models.ResetCauseAutomatic,
		cycle:  cycle,
		limits: limits,
		end:    cycle.Start.Add(limits.Period()),
		next:   nextCycleStart(cycle.Start, limits, now),
	}); err != nil {
		return false, err
	}
	return true, nil
}
