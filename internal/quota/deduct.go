package quota

import (
	"context"
	"time"

	"github.com/router-for-me/AppGateway/internal/counter"
	"github.com/router-for-me/AppGateway/internal/metrics"
	"github.com/router-for-me/AppGateway/internal/models"
	log "github.com/sirupsen/logrus"
)

// DeductRequest counts one call against the request ceiling. Store failures are logged and skipped.
func (m *Manager) DeductRequest(ctx context.Context, appID string) {
	used, err := m.counters.IncrBy(ctx, counter.RequestsKey(appID), 1)
	if err != nil {
		metrics.Degraded("deduct_request")
		log.WithError(err).WithField("app_id", appID).Warn("quota: request deduction skipped")
		return
	}
	m.checkThresholds(ctx, appID, counter.DimensionRequests, float64(used))
}

// DeductToken adds amount to the token counter. The deduction always applies, even past the
// ceiling; the next Check reports exhaustion.
func (m *Manager) DeductToken(ctx context.Context, appID string, amount float64) {
	if amount < 0 {
		amount = 0
	}
	used, err := m.counters.IncrByFloat(ctx, counter.TokensKey(appID), amount)
	if err != nil {
		metrics.Degraded("deduct_token")
		log.WithError(err).WithFields(log.Fields{"app_id": appID, "amount": amount}).Warn("quota: token deduction skipped")
		return
	}
	if amount == 0 {
		return
	}
	m.checkThresholds(ctx, appID, counter.DimensionTokens, used)
}

// checkThresholds emits each threshold event at most once per cycle.
func (m *Manager) checkThresholds(ctx context.Context, appID, dimension string, used float64) {
	binding, err := m.bindings.ResolveQuota(ctx, appID)
	if err != nil {
		log.WithError(err).WithField("app_id", appID).Debug("quota: threshold check skipped")
		return
	}
	limits, ok := Effective(binding)
	if !ok {
		return
	}
	limit := limits.RequestLimit
	if dimension == counter.DimensionTokens {
		limit = limits.TokenLimit
	}
	if limit == models.UnlimitedQuota || limit == 0 {
		return
	}
	ratio := used / float64(limit)
	warningRatio := m.ratio()
	if ratio < warningRatio {
		return
	}

	cycle, err := m.counters.ReadCycle(ctx, appID)
	if err != nil || !cycle.Started {
		return
	}
	levels := []string{WarningApproaching}
	if ratio >= 1 {
		levels = append(levels, WarningExhausted)
	}
	ttl := limits.Period() + day
	for _, level := range levels {
		first, errFlag := m.counters.SetIfAbsent(ctx, counter.FlagKey(appID, dimension, level, cycle.Start), "1", ttl)
		if errFlag != nil {
			log.WithError(errFlag).WithField("app_id", appID).Warn("quota: threshold flag unavailable")
			return
		}
		if !first {
			continue
		}
		m.notifier.Notify(ctx, ThresholdEvent{
			AppID:      appID,
			Dimension:  dimension,
			Level:      level,
			Used:       used,
			Limit:      limit,
			Ratio:      ratio,
			CycleStart: cycle.Start,
			At:         m.now().UTC().Truncate(time.Millisecond),
		})
	}
}
