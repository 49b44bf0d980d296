// Package quota meters per-application request and token consumption per billing cycle.
package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/router-for-me/AppGateway/internal/audit"
	"github.com/router-for-me/AppGateway/internal/counter"
	"github.com/router-for-me/AppGateway/internal/metrics"
	"github.com/router-for-me/AppGateway/internal/models"
	internalsettings "github.com/router-for-me/AppGateway/internal/settings"
	"github.com/router-for-me/AppGateway/internal/store"
	log "github.com/sirupsen/logrus"
)

// Machine-readable quota error codes.
const (
	CodeNotConfigured   = "quota_not_configured"
	CodeRequestExceeded = "request_quota_exceeded"
	CodeTokenExceeded   = "token_quota_exceeded"
)

// Warning levels reported on admitted calls and emitted as threshold events.
const (
	WarningApproaching = "approaching_limit"
	WarningExhausted   = "exhausted"
)

const day = 24 * time.Hour

var (
	// ErrNotConfigured indicates the application has neither a plan nor an override.
	ErrNotConfigured = errors.New(CodeNotConfigured)
	// ErrRequestQuotaExceeded indicates the request ceiling is exhausted.
	ErrRequestQuotaExceeded = errors.New(CodeRequestExceeded)
	// ErrTokenQuotaExceeded indicates the token ceiling is exhausted.
	ErrTokenQuotaExceeded = errors.New(CodeTokenExceeded)
)

// Limits are the effective ceilings of one application.
type Limits struct {
	RequestLimit int64
	TokenLimit   int64
	PeriodDays   int
}

// Period returns the cycle length. Rows written before the upper bound existed are capped.
func (l Limits) Period() time.Duration {
	return time.Duration(min(l.PeriodDays, store.MaxPeriodDays)) * day
}

// Effective resolves the ceilings in force: a set override field wins, otherwise the plan field.
// Without a plan, unset override ceilings are unlimited. It reports false when nothing is configured.
func Effective(b *store.QuotaBinding) (Limits, bool) {
	if !b.Configured() {
		return Limits{}, false
	}
	limits := Limits{
		RequestLimit: models.UnlimitedQuota,
		TokenLimit:   models.UnlimitedQuota,
		PeriodDays:   store.DefaultPeriodDays,
	}
	if b.Plan != nil {
		limits.RequestLimit = b.Plan.RequestLimit
		limits.TokenLimit = b.Plan.TokenLimit
		if b.Plan.PeriodDays > 0 {
			limits.PeriodDays = b.Plan.PeriodDays
		}
	}
	if b.Override.RequestLimit != nil {
		limits.RequestLimit = *b.Override.RequestLimit
	}
	if b.Override.TokenLimit != nil {
		limits.TokenLimit = *b.Override.TokenLimit
	}
	if b.Override.PeriodDays != nil && *b.Override.PeriodDays > 0 {
		limits.PeriodDays = *b.Override.PeriodDays
	}
	return limits, true
}

// Status is the quota state reported by Check.
type Status struct {
	Allowed bool

	RequestLimit     int64
	RequestUsed      int64
	RequestRemaining int64

	TokenLimit     int64
	TokenUsed      float64
	TokenRemaining float64

	CycleStart time.Time
	ResetAt    time.Time

	ErrorCode string
	Warning   string
	Degraded  bool // counter store unreachable; the call was admitted unconditionally
}

// ResetEpoch returns the cycle reset time in unix seconds, 0 when unknown.
func (s Status) ResetEpoch() int64 {
	if s.ResetAt.IsZero() {
		return 0
	}
	return s.ResetAt.Unix()
}

// Err maps a denial to its sentinel.
func (s Status) Err() error {
	switch s.ErrorCode {
	case CodeNotConfigured:
		return ErrNotConfigured
	case CodeRequestExceeded:
		return ErrRequestQuotaExceeded
	case CodeTokenExceeded:
		return ErrTokenQuotaExceeded
	}
	return nil
}

// BindingSource resolves quota bindings, typically through the config cache.
type BindingSource interface {
	ResolveQuota(ctx context.Context, appID string) (*store.QuotaBinding, error)
}

// Repository is the durable side of quota management.
type Repository interface {
	LoadQuota(ctx context.Context, appID string) (*store.QuotaBinding, error)
	LoadPlan(ctx context.Context, id uint64) (*store.Plan, error)
	SavePlan(ctx context.Context, plan *store.Plan) error
	SetPlans(ctx context.Context, appID string, planID, pendingPlanID *uint64) error
	SetOverride(ctx context.Context, appID string, o store.Override) error
	PromotePendingPlan(ctx context.Context, appID string) (bool, error)
	InsertSnapshot(ctx context.Context, snap *models.UsageSnapshot) (bool, error)
	ListQuotaAppIDs(ctx context.Context) ([]string, error)
}

// repositoryBindings reads bindings straight from the durable store.
type repositoryBindings struct{ repo Repository }

func (r repositoryBindings) ResolveQuota(ctx context.Context, appID string) (*store.QuotaBinding, error) {
	return r.repo.LoadQuota(ctx, appID)
}

// Invalidator drops cached configuration after durable writes.
type Invalidator interface {
	Invalidate(ctx context.Context, appID string) error
}

// Auditor records audit events.
type Auditor interface {
	Record(ctx context.Context, e audit.Event) error
}

// Manager is the QuotaManager.
type Manager struct {
	counters    counter.Store
	bindings    BindingSource
	repo        Repository
	invalidator Invalidator
	auditor     Auditor
	notifier    Notifier

	warningRatio float64
	now          func() time.Time
}

// Options wires a Manager.
type Options struct {
	Counters     counter.Store
	Bindings     BindingSource
	Repository   Repository
	Invalidator  Invalidator
	Auditor      Auditor
	Notifier     Notifier
	WarningRatio float64
	Now          func() time.Time
}

// NewManager constructs a Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		counters:     opts.Counters,
		bindings:     opts.Bindings,
		repo:         opts.Repository,
		invalidator:  opts.Invalidator,
		auditor:      opts.Auditor,
		notifier:     opts.Notifier,
		warningRatio: opts.WarningRatio,
		now:          opts.Now,
	}
	if m.bindings == nil && m.repo != nil {
		m.bindings = repositoryBindings{m.repo}
	}
	if m.notifier == nil {
		m.notifier = LogNotifier{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// ratio returns the approaching-limit threshold; the runtime setting wins over the configured value.
func (m *Manager) ratio() float64 {
	fallback := m.warningRatio
	if fallback <= 0 || fallback >= 1 {
		fallback = internalsettings.DefaultQuotaWarningRatio
	}
	r := internalsettings.Float(internalsettings.QuotaWarningRatioKey, fallback)
	if r <= 0 || r >= 1 {
		return fallback
	}
	return r
}

func (m *Manager) nowMs() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

// Check reports whether appID may make another metered call.
func (m *Manager) Check(ctx context.Context, appID string) (Status, error) {
	binding, err := m.bindings.ResolveQuota(ctx, appID)
	if err != nil {
		return Status{}, fmt.Errorf("quota: resolve binding: %w", err)
	}
	limits, ok := Effective(binding)
	if !ok {
		return Status{ErrorCode: CodeNotConfigured}, nil
	}

	cycle, rolled, err := m.currentCycle(ctx, appID, binding, limits)
	if err != nil {
		metrics.Degraded("check")
		log.WithError(err).WithField("app_id", appID).Warn("quota: counter store unavailable, failing open")
		return Status{
			Allowed:          true,
			RequestLimit:     limits.RequestLimit,
			RequestRemaining: remainingInt(limits.RequestLimit, 0),
			TokenLimit:       limits.TokenLimit,
			TokenRemaining:   remainingFloat(limits.TokenLimit, 0),
			Degraded:         true,
		}, nil
	}
	if rolled {
		// A rollover may promote a pending plan.
		if binding, err = m.bindings.ResolveQuota(ctx, appID); err != nil {
			return Status{}, fmt.Errorf("quota: resolve binding: %w", err)
		}
		if limits, ok = Effective(binding); !ok {
			return Status{ErrorCode: CodeNotConfigured}, nil
		}
	}
	return m.evaluate(limits, cycle), nil
}

func (m *Manager) evaluate(limits Limits, cycle counter.Cycle) Status {
	s := Status{
		Allowed:          true,
		RequestLimit:     limits.RequestLimit,
		RequestUsed:      cycle.Requests,
		RequestRemaining: remainingInt(limits.RequestLimit, cycle.Requests),
		TokenLimit:       limits.TokenLimit,
		TokenUsed:        cycle.Tokens,
		TokenRemaining:   remainingFloat(limits.TokenLimit, cycle.Tokens),
		CycleStart:       cycle.Start,
		ResetAt:          cycle.Start.Add(limits.Period()),
	}
	switch {
	case limits.RequestLimit != models.UnlimitedQuota && s.RequestRemaining == 0:
		s.Allowed = false
		s.ErrorCode = CodeRequestExceeded
	case limits.TokenLimit != models.UnlimitedQuota && s.TokenRemaining == 0:
		s.Allowed = false
		s.ErrorCode = CodeTokenExceeded
	}
	s.Warning = worstLevel(m.ratio(),
		usageRatio(float64(cycle.Requests), limits.RequestLimit),
		usageRatio(cycle.Tokens, limits.TokenLimit))
	return s
}

// currentCycle reads the live counters, starting a cycle when none exists and rolling it over
// when stale. It reports whether a rollover happened.
func (m *Manager) currentCycle(ctx context.Context, appID string, binding *store.QuotaBinding, limits Limits) (counter.Cycle, bool, error) {
	cycle, err := m.counters.ReadCycle(ctx, appID)
	if err != nil {
		return counter.Cycle{}, false, err
	}
	if !cycle.Started {
		start, errInit := m.counters.InitCycle(ctx, appID, m.nowMs())
		if errInit != nil {
			return counter.Cycle{}, false, errInit
		}
		cycle.Start = start
		cycle.Started = true
	}
	now := m.nowMs()
	if !stale(cycle.Start, limits, now) {
		return cycle, false, nil
	}
	if errRoll := m.rollover(ctx, appID, rolloverInput{
		cause:  models.ResetCauseAutomatic,
		cycle:  cycle,
		limits: limits,
		end:    cycle.Start.Add(limits.Period()),
		next:   nextCycleStart(cycle.Start, limits, now),
	}); errRoll != nil {
		return counter.Cycle{}, false, errRoll
	}
	cycle, err = m.counters.ReadCycle(ctx, appID)
	if err != nil {
		return counter.Cycle{}, false, err
	}
	return cycle, true, nil
}

func stale(start time.Time, limits Limits, now time.Time) bool {
	return !now.Before(start.Add(limits.Period()))
}

// nextCycleStart keeps cycle boundaries aligned to the original start across idle periods.
func nextCycleStart(start time.Time, limits Limits, now time.Time) time.Time {
	period := limits.Period()
	if period <= 0 {
		return now
	}
	elapsed := now.Sub(start)
	return start.Add(period * time.Duration(elapsed/period))
}

func remainingInt(limit, used int64) int64 {
	if limit == models.UnlimitedQuota {
		return models.UnlimitedQuota
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

func remainingFloat(limit int64, used float64) float64 {
	if limit == models.UnlimitedQuota {
		return float64(models.UnlimitedQuota)
	}
	left := float64(limit) - used
	if left <= 0 {
		return 0
	}
	return left
}

// usageRatio is used/limit; unlimited reports 0 and a zero ceiling reports +Inf.
func usageRatio(used float64, limit int64) float64 {
	switch {
	case limit == models.UnlimitedQuota:
		return 0
	case limit == 0:
		return math.Inf(1)
	}
	return used / float64(limit)
}

func worstLevel(warningRatio float64, ratios ...float64) string {
	level := ""
	for _, r := range ratios {
		switch {
		case r >= 1:
			return WarningExhausted
		case r >= warningRatio:
			level = WarningApproaching
		}
	}
	return level
}
