// Package provision applies per-application grants to newly registered users.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/AppGateway/internal/audit"
	"github.com/router-for-me/AppGateway/internal/directory"
	"github.com/router-for-me/AppGateway/internal/metrics"
	"github.com/router-for-me/AppGateway/internal/store"
	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds one Apply run.
const DefaultTimeout = 10 * time.Second

// Directory is the grant collaborator.
type Directory interface {
	HasRole(ctx context.Context, userID, roleID uint64) (bool, error)
	GrantRole(ctx context.Context, userID, roleID uint64) error
	HasPermission(ctx context.Context, userID, permissionID uint64) (bool, error)
	GrantPermission(ctx context.Context, userID, permissionID uint64) error
	IsMember(ctx context.Context, userID, organizationID uint64) (bool, error)
	AddMember(ctx context.Context, userID, organizationID uint64) error
	HasActiveSubscription(ctx context.Context, userID, planID uint64) (bool, error)
	StartSubscription(ctx context.Context, userID, planID uint64) error
}

// Validator checks rule references when a rule is saved.
type Validator interface {
	Validate(ctx context.Context, refs directory.References) error
}

// Rules persists auto-provision rules.
type Rules interface {
	LoadProvisionRule(ctx context.Context, appID string) (*store.ProvisionRule, error)
	SaveProvisionRule(ctx context.Context, rule *store.ProvisionRule) error
}

// Auditor records audit events.
type Auditor interface {
	Record(ctx context.Context, e audit.Event) error
}

// StepResult is the outcome of one step.
type StepResult struct {
	Step    string
	Changed bool
	Err     error
}

// Report summarizes an Apply run.
type Report struct {
	Ran     bool
	Results []StepResult
}

// Failed returns the steps that errored.
func (r Report) Failed() []StepResult {
	var out []StepResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Provisioner is the AutoProvisioner.
type Provisioner struct {
	rules     Rules
	dir       Directory
	validator Validator
	auditor   Auditor
	timeout   time.Duration
}

// New constructs a Provisioner. validator and auditor may be nil.
func New(rules Rules, dir Directory, validator Validator, auditor Auditor, timeout time.Duration) *Provisioner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Provisioner{rules: rules, dir: dir, validator: validator, auditor: auditor, timeout: timeout}
}

// Steps builds the fixed step sequence for rule.
func (p *Provisioner) Steps(rule *store.ProvisionRule) []Step {
	steps := make([]Step, 0, 4)
	if len(rule.RoleIDs) > 0 {
		steps = append(steps, roleStep{dir: p.dir, ids: rule.RoleIDs})
	}
	if len(rule.PermissionIDs) > 0 {
		steps = append(steps, permissionStep{dir: p.dir, ids: rule.PermissionIDs})
	}
	if rule.OrganizationID != nil {
		steps = append(steps, organizationStep{dir: p.dir, id: *rule.OrganizationID})
	}
	if rule.SubscriptionPlanID != nil {
		steps = append(steps, subscriptionStep{dir: p.dir, planID: *rule.SubscriptionPlanID})
	}
	return steps
}

// Apply runs the rule of appID for userID. It never fails: step errors are logged,
// counted and reported, and the remaining steps still run. The run is detached from
// caller cancellation and bounded by the provisioner timeout.
func (p *Provisioner) Apply(ctx context.Context, appID string, userID uint64) Report {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	fields := log.Fields{"app_id": appID, "user_id": userID}
	rule, err := p.rules.LoadProvisionRule(runCtx, appID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			metrics.StepFailed("load_rule")
			log.WithError(err).WithFields(fields).Warn("provision: load rule failed")
		}
		return Report{}
	}
	if !rule.Enabled {
		return Report{}
	}
	return Execute(runCtx, userID, p.Steps(rule), fields)
}

// Execute runs steps in order, continuing past failures.
func Execute(ctx context.Context, userID uint64, steps []Step, fields log.Fields) Report {
	report := Report{Ran: true, Results: make([]StepResult, 0, len(steps))}
	for _, step := range steps {
		changed, err := step.Run(ctx, userID)
		report.Results = append(report.Results, StepResult{Step: step.Name(), Changed: changed, Err: err})
		if err != nil {
			metrics.StepFailed(step.Name())
			log.WithError(err).WithFields(fields).WithField("step", step.Name()).Warn("provision: step failed, skipped")
		}
	}
	return report
}

// SaveRule validates the references of rule and stores it.
func (p *Provisioner) SaveRule(ctx context.Context, rule *store.ProvisionRule, actor string) error {
	if rule == nil {
		return fmt.Errorf("provision: nil rule")
	}
	if p.validator != nil {
		if err := p.validator.Validate(ctx, directory.References{
			RoleIDs:            rule.RoleIDs,
			PermissionIDs:      rule.PermissionIDs,
			OrganizationID:     rule.OrganizationID,
			SubscriptionPlanID: rule.SubscriptionPlanID,
		}); err != nil {
			return err
		}
	}
	if err := p.rules.SaveProvisionRule(ctx, rule); err != nil {
		return err
	}
	if p.auditor != nil {
		errRecord := p.auditor.Record(ctx, audit.Event{
			Actor:  actor,
			Action: audit.ActionProvisionRuleSet,
			AppID:  rule.AppID,
			Detail: map[string]any{
				"enabled":              rule.Enabled,
				"role_ids":             rule.RoleIDs,
				"permission_ids":       rule.PermissionIDs,
				"organization_id":      rule.OrganizationID,
				"subscription_plan_id": rule.SubscriptionPlanID,
			},
		})
		if errRecord != nil {
			log.WithError(errRecord).WithField("app_id", rule.AppID).Warn("provision: audit rule save failed")
		}
	}
	return nil
}
