// Package metrics registers the gateway's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission stages.
const (
	StageCredentials = "credentials"
	StageScope       = "scope"
	StageUserBinding = "user_binding"
	StageRateLimit   = "rate_limit"
	StageQuota       = "quota"
	StageDownstream  = "downstream"
)

// Admission outcomes.
const (
	OutcomeAllow    = "allowed"
	OutcomeDeny     = "denied"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

var (
	// AdmissionDecisions counts pipeline outcomes per stage.
	AdmissionDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_admission_decisions_total",
		Help: "Admission pipeline decisions by stage and outcome.",
	}, []string{"stage", "outcome"})

	// QuotaDegraded counts counter-store operations skipped or failed open.
	QuotaDegraded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_quota_degraded_total",
		Help: "Counter store operations that failed open or were skipped.",
	}, []string{"op"})

	// ProvisionStepFailures counts auto-provision steps that failed and were skipped.
	ProvisionStepFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_provision_step_failures_total",
		Help: "Auto-provision steps that failed.",
	}, []string{"step"})

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(AdmissionDecisions, QuotaDegraded, ProvisionStepFailures)
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Decision records one admission outcome.
func Decision(stage, outcome string) {
	AdmissionDecisions.WithLabelValues(stage, outcome).Inc()
}

// Degraded records a fail-open or skipped counter operation.
func Degraded(op string) {
	QuotaDegraded.WithLabelValues(op).Inc()
}

// StepFailed records a failed provisioning step.
func StepFailed(step string) {
	ProvisionStepFailures.WithLabelValues(step).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
