package settings

// DB config keys and defaults for runtime settings.
const (
	// QuotaWarningRatioKey overrides the approaching-limit threshold ratio.
	QuotaWarningRatioKey = "QUOTA_WARNING_RATIO"
	// QuotaSweepIntervalSecondsKey controls how often expired cycles are rolled over.
	QuotaSweepIntervalSecondsKey = "QUOTA_SWEEP_INTERVAL_SECONDS"
	// AuditRetentionDaysKey controls how long audit rows are kept.
	AuditRetentionDaysKey = "AUDIT_RETENTION_DAYS"
	// DefaultQuotaWarningRatio is the fallback warning ratio.
	DefaultQuotaWarningRatio = 0.8
	// DefaultQuotaSweepIntervalSeconds is the fallback sweep interval (seconds).
	DefaultQuotaSweepIntervalSeconds = 300
	// DefaultAuditRetentionDays is the fallback audit retention.
	DefaultAuditRetentionDays = 180
)

// Known reports whether key names a runtime setting the gateway reads.
func Known(key string) bool {
	switch key {
	case QuotaWarningRatioKey, QuotaSweepIntervalSecondsKey, AuditRetentionDaysKey:
		return true
	}
	return false
}
