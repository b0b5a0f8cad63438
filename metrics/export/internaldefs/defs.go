package internaldefs

import (
	goSentinel "github.com/MrEthical07/goSentinel"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   goSentinel.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   goSentinel.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goSentinel.MetricLoginSuccess, Name: "sentinel_login_success_total", Help: "Successful logins."},
	{ID: goSentinel.MetricLoginFailure, Name: "sentinel_login_failure_total", Help: "Failed logins of any kind."},
	{ID: goSentinel.MetricAccountLocked, Name: "sentinel_account_locked_total", Help: "Identities locked after reaching the failed-attempt threshold."},
	{ID: goSentinel.MetricAccountUnlocked, Name: "sentinel_account_unlocked_total", Help: "Expired locks cleared by maintenance."},
	{ID: goSentinel.MetricPortalDenied, Name: "sentinel_portal_denied_total", Help: "Logins rejected by the role and portal matrix."},
	{ID: goSentinel.MetricTenantDenied, Name: "sentinel_tenant_denied_total", Help: "Logins rejected for a tenant mismatch."},
	{ID: goSentinel.MetricIPDenied, Name: "sentinel_ip_denied_total", Help: "Logins rejected by an IP allowlist."},
	{ID: goSentinel.MetricSuspiciousLogin, Name: "sentinel_suspicious_login_total", Help: "Logins flagged as suspicious by the risk scorer."},
	{ID: goSentinel.MetricMFARequired, Name: "sentinel_mfa_required_total", Help: "Logins answered with an MFA challenge."},
	{ID: goSentinel.MetricMFASuccess, Name: "sentinel_mfa_success_total", Help: "Successful MFA verifications."},
	{ID: goSentinel.MetricMFAFailure, Name: "sentinel_mfa_failure_total", Help: "Failed MFA verifications."},
	{ID: goSentinel.MetricBackupCodeUsed, Name: "sentinel_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: goSentinel.MetricRefreshSuccess, Name: "sentinel_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: goSentinel.MetricRefreshFailure, Name: "sentinel_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: goSentinel.MetricRefreshReuse, Name: "sentinel_refresh_reuse_total", Help: "Refresh token reuse detections."},
	{ID: goSentinel.MetricVerifySuccess, Name: "sentinel_verify_success_total", Help: "Successful token verifications."},
	{ID: goSentinel.MetricVerifyFailure, Name: "sentinel_verify_failure_total", Help: "Failed token verifications."},
	{ID: goSentinel.MetricSessionCreated, Name: "sentinel_session_created_total", Help: "Sessions created."},
	{ID: goSentinel.MetricSessionReused, Name: "sentinel_session_reused_total", Help: "Super-account logins that reused an active session."},
	{ID: goSentinel.MetricSessionEvicted, Name: "sentinel_session_evicted_total", Help: "Sessions evicted by the concurrent-session cap."},
	{ID: goSentinel.MetricSessionIdleExpired, Name: "sentinel_session_idle_expired_total", Help: "Sessions ended by the idle timeout."},
	{ID: goSentinel.MetricSessionExpired, Name: "sentinel_session_expired_total", Help: "Sessions ended by the absolute timeout."},
	{ID: goSentinel.MetricLogout, Name: "sentinel_logout_total", Help: "Explicit logouts."},
	{ID: goSentinel.MetricForceLogout, Name: "sentinel_force_logout_total", Help: "Sessions blacklisted by a forced logout."},
	{ID: goSentinel.MetricAuditPurged, Name: "sentinel_audit_purged_total", Help: "Audit events removed by retention purges."},
	{ID: goSentinel.MetricStoreError, Name: "sentinel_store_error_total", Help: "Store calls that failed and were retried."},
	{ID: goSentinel.MetricStoreUnavailable, Name: "sentinel_store_unavailable_total", Help: "Operations failed with an unavailable store."},
	{ID: goSentinel.MetricNotifyFailure, Name: "sentinel_notify_failure_total", Help: "Notifications that could not be delivered."},
}

var HistogramDefs = []HistogramDef{
	{ID: goSentinel.MetricVerifyLatency, Name: "sentinel_verify_latency_seconds", Help: "Token verification latency."},
}

// AuditDropped and AuditFailed are read from the engine directly rather than
// from the counter snapshot.
var (
	AuditDropped = CounterDef{Name: "sentinel_audit_dropped_total", Help: "Audit events dropped because the dispatcher buffer was full."}
	AuditFailed  = CounterDef{Name: "sentinel_audit_failed_total", Help: "Audit events the audit store rejected."}
)

// HistogramBounds are the upper bounds in seconds of the finite buckets. The
// engine keeps one extra overflow bucket.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names every bucket, overflow included, for exporters
// that emit one series per bucket.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
