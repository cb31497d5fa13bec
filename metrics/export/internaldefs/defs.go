package internaldefs

import (
	"github.com/MrEthical07/opentoken"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   opentoken.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   opentoken.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: opentoken.MetricRegister, Name: "opentoken_register_total", Help: "Registrations opened."},
	{ID: opentoken.MetricSecureSuccess, Name: "opentoken_secure_success_total", Help: "Registrations secured with a password hash and MFA device."},
	{ID: opentoken.MetricSecureFailure, Name: "opentoken_secure_failure_total", Help: "Secure attempts rejected by the MFA check."},
	{ID: opentoken.MetricConfirmSuccess, Name: "opentoken_confirm_success_total", Help: "Registrations confirmed into accounts."},
	{ID: opentoken.MetricConfirmFailure, Name: "opentoken_confirm_failure_total", Help: "Rejected confirmation codes and links."},
	{ID: opentoken.MetricMailFailure, Name: "opentoken_mail_failure_total", Help: "Confirmation mails that could not be sent."},
	{ID: opentoken.MetricLoginSuccess, Name: "opentoken_login_success_total", Help: "Successful logins."},
	{ID: opentoken.MetricLoginFailure, Name: "opentoken_login_failure_total", Help: "Failed logins."},
	{ID: opentoken.MetricLoginRateLimited, Name: "opentoken_login_rate_limited_total", Help: "Logins refused by the throttle."},
	{ID: opentoken.MetricMFAReplay, Name: "opentoken_mfa_replay_total", Help: "One-time codes presented a second time."},
	{ID: opentoken.MetricSessionCreated, Name: "opentoken_session_created_total", Help: "Sessions issued."},
	{ID: opentoken.MetricLogout, Name: "opentoken_logout_total", Help: "Logout operations."},
	{ID: opentoken.MetricMFARotated, Name: "opentoken_mfa_rotated_total", Help: "MFA secret rotations."},
	{ID: opentoken.MetricTokenCreated, Name: "opentoken_token_created_total", Help: "Stored tokens created."},
	{ID: opentoken.MetricTokenDeleted, Name: "opentoken_token_deleted_total", Help: "Stored tokens deleted."},
	{ID: opentoken.MetricSignatureRejected, Name: "opentoken_signature_rejected_total", Help: "Signed requests that failed verification."},
}

var HistogramDefs = []HistogramDef{
	{ID: opentoken.MetricAuthenticateLatency, Name: "opentoken_authenticate_latency_seconds", Help: "Signed request verification latency."},
}

const AuditDroppedName = "opentoken_audit_dropped_total"

const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

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

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
