package opentoken

import (
	"context"
	"io"
	"time"

	"github.com/MrEthical07/opentoken/hash"
	internalaudit "github.com/MrEthical07/opentoken/internal/audit"
	internalmetrics "github.com/MrEthical07/opentoken/internal/metrics"
	"github.com/MrEthical07/opentoken/otp"
)

// OTPProvider is the one-time-code surface the engine needs. *otp.Provider
// satisfies it; tests may supply a deterministic stub with Builder.WithOTP.
type OTPProvider interface {
	Mode() otp.Mode
	GenerateSecret(label string) (*otp.Provisioning, error)
	VerifyPair(secret string, counter uint64, current, previous string) (otp.Result, error)
	VerifyRotation(ctx context.Context, keys otp.Keys, code string) (otp.Result, error)
}

// Registration is returned by Register. The client hashes the password under
// PasswordConfig and provisions its authenticator from Provisioning.
type Registration struct {
	RegID          string
	PasswordConfig hash.Config
	Provisioning   *otp.Provisioning
	ExpiresAt      time.Time
}

// MFACodes are the codes read off a freshly provisioned authenticator.
// Previous is optional; when set it must be the code one step before Current.
type MFACodes struct {
	Current  string
	Previous string
}

// LoginHashConfig is returned by LoginHashConfig. The client computes
// ChallengeResponse(hash(password, PasswordConfig), ChallengeID, ChallengeConfig).
type LoginHashConfig struct {
	PasswordConfig   hash.Config
	ChallengeConfig  hash.Config
	ChallengeID      string
	ChallengeExpires time.Time
}

// LoginRequest carries both login factors.
type LoginRequest struct {
	ChallengeHash string
	MFACode       string
}

// Session is a freshly issued login. ID is the access code put in signed
// requests and Secret is the signing key; neither is retrievable again.
type Session struct {
	ID        string
	AccountID string
	Secret    string
	ExpiresAt time.Time
}

// Principal is the caller identified by a verified signed request.
type Principal struct {
	AccountID string
	SessionID string
	ExpiresAt time.Time
}

// TokenOptions are the caller-chosen attributes of a stored token. A zero
// Lifetime, or one above Config.Token.Lifetime, uses the configured lifetime.
type TokenOptions struct {
	ContentType string
	Public      bool
	Lifetime    time.Duration
}

// Token is an opaque payload stored for one account.
type Token struct {
	ID          string
	AccountID   string
	ContentType string
	Data        []byte
	Public      bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// KafkaSink publishes audit events to a Kafka topic.
type KafkaSink = internalaudit.KafkaSink

// KafkaConfig configures DialKafkaSink.
type KafkaConfig = internalaudit.KafkaConfig

// MultiSink fans every event out to each of its sinks in order.
type MultiSink = internalaudit.MultiSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricRegister            = internalmetrics.MetricRegister
	MetricSecureSuccess       = internalmetrics.MetricSecureSuccess
	MetricSecureFailure       = internalmetrics.MetricSecureFailure
	MetricConfirmSuccess      = internalmetrics.MetricConfirmSuccess
	MetricConfirmFailure      = internalmetrics.MetricConfirmFailure
	MetricMailFailure         = internalmetrics.MetricMailFailure
	MetricLoginSuccess        = internalmetrics.MetricLoginSuccess
	MetricLoginFailure        = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited    = internalmetrics.MetricLoginRateLimited
	MetricMFAReplay           = internalmetrics.MetricMFAReplay
	MetricSessionCreated      = internalmetrics.MetricSessionCreated
	MetricLogout              = internalmetrics.MetricLogout
	MetricMFARotated          = internalmetrics.MetricMFARotated
	MetricTokenCreated        = internalmetrics.MetricTokenCreated
	MetricTokenDeleted        = internalmetrics.MetricTokenDeleted
	MetricSignatureRejected   = internalmetrics.MetricSignatureRejected
	MetricAuthenticateLatency = internalmetrics.MetricAuthenticateLatency
)

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot = internalmetrics.Snapshot

// Metrics is the engine's counter set.
type Metrics = internalmetrics.Metrics

// NewMetrics returns a counter set; exporters in metrics/export read it.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(cfg)
}
