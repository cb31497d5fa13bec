package opentoken

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/internal/audit"
	"github.com/MrEthical07/opentoken/internal/flows"
	"github.com/MrEthical07/opentoken/internal/stores"
	"github.com/MrEthical07/opentoken/otp"
)

// Engine runs the registration, login and token operations. It is safe for
// concurrent use once returned by Builder.Build.
type Engine struct {
	config         Config
	responseConfig hash.Config
	flows          flows.Service
	audit          *audit.Dispatcher
	metrics        *Metrics
	logger         *slog.Logger
	clock          func() time.Time
}

// Close flushes pending audit events. The store and mailer belong to the
// caller and are left open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDelivered reports how many audit events reached the sink.
func (e *Engine) AuditDelivered() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Delivered()
}

// MetricsSnapshot returns a copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the live counter set to exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

// Register opens a registration for email and provisions its MFA secret.
func (e *Engine) Register(ctx context.Context, email string) (*Registration, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := e.flows.Register(ctx, email)
	if err != nil {
		return nil, err
	}
	return &Registration{
		RegID:          res.RegID,
		PasswordConfig: res.PasswordConfig,
		Provisioning:   res.Provisioning,
		ExpiresAt:      res.ExpiresAt,
	}, nil
}

// Secure binds passwordHash to the registration once codes verify against
// its MFA secret, then emails the confirmation code.
//
// A failed code check writes nothing. When the mail cannot be sent the
// registration stays secured and valid and the error matches ErrMail;
// ResendConfirmation retries delivery.
func (e *Engine) Secure(ctx context.Context, regID, passwordHash string, codes MFACodes) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.Secure(ctx, regID, passwordHash, flows.MFACodes{Current: codes.Current, Previous: codes.Previous})
}

// ResendConfirmation emails the confirmation code of a secured registration again.
func (e *Engine) ResendConfirmation(ctx context.Context, regID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.ResendConfirmation(ctx, regID)
}

// Confirm promotes a secured registration into an account and returns the
// new account id. The registration is consumed.
func (e *Engine) Confirm(ctx context.Context, regID, code string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.flows.Confirm(ctx, regID, code)
}

// ConfirmLink is Confirm driven by the token of an emailed link.
func (e *Engine) ConfirmLink(ctx context.Context, token string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.flows.ConfirmLink(ctx, token)
}

// LoginHashConfig issues a challenge for accountID and returns what the
// client needs to answer it.
func (e *Engine) LoginHashConfig(ctx context.Context, accountID string) (*LoginHashConfig, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := e.flows.LoginHashConfig(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &LoginHashConfig{
		PasswordConfig:   res.PasswordConfig,
		ChallengeConfig:  e.responseConfig,
		ChallengeID:      res.Challenge.ID,
		ChallengeExpires: res.Challenge.Expires,
	}, nil
}

// Login checks the challenge response and the one-time code and issues a
// session when both pass. Any failure is ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, accountID string, req LoginRequest) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := e.flows.Login(ctx, accountID, flows.LoginRequest{ChallengeHash: req.ChallengeHash, MFACode: req.MFACode})
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        res.SessionID,
		AccountID: res.AccountID,
		Secret:    res.Secret,
		ExpiresAt: res.ExpiresAt,
	}, nil
}

// Logout ends a session of accountID. Unknown sessions are ignored.
func (e *Engine) Logout(ctx context.Context, accountID, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.Logout(ctx, accountID, sessionID)
}

// RotateMFA verifies code against the current secret and provisions a new
// one. The old secret keeps working as the previous secret.
func (e *Engine) RotateMFA(ctx context.Context, accountID, code string) (*otp.Provisioning, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.RotateMFA(ctx, accountID, code)
}

// Authenticate verifies the signature of r and returns the session owner.
// The request body is consumed and replaced so handlers can read it again.
func (e *Engine) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricAuthenticateLatency, time.Since(start)) }()
	}
	sess, err := e.flows.Authenticate(ctx, r)
	if err != nil {
		return nil, err
	}
	return &Principal{
		AccountID: sess.AccountID,
		SessionID: sess.ID,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// CreateToken stores data for accountID and returns the stored token.
func (e *Engine) CreateToken(ctx context.Context, accountID string, data []byte, opts TokenOptions) (*Token, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	tok, err := e.flows.CreateToken(ctx, accountID, data, flows.TokenOptions{
		ContentType: opts.ContentType,
		Public:      opts.Public,
		Lifetime:    opts.Lifetime,
	})
	if err != nil {
		return nil, err
	}
	return toToken(tok), nil
}

// GetToken returns token tokenID of ownerAccountID. callerAccountID is the
// authenticated caller, or empty for anonymous access. A private token read
// by anyone but its owner is reported as ErrTokenNotFound, so callers decide
// themselves whether to answer 403 or 404.
func (e *Engine) GetToken(ctx context.Context, callerAccountID, ownerAccountID, tokenID string) (*Token, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	tok, err := e.flows.GetToken(ctx, callerAccountID, ownerAccountID, tokenID)
	if err != nil {
		return nil, err
	}
	return toToken(tok), nil
}

// DeleteToken removes a token of accountID. Deleting twice succeeds.
func (e *Engine) DeleteToken(ctx context.Context, accountID, tokenID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.DeleteToken(ctx, accountID, tokenID)
}

// ChallengeResponse computes the login challenge answer a client sends:
// hash(passwordHash + challengeID) under cfg.
func ChallengeResponse(passwordHash, challengeID string, cfg hash.Config) (string, error) {
	return stores.ChallengeResponse(passwordHash, challengeID, cfg)
}

func toToken(t *stores.Token) *Token {
	return &Token{
		ID:          t.ID,
		AccountID:   t.AccountID,
		ContentType: t.ContentType,
		Data:        t.Data,
		Public:      t.Public,
		CreatedAt:   t.CreatedAt,
		ExpiresAt:   t.ExpiresAt,
	}
}
