package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/internal"
	"github.com/MrEthical07/opentoken/internal/rate"
	"github.com/MrEthical07/opentoken/internal/stores"
	"github.com/MrEthical07/opentoken/otp"
	"github.com/MrEthical07/opentoken/session"
	"github.com/MrEthical07/opentoken/store"
)

const limiterPrefix = "login"

// LoginHashConfig is what a client needs to compute a challenge response.
type LoginHashConfig struct {
	PasswordConfig hash.Config
	Challenge      stores.Challenge
}

// LoginRequest carries the two login factors.
type LoginRequest struct {
	ChallengeHash string
	MFACode       string
}

// SessionResult is a freshly issued session. Secret is the request signing key.
type SessionResult struct {
	SessionID string
	AccountID string
	Secret    string
	ExpiresAt time.Time
}

var errReplay = errors.New("one-time code already used")

// RunLoginHashConfig returns the password parameters of accountID together
// with a fresh challenge.
func RunLoginHashConfig(ctx context.Context, accountID string, deps Deps) (*LoginHashConfig, error) {
	deps.defaults()
	if !deps.ready() {
		return nil, deps.Errors.NotReady
	}
	if accountID == "" {
		return nil, deps.Errors.InvalidInput
	}

	acct, err := deps.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, deps.storeErr(err, deps.Errors.UnknownAccount)
	}
	ch, err := deps.Challenges.Create(ctx, accountID)
	if err != nil {
		return nil, deps.storeErr(err, deps.Errors.UnknownAccount)
	}
	return &LoginHashConfig{PasswordConfig: acct.PasswordConfig, Challenge: ch}, nil
}

// RunLogin checks the one-time code and the challenge response in parallel
// and issues a session when both pass. Failures never say which factor failed.
func RunLogin(ctx context.Context, accountID string, req LoginRequest, deps Deps) (*SessionResult, error) {
	deps.defaults()
	if !deps.ready() {
		return nil, deps.Errors.NotReady
	}
	if accountID == "" || req.ChallengeHash == "" || req.MFACode == "" {
		return nil, deps.Errors.InvalidInput
	}

	limiterKey, err := deps.Keyer.Key(limiterPrefix, accountID)
	if err != nil {
		return nil, deps.Errors.InvalidInput
	}
	if deps.Limiter != nil {
		if err := deps.Limiter.Check(ctx, limiterKey); err != nil {
			return nil, rateLimited(ctx, accountID, err, deps)
		}
	}

	acct, err := deps.Accounts.Get(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, loginFailed(ctx, accountID, limiterKey, "unknown_account", deps)
	}
	if err != nil {
		return nil, deps.storeErr(err, deps.Errors.InvalidCredentials)
	}

	var (
		mfa          otp.Result
		challengeErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := deps.OTP.VerifyRotation(gctx, otp.Keys{
			Current:         acct.MFA.Current,
			CurrentCounter:  acct.MFA.CurrentCounter,
			Previous:        acct.MFA.Previous,
			PreviousCounter: acct.MFA.PreviousCounter,
		}, req.MFACode)
		mfa = res
		return err
	})
	g.Go(func() error {
		err := deps.Challenges.Validate(gctx, accountID, acct.PasswordHash, req.ChallengeHash)
		if err != nil && !errors.Is(err, stores.ErrNoMatch) {
			return err
		}
		challengeErr = err
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, deps.storeErr(err, deps.Errors.InvalidCredentials)
	}

	if !mfa.OK || challengeErr != nil {
		reason := "mfa"
		if mfa.OK {
			reason = "challenge"
		}
		return nil, loginFailed(ctx, accountID, limiterKey, reason, deps)
	}

	if _, err := deps.Accounts.Update(ctx, accountID, func(a *stores.Account) error {
		return advanceCounter(a, mfa)
	}); err != nil {
		if errors.Is(err, errReplay) {
			deps.MetricInc(deps.Metrics.MFAReplay)
			return nil, loginFailed(ctx, accountID, limiterKey, "replay", deps)
		}
		return nil, deps.storeErr(err, deps.Errors.InvalidCredentials)
	}

	sess, err := issueSession(ctx, accountID, deps)
	if err != nil {
		return nil, err
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.Reset(ctx, limiterKey); err != nil {
			deps.Logger.WarnContext(ctx, "opentoken: login limiter reset failed", "error", err)
		}
	}
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, accountID, sess.SessionID, nil, func() map[string]string {
		if mfa.Previous {
			return map[string]string{"mfa_secret": "previous"}
		}
		return nil
	})
	return sess, nil
}

// advanceCounter records the step or counter just used so the same code
// cannot log in twice. HOTP results carry the next counter, TOTP results the
// matched step.
func advanceCounter(a *stores.Account, res otp.Result) error {
	last := &a.MFA.CurrentCounter
	if res.Previous {
		last = &a.MFA.PreviousCounter
	}
	if *last != 0 && res.Counter <= *last {
		return errReplay
	}
	*last = res.Counter
	return nil
}

func issueSession(ctx context.Context, accountID string, deps Deps) (*SessionResult, error) {
	id, err := internal.NewID(deps.Settings.SessionIDLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Storage, err)
	}
	secret, err := internal.NewSecret(deps.Settings.SessionSecretLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Storage, err)
	}

	now := deps.Now()
	expires := now.Add(deps.Settings.SessionLifetime)
	sess := &session.Session{
		SchemaVersion: session.CurrentSchemaVersion,
		ID:            id,
		AccountID:     accountID,
		Secret:        secret,
		CreatedAt:     now.Unix(),
		ExpiresAt:     expires.Unix(),
	}
	if err := deps.Sessions.Save(ctx, sess); err != nil {
		return nil, deps.storeErr(err, deps.Errors.Storage)
	}
	return &SessionResult{SessionID: id, AccountID: accountID, Secret: secret, ExpiresAt: time.Unix(sess.ExpiresAt, 0)}, nil
}

func loginFailed(ctx context.Context, accountID, limiterKey, reason string, deps Deps) error {
	if deps.Limiter != nil {
		if err := deps.Limiter.Fail(ctx, limiterKey); err != nil && !errors.Is(err, rate.ErrRateLimited) {
			deps.Logger.WarnContext(ctx, "opentoken: login limiter update failed", "error", err)
		}
	}
	deps.MetricInc(deps.Metrics.LoginFailure)
	deps.EmitAudit(ctx, deps.Events.LoginFailure, false, accountID, "", deps.Errors.InvalidCredentials, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return deps.Errors.InvalidCredentials
}

func rateLimited(ctx context.Context, accountID string, err error, deps Deps) error {
	if !errors.Is(err, rate.ErrRateLimited) {
		return fmt.Errorf("%w: %v", deps.Errors.Storage, err)
	}
	deps.MetricInc(deps.Metrics.LoginRateLimited)
	deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, accountID, "", deps.Errors.RateLimited, nil)
	return deps.Errors.RateLimited
}
