package flows

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/internal"
	"github.com/MrEthical07/opentoken/internal/rate"
	"github.com/MrEthical07/opentoken/internal/stores"
	ourmail "github.com/MrEthical07/opentoken/mail"
	"github.com/MrEthical07/opentoken/otp"
)

const (
	maxAccountIDAttempts = 3
	confirmLimiterPrefix = "confirm"
)

// RegisterResult is what a new registrant needs to secure the registration.
type RegisterResult struct {
	RegID          string
	PasswordConfig hash.Config
	Provisioning   *otp.Provisioning
	ExpiresAt      time.Time
}

// MFACodes are the codes read off a freshly provisioned device. Previous,
// when supplied, must be the code one step before Current.
type MFACodes struct {
	Current  string
	Previous string
}

var (
	errNotSecured     = errors.New("registration not secured")
	errAlreadySecured = errors.New("registration already secured")
	errCodeMismatch   = errors.New("confirmation code mismatch")
)

// RunRegister opens a registration for email and provisions its MFA secret.
func RunRegister(ctx context.Context, email string, deps Deps) (*RegisterResult, error) {
	deps.defaults()
	if !deps.ready() {
		return nil, deps.Errors.NotReady
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, deps.Errors.InvalidInput
	}

	pwCfg, err := deps.Settings.PasswordHash.WithRandomSalt()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Storage, err)
	}
	prov, err := deps.OTP.GenerateSecret(email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Storage, err)
	}

	now := deps.Now()
	reg := &stores.Registration{
		ID:             uuid.NewString(),
		Email:          email,
		PasswordConfig: pwCfg,
		MFASecret:      prov.Secret,
		CreatedAt:      now,
		ExpiresAt:      now.Add(deps.Settings.RegistrationLifetime),
	}
	if err := deps.Registrations.Create(ctx, reg); err != nil {
		return nil, deps.storeErr(err, deps.Errors.UnknownRegistration)
	}

	deps.MetricInc(deps.Metrics.Register)
	deps.EmitAudit(ctx, deps.Events.Register, true, reg.ID, "", nil, nil)

	return &RegisterResult{
		RegID:          reg.ID,
		PasswordConfig: pwCfg,
		Provisioning:   prov,
		ExpiresAt:      reg.ExpiresAt,
	}, nil
}

// RunSecure binds the password hash once the device codes check out, then
// emails the confirmation code. A failed MFA check writes nothing. A mail
// failure after the write returns deps.Errors.Mail; the registration stays
// valid and RunResendConfirmation can retry delivery.
func RunSecure(ctx context.Context, regID, passwordHash string, codes MFACodes, deps Deps) error {
	deps.defaults()
	if !deps.ready() {
		return deps.Errors.NotReady
	}
	if regID == "" || passwordHash == "" || codes.Current == "" {
		return deps.Errors.InvalidInput
	}

	reg, err := deps.Registrations.Get(ctx, regID)
	if err != nil {
		return deps.storeErr(err, deps.Errors.UnknownRegistration)
	}
	if reg.Secured {
		return deps.Errors.AlreadySecured
	}

	res, err := deps.OTP.VerifyPair(reg.MFASecret, reg.MFACounter, codes.Current, codes.Previous)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.Storage, err)
	}
	if !res.OK {
		deps.MetricInc(deps.Metrics.SecureFailure)
		deps.EmitAudit(ctx, deps.Events.Secure, false, regID, "", deps.Errors.InvalidCredentials, nil)
		return deps.Errors.InvalidCredentials
	}

	code, err := internal.NewCode(deps.Settings.ConfirmCodeLength)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.Storage, err)
	}

	secured, err := deps.Registrations.Update(ctx, regID, func(r *stores.Registration) error {
		if r.Secured {
			return errAlreadySecured
		}
		r.PasswordHash = passwordHash
		r.MFACounter = res.Counter
		r.ConfirmCode = code
		r.Secured = true
		return nil
	})
	if errors.Is(err, errAlreadySecured) {
		return deps.Errors.AlreadySecured
	}
	if err != nil {
		return deps.storeErr(err, deps.Errors.UnknownRegistration)
	}

	deps.MetricInc(deps.Metrics.SecureSuccess)
	deps.EmitAudit(ctx, deps.Events.Secure, true, regID, "", nil, nil)

	return sendConfirmation(ctx, secured, deps)
}

// RunResendConfirmation emails the confirmation code of a secured
// registration again.
func RunResendConfirmation(ctx context.Context, regID string, deps Deps) error {
	deps.defaults()
	if !deps.ready() {
		return deps.Errors.NotReady
	}
	if regID == "" {
		return deps.Errors.InvalidInput
	}
	reg, err := deps.Registrations.Get(ctx, regID)
	if err != nil {
		return deps.storeErr(err, deps.Errors.UnknownRegistration)
	}
	if !reg.Secured {
		return deps.Errors.NotSecured
	}
	deps.EmitAudit(ctx, deps.Events.ConfirmResent, true, regID, "", nil, nil)
	return sendConfirmation(ctx, reg, deps)
}

func sendConfirmation(ctx context.Context, reg *stores.Registration, deps Deps) error {
	if deps.Mailer == nil {
		deps.Logger.WarnContext(ctx, "opentoken: no mailer configured, confirmation not sent", "reg_id", reg.ID)
		return nil
	}

	link, err := confirmationLink(reg, deps)
	if err != nil {
		deps.Logger.WarnContext(ctx, "opentoken: confirmation link not issued", "reg_id", reg.ID, "error", err)
	}

	msg, err := ourmail.ConfirmationMessage(deps.Settings.MailSubject, ourmail.Confirmation{
		Email:   reg.Email,
		Code:    reg.ConfirmCode,
		Link:    link,
		Expires: reg.ExpiresAt,
	})
	if err == nil {
		err = deps.Mailer.Send(ctx, msg)
	}
	if err != nil {
		deps.MetricInc(deps.Metrics.MailFailure)
		deps.Logger.ErrorContext(ctx, "opentoken: confirmation mail failed", "reg_id", reg.ID, "error", err)
		return fmt.Errorf("%w: %v", deps.Errors.Mail, err)
	}
	return nil
}

func confirmationLink(reg *stores.Registration, deps Deps) (string, error) {
	if deps.Links == nil || deps.Settings.LinkBaseURL == "" {
		return "", nil
	}
	token, err := deps.Links.CreateLink(reg.ID, reg.ConfirmCode, reg.ExpiresAt)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(deps.Settings.LinkBaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RunConfirm promotes a secured registration into an account under a newly
// minted id. The account is written first and the registration consumed
// second; if the consume fails the account is removed again. Wrong codes
// count against a per-registration limiter shared with RunConfirmLink.
func RunConfirm(ctx context.Context, regID, code string, deps Deps) (string, error) {
	deps.defaults()
	if !deps.ready() {
		return "", deps.Errors.NotReady
	}
	if regID == "" || code == "" {
		return "", deps.Errors.InvalidInput
	}

	limiterKey, err := deps.Keyer.Key(confirmLimiterPrefix, regID)
	if err != nil {
		return "", deps.Errors.InvalidInput
	}
	if deps.Limiter != nil {
		if err := deps.Limiter.Check(ctx, limiterKey); err != nil {
			return "", confirmLimited(ctx, regID, err, deps)
		}
	}

	reg, err := deps.Registrations.Get(ctx, regID)
	if err != nil {
		return "", deps.storeErr(err, deps.Errors.UnknownRegistration)
	}
	if err := checkConfirmable(reg, code); err != nil {
		return "", confirmFailure(ctx, regID, limiterKey, err, deps)
	}

	now := deps.Now()
	acct := &stores.Account{
		Email:          reg.Email,
		PasswordConfig: reg.PasswordConfig,
		PasswordHash:   reg.PasswordHash,
		MFA:            stores.MFAState{Current: reg.MFASecret, CurrentCounter: reg.MFACounter},
		CreatedAt:      now,
	}
	if deps.Settings.AccountLifetime > 0 {
		acct.ExpiresAt = now.Add(deps.Settings.AccountLifetime)
	}

	for attempt := 0; ; attempt++ {
		acct.ID, err = internal.NewID(deps.Settings.AccountIDLength)
		if err != nil {
			return "", fmt.Errorf("%w: %v", deps.Errors.Storage, err)
		}
		err = deps.Accounts.Create(ctx, acct)
		if errors.Is(err, stores.ErrAlreadyExists) && attempt+1 < maxAccountIDAttempts {
			continue
		}
		break
	}
	if err != nil {
		return "", deps.storeErr(err, deps.Errors.UnknownAccount)
	}

	_, err = deps.Registrations.Consume(ctx, regID, func(r *stores.Registration) error {
		return checkConfirmable(r, code)
	})
	if err != nil {
		if delErr := deps.Accounts.Delete(ctx, acct.ID); delErr != nil {
			deps.Logger.ErrorContext(ctx, "opentoken: account rollback failed", "reg_id", regID, "error", delErr)
		}
		if errors.Is(err, errNotSecured) || errors.Is(err, errCodeMismatch) {
			return "", confirmFailure(ctx, regID, limiterKey, err, deps)
		}
		return "", deps.storeErr(err, deps.Errors.UnknownRegistration)
	}
	if deps.Limiter != nil {
		if err := deps.Limiter.Reset(ctx, limiterKey); err != nil {
			deps.Logger.WarnContext(ctx, "opentoken: confirm limiter reset failed", "error", err)
		}
	}

	deps.MetricInc(deps.Metrics.ConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.Confirm, true, acct.ID, "", nil, func() map[string]string {
		return map[string]string{"reg_id": regID}
	})
	return acct.ID, nil
}

// RunConfirmLink confirms using the token from an emailed link.
func RunConfirmLink(ctx context.Context, token string, deps Deps) (string, error) {
	deps.defaults()
	if deps.Links == nil {
		return "", deps.Errors.LinksDisabled
	}
	if token == "" {
		return "", deps.Errors.InvalidInput
	}
	claims, err := deps.Links.ParseLink(token)
	if err != nil {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		return "", deps.Errors.InvalidLink
	}
	return RunConfirm(ctx, claims.RegID, claims.Code, deps)
}

func checkConfirmable(reg *stores.Registration, code string) error {
	if !reg.Secured || reg.ConfirmCode == "" {
		return errNotSecured
	}
	if subtle.ConstantTimeCompare([]byte(reg.ConfirmCode), []byte(strings.TrimSpace(code))) != 1 {
		return errCodeMismatch
	}
	return nil
}

func confirmFailure(ctx context.Context, regID, limiterKey string, err error, deps Deps) error {
	out := deps.Errors.InvalidCredentials
	if errors.Is(err, errNotSecured) {
		out = deps.Errors.NotSecured
	} else if deps.Limiter != nil {
		if err := deps.Limiter.Fail(ctx, limiterKey); err != nil && !errors.Is(err, rate.ErrRateLimited) {
			deps.Logger.WarnContext(ctx, "opentoken: confirm limiter update failed", "error", err)
		}
	}
	deps.MetricInc(deps.Metrics.ConfirmFailure)
	deps.EmitAudit(ctx, deps.Events.Confirm, false, regID, "", out, nil)
	return out
}

func confirmLimited(ctx context.Context, regID string, err error, deps Deps) error {
	if !errors.Is(err, rate.ErrRateLimited) {
		return fmt.Errorf("%w: %v", deps.Errors.Storage, err)
	}
	deps.MetricInc(deps.Metrics.ConfirmFailure)
	deps.EmitAudit(ctx, deps.Events.Confirm, false, regID, "", deps.Errors.RateLimited, func() map[string]string {
		return map[string]string{"reason": "rate_limited"}
	})
	return deps.Errors.RateLimited
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 254 || strings.ContainsAny(raw, "\r\n") {
		return "", errors.New("invalid email")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" {
		return "", errors.New("invalid email")
	}
	return addr.Address, nil
}
