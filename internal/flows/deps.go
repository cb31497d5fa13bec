package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/internal/rate"
	"github.com/MrEthical07/opentoken/internal/stores"
	"github.com/MrEthical07/opentoken/jwt"
	"github.com/MrEthical07/opentoken/mail"
	"github.com/MrEthical07/opentoken/otp"
	"github.com/MrEthical07/opentoken/session"
	"github.com/MrEthical07/opentoken/signature"
	"github.com/MrEthical07/opentoken/store"
)

// OTP is the one-time-code surface the flows need. *otp.Provider satisfies it.
type OTP interface {
	Mode() otp.Mode
	GenerateSecret(label string) (*otp.Provisioning, error)
	VerifyPair(secret string, counter uint64, current, previous string) (otp.Result, error)
	VerifyRotation(ctx context.Context, keys otp.Keys, code string) (otp.Result, error)
}

// Settings carries the lifetimes and lengths the flows apply.
type Settings struct {
	PasswordHash         hash.Config
	RegistrationLifetime time.Duration
	ConfirmCodeLength    int
	AccountIDLength      int
	AccountLifetime      time.Duration
	SessionIDLength      int
	SessionSecretLength  int
	SessionLifetime      time.Duration
	MailSubject          string
	LinkBaseURL          string
}

// Metrics carries metric IDs used by the flows.
type Metrics struct {
	Register          int
	SecureSuccess     int
	SecureFailure     int
	ConfirmSuccess    int
	ConfirmFailure    int
	MailFailure       int
	LoginSuccess      int
	LoginFailure      int
	LoginRateLimited  int
	MFAReplay         int
	SessionCreated    int
	Logout            int
	MFARotated        int
	TokenCreated      int
	TokenDeleted      int
	SignatureRejected int
}

// Events carries audit event names used by the flows.
type Events struct {
	Register         string
	Secure           string
	Confirm          string
	ConfirmResent    string
	LoginSuccess     string
	LoginFailure     string
	LoginRateLimited string
	Logout           string
	MFARotated       string
	TokenCreated     string
	TokenDeleted     string
}

// Errors carries host-level sentinel errors returned by the flows.
type Errors struct {
	NotReady            error
	InvalidInput        error
	InvalidCredentials  error
	UnknownRegistration error
	UnknownAccount      error
	NotSecured          error
	AlreadySecured      error
	InvalidLink         error
	LinksDisabled       error
	RateLimited         error
	TokenNotFound       error
	TokenTooLarge       error
	Unauthorized        error
	Storage             error
	Mail                error
}

// Deps is the full dependency set of the flows, built once by the engine.
type Deps struct {
	Registrations *stores.RegistrationStore
	Accounts      *stores.AccountStore
	Challenges    *stores.ChallengeStore
	Tokens        *stores.TokenStore
	Sessions      *session.Store
	Keyer         *hash.Keyer
	OTP           OTP
	Mailer        mail.Sender
	Links         *jwt.Manager
	Limiter       rate.Limiter
	Verifier      *signature.Verifier
	Settings      Settings

	Now       func() time.Time
	Logger    *slog.Logger
	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, subject, sessionID string, err error, meta func() map[string]string)

	Metrics Metrics
	Events  Events
	Errors  Errors
}

func (d *Deps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.MetricInc == nil {
		d.MetricInc = func(int) {}
	}
	if d.EmitAudit == nil {
		d.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
}

func (d *Deps) ready() bool {
	return d.Registrations != nil && d.Accounts != nil && d.Challenges != nil &&
		d.Tokens != nil && d.Sessions != nil && d.OTP != nil && d.Keyer != nil
}

// storeErr translates a store or record error into a host error. notFound is
// returned for absent or expired records.
func (d *Deps) storeErr(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound
	case errors.Is(err, stores.ErrInvalidInput), errors.Is(err, hash.ErrInvalidInput), errors.Is(err, store.ErrInvalidKey):
		return d.Errors.InvalidInput
	case errors.Is(err, stores.ErrPayloadTooLarge):
		return d.Errors.TokenTooLarge
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %v", d.Errors.Storage, err)
}
