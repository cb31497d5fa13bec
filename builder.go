package opentoken

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/internal/audit"
	"github.com/MrEthical07/opentoken/internal/flows"
	"github.com/MrEthical07/opentoken/internal/metrics"
	"github.com/MrEthical07/opentoken/internal/rate"
	"github.com/MrEthical07/opentoken/internal/stores"
	"github.com/MrEthical07/opentoken/jwt"
	"github.com/MrEthical07/opentoken/mail"
	"github.com/MrEthical07/opentoken/otp"
	"github.com/MrEthical07/opentoken/session"
	"github.com/MrEthical07/opentoken/signature"
	"github.com/MrEthical07/opentoken/store"
)

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	store  store.Store
	logger *slog.Logger
	mailer mail.Sender
	otp    OTPProvider

	auditSink    AuditSink
	limiterRedis redis.UniversalClient
	clock        func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the backend every record is kept in. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithLogger sets the logger for best-effort failures. The default discards.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithMailer sets the confirmation mail transport. Without one, Secure
// succeeds and only logs that no mail was sent.
func (b *Builder) WithMailer(m mail.Sender) *Builder {
	b.mailer = m
	return b
}

// WithOTP replaces the provider built from Config.OTP.
func (b *Builder) WithOTP(p OTPProvider) *Builder {
	b.otp = p
	return b
}

// WithAuditSink sets where audit events go when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithRedisLimiter shares the login throttle across processes through
// client. Without it each process throttles on its own.
func (b *Builder) WithRedisLimiter(client redis.UniversalClient) *Builder {
	b.limiterRedis = client
	return b
}

// WithClock overrides the time source of every component the Builder
// creates. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	keyer, err := hash.NewKeyer(cfg.Hash.AccountID)
	if err != nil {
		return nil, err
	}

	// -------- RECORD STORES --------
	registrations := stores.NewRegistrationStore(b.store, keyer, cfg.Registration.StoragePrefix, cfg.Registration.MaxRetries)
	registrations.SetClock(now)
	accounts := stores.NewAccountStore(b.store, keyer, cfg.Account.StoragePrefix, cfg.Account.MaxRetries)
	accounts.SetClock(now)
	challenges := stores.NewChallengeStore(b.store, keyer, stores.ChallengeConfig{
		Prefix:     cfg.Challenge.StoragePrefix,
		IDLength:   cfg.Challenge.IDLength,
		Lifetime:   cfg.Challenge.Lifetime,
		Response:   cfg.Challenge.responseConfig(),
		MaxRetries: cfg.Challenge.MaxRetries,
	})
	challenges.SetClock(now)
	tokens := stores.NewTokenStore(b.store, keyer, stores.TokenConfig{
		Prefix:   cfg.Token.StoragePrefix,
		IDLength: cfg.Token.IDLength,
		Lifetime: cfg.Token.Lifetime,
		MaxSize:  cfg.Token.MaxSize,
	})
	tokens.SetClock(now)
	sessions := session.NewStore(b.store, keyer, cfg.Session.StoragePrefix)
	sessions.SetClock(now)

	// -------- ONE-TIME CODES --------
	provider := b.otp
	if provider == nil {
		p, err := otp.New(cfg.OTP.providerConfig())
		if err != nil {
			return nil, err
		}
		p.SetClock(now)
		provider = p
	}

	// -------- CONFIRMATION LINKS --------
	var links *jwt.Manager
	if cfg.Link.enabled() {
		links, err = jwt.NewManager(cfg.linkManagerConfig())
		if err != nil {
			return nil, fmt.Errorf("link manager: %w", err)
		}
		links.SetClock(now)
	}

	// -------- LOGIN THROTTLE --------
	var limiter rate.Limiter
	if cfg.RateLimit.Enabled {
		rl := rate.Config{Attempts: cfg.RateLimit.Attempts, Window: cfg.RateLimit.Window}
		if b.limiterRedis != nil {
			limiter = rate.NewRedis(b.limiterRedis, "opentoken:ratelimit", rl)
		} else {
			local := rate.NewLocal(rl)
			local.SetClock(now)
			limiter = local
		}
	}

	verifier := signature.NewVerifier(cfg.Signature.MaxSkew, cfg.Signature.MaxBodyBytes)
	verifier.SetClock(now)

	engine := &Engine{
		config:         cloneConfig(cfg),
		responseConfig: cfg.Challenge.responseConfig(),
		audit:          audit.NewDispatcher(cfg.Audit, b.auditSink),
		metrics:        metrics.New(cfg.Metrics),
		logger:         logger,
		clock:          now,
	}

	engine.flows = flows.New(flows.Deps{
		Registrations: registrations,
		Accounts:      accounts,
		Challenges:    challenges,
		Tokens:        tokens,
		Sessions:      sessions,
		Keyer:         keyer,
		OTP:           provider,
		Mailer:        b.mailer,
		Links:         links,
		Limiter:       limiter,
		Verifier:      verifier,
		Settings: flows.Settings{
			PasswordHash:         cfg.Hash.Password,
			RegistrationLifetime: cfg.Registration.Lifetime,
			ConfirmCodeLength:    cfg.Registration.ConfirmCodeLength,
			AccountIDLength:      cfg.Account.IDLength,
			AccountLifetime:      cfg.Account.Lifetime,
			SessionIDLength:      cfg.Session.IDLength,
			SessionSecretLength:  cfg.Session.SecretLength,
			SessionLifetime:      cfg.Session.Lifetime,
			MailSubject:          cfg.Mail.Subject,
			LinkBaseURL:          cfg.Link.BaseURL,
		},
		Now:       now,
		Logger:    logger,
		MetricInc: func(id int) { engine.metricInc(MetricID(id)) },
		EmitAudit: engine.emitAudit,
		Metrics:   flowMetrics(),
		Events:    auditEvents(),
		Errors:    flowErrors(),
	})

	b.built = true

	return engine, nil
}

func flowMetrics() flows.Metrics {
	return flows.Metrics{
		Register:          int(MetricRegister),
		SecureSuccess:     int(MetricSecureSuccess),
		SecureFailure:     int(MetricSecureFailure),
		ConfirmSuccess:    int(MetricConfirmSuccess),
		ConfirmFailure:    int(MetricConfirmFailure),
		MailFailure:       int(MetricMailFailure),
		LoginSuccess:      int(MetricLoginSuccess),
		LoginFailure:      int(MetricLoginFailure),
		LoginRateLimited:  int(MetricLoginRateLimited),
		MFAReplay:         int(MetricMFAReplay),
		SessionCreated:    int(MetricSessionCreated),
		Logout:            int(MetricLogout),
		MFARotated:        int(MetricMFARotated),
		TokenCreated:      int(MetricTokenCreated),
		TokenDeleted:      int(MetricTokenDeleted),
		SignatureRejected: int(MetricSignatureRejected),
	}
}

func flowErrors() flows.Errors {
	return flows.Errors{
		NotReady:            ErrEngineNotReady,
		InvalidInput:        ErrInvalidInput,
		InvalidCredentials:  ErrInvalidCredentials,
		UnknownRegistration: ErrUnknownRegistration,
		UnknownAccount:      ErrUnknownAccount,
		NotSecured:          ErrNotSecured,
		AlreadySecured:      ErrAlreadySecured,
		InvalidLink:         ErrInvalidLink,
		LinksDisabled:       ErrLinksDisabled,
		RateLimited:         ErrRateLimited,
		TokenNotFound:       ErrTokenNotFound,
		TokenTooLarge:       ErrTokenTooLarge,
		Unauthorized:        ErrUnauthorized,
		Storage:             ErrStorage,
		Mail:                ErrMail,
	}
}
