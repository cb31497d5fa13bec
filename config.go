package opentoken

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/internal/audit"
	"github.com/MrEthical07/opentoken/internal/metrics"
	"github.com/MrEthical07/opentoken/jwt"
	"github.com/MrEthical07/opentoken/otp"
	"github.com/MrEthical07/opentoken/session"
)

// Config is the full engine configuration. Start from DefaultConfig and
// override what you need; Builder clones it on Build.
type Config struct {
	Hash         HashConfig         `mapstructure:"hash"`
	Challenge    ChallengeConfig    `mapstructure:"challenge"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Account      AccountConfig      `mapstructure:"account"`
	Session      SessionConfig      `mapstructure:"session"`
	Token        TokenConfig        `mapstructure:"token"`
	OTP          OTPConfig          `mapstructure:"otp"`
	Signature    SignatureConfig    `mapstructure:"signature"`
	Link         LinkConfig         `mapstructure:"link"`
	Mail         MailConfig         `mapstructure:"mail"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
}

/*
====================================
HASH CONFIG
====================================
*/

// HashConfig holds the two hash configurations of the engine.
//
// Password is handed to clients at registration: each registration draws
// its own salt of Password.SaltLength bytes. AccountID derives storage keys
// and must be deterministic, so it carries a fixed Salt (a server-side
// pepper) and no SaltLength.
type HashConfig struct {
	Password  hash.Config `mapstructure:"password"`
	AccountID hash.Config `mapstructure:"account_id"`
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig controls login challenges. Algorithm, Iterations,
// HashLength and Encoding define the response hash clients compute over
// passwordHash + challengeID.
type ChallengeConfig struct {
	Algorithm     hash.Algorithm `mapstructure:"algorithm"`
	Iterations    uint32         `mapstructure:"iterations"`
	HashLength    uint32         `mapstructure:"hash_length"`
	Encoding      hash.Encoding  `mapstructure:"encoding"`
	IDLength      int            `mapstructure:"id_length"`
	Lifetime      time.Duration  `mapstructure:"lifetime"`
	StoragePrefix string         `mapstructure:"storage_prefix"`
	MaxRetries    int            `mapstructure:"max_retries"`
}

func (c ChallengeConfig) responseConfig() hash.Config {
	return hash.Config{
		Algorithm:  c.Algorithm,
		Iterations: c.Iterations,
		HashLength: c.HashLength,
		Encoding:   c.Encoding,
	}
}

/*
====================================
REGISTRATION / ACCOUNT CONFIG
====================================
*/

type RegistrationConfig struct {
	Lifetime          time.Duration `mapstructure:"lifetime"`
	StoragePrefix     string        `mapstructure:"storage_prefix"`
	ConfirmCodeLength int           `mapstructure:"confirm_code_length"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// AccountConfig controls confirmed accounts. A zero Lifetime keeps accounts forever.
type AccountConfig struct {
	IDLength      int           `mapstructure:"id_length"`
	Lifetime      time.Duration `mapstructure:"lifetime"`
	StoragePrefix string        `mapstructure:"storage_prefix"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

/*
====================================
SESSION / TOKEN CONFIG
====================================
*/

type SessionConfig struct {
	IDLength      int           `mapstructure:"id_length"`
	SecretLength  int           `mapstructure:"secret_length"`
	Lifetime      time.Duration `mapstructure:"lifetime"`
	StoragePrefix string        `mapstructure:"storage_prefix"`
}

// TokenConfig controls stored tokens. Lifetime is both the default and the
// maximum a caller may request. A zero MaxSize disables the size check.
type TokenConfig struct {
	IDLength      int           `mapstructure:"id_length"`
	Lifetime      time.Duration `mapstructure:"lifetime"`
	StoragePrefix string        `mapstructure:"storage_prefix"`
	MaxSize       int           `mapstructure:"max_size"`
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig configures the built-in one-time-code provider. The previous
// secret of an account in rotation gets its own drift window.
type OTPConfig struct {
	Mode                otp.Mode `mapstructure:"mode"`
	KeySize             int      `mapstructure:"key_size"`
	Digits              int      `mapstructure:"digits"`
	Period              uint     `mapstructure:"period"`
	Algorithm           string   `mapstructure:"algorithm"`
	IssuerName          string   `mapstructure:"issuer_name"`
	BeforeDrift         uint     `mapstructure:"before_drift"`
	AfterDrift          uint     `mapstructure:"after_drift"`
	PreviousBeforeDrift uint     `mapstructure:"previous_before_drift"`
	PreviousAfterDrift  uint     `mapstructure:"previous_after_drift"`
	QRSize              int      `mapstructure:"qr_size"`
}

func (c OTPConfig) providerConfig() otp.Config {
	return otp.Config{
		Mode:          c.Mode,
		KeySize:       c.KeySize,
		Digits:        c.Digits,
		Period:        c.Period,
		Algorithm:     c.Algorithm,
		Issuer:        c.IssuerName,
		Drift:         otp.Drift{Before: c.BeforeDrift, After: c.AfterDrift},
		PreviousDrift: otp.Drift{Before: c.PreviousBeforeDrift, After: c.PreviousAfterDrift},
		QRSize:        c.QRSize,
	}
}

/*
====================================
SIGNATURE / LINK / MAIL CONFIG
====================================
*/

type SignatureConfig struct {
	MaxSkew      time.Duration `mapstructure:"max_skew"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// LinkConfig enables emailed confirmation links. Links are disabled while
// SigningKey is empty; the code in the email still works.
type LinkConfig struct {
	SigningMethod string        `mapstructure:"signing_method"` // "hs256" (default) or "ed25519"
	SigningKey    []byte        `mapstructure:"signing_key"`
	PublicKey     []byte        `mapstructure:"public_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Issuer        string        `mapstructure:"issuer"`
	TTL           time.Duration `mapstructure:"ttl"`
}

func (c LinkConfig) enabled() bool {
	return len(c.SigningKey) > 0
}

type MailConfig struct {
	Subject string `mapstructure:"subject"`
}

/*
====================================
AUDIT / METRICS / RATE LIMIT CONFIG
====================================
*/

type AuditConfig = audit.Config

type MetricsConfig = metrics.Config

// RateLimitConfig throttles failed logins per account. Attempts failures
// are allowed per Window; the budget refills gradually.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Attempts int           `mapstructure:"attempts"`
	Window   time.Duration `mapstructure:"window"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Hash.AccountID.Salt is empty
// and must be set before Build.
func DefaultConfig() Config {
	return Config{
		Hash: HashConfig{
			Password: hash.Config{
				Algorithm:  hash.PBKDF2SHA256,
				Iterations: 100_000,
				HashLength: 32,
				SaltLength: 16,
				Encoding:   hash.Hex,
			},
			AccountID: hash.Config{
				Algorithm:  hash.SHA256,
				Iterations: 1,
				Encoding:   hash.Hex,
			},
		},
		Challenge: ChallengeConfig{
			Algorithm:     hash.SHA256,
			Iterations:    1,
			Encoding:      hash.Hex,
			IDLength:      32,
			Lifetime:      5 * time.Minute,
			StoragePrefix: "challenge",
			MaxRetries:    4,
		},
		Registration: RegistrationConfig{
			Lifetime:          24 * time.Hour,
			StoragePrefix:     "registration",
			ConfirmCodeLength: 6,
			MaxRetries:        4,
		},
		Account: AccountConfig{
			IDLength:      24,
			StoragePrefix: "account",
			MaxRetries:    4,
		},
		Session: SessionConfig{
			IDLength:      32,
			SecretLength:  32,
			Lifetime:      12 * time.Hour,
			StoragePrefix: "session",
		},
		Token: TokenConfig{
			IDLength:      32,
			Lifetime:      24 * time.Hour,
			StoragePrefix: "token",
			MaxSize:       64 * 1024,
		},
		OTP: OTPConfig{
			Mode:                otp.ModeTOTP,
			KeySize:             20,
			Digits:              6,
			Period:              30,
			Algorithm:           "SHA1",
			IssuerName:          "OpenToken",
			BeforeDrift:         1,
			AfterDrift:          1,
			PreviousBeforeDrift: 1,
			PreviousAfterDrift:  1,
			QRSize:              256,
		},
		Signature: SignatureConfig{
			MaxSkew:      5 * time.Minute,
			MaxBodyBytes: 1 << 20,
		},
		Link: LinkConfig{
			SigningMethod: string(jwt.MethodHS256),
			TTL:           24 * time.Hour,
		},
		Mail: MailConfig{
			Subject: "Confirm your account",
		},
		Audit: AuditConfig{
			Enabled:      false,
			BufferSize:   1024,
			DropIfFull:   true,
			FlushTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Attempts: 5,
			Window:   15 * time.Minute,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Hash.Password.Salt = cloneBytes(cfg.Hash.Password.Salt)
	out.Hash.AccountID.Salt = cloneBytes(cfg.Hash.AccountID.Salt)
	out.Link.SigningKey = cloneBytes(cfg.Link.SigningKey)
	out.Link.PublicKey = cloneBytes(cfg.Link.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// Hash
	if err := c.Hash.Password.Validate(); err != nil {
		return fmt.Errorf("Hash.Password: %w", err)
	}
	if len(c.Hash.Password.Salt) > 0 {
		return errors.New("Hash.Password must not carry a fixed Salt; set SaltLength")
	}
	if c.Hash.Password.SaltLength < 8 {
		return errors.New("Hash.Password SaltLength must be >= 8")
	}
	if err := c.Hash.AccountID.Validate(); err != nil {
		return fmt.Errorf("Hash.AccountID: %w", err)
	}
	if len(c.Hash.AccountID.Salt) == 0 || c.Hash.AccountID.SaltLength != 0 {
		return errors.New("Hash.AccountID requires a fixed Salt and no SaltLength")
	}

	// Challenge
	if err := c.Challenge.responseConfig().Validate(); err != nil {
		return fmt.Errorf("Challenge: %w", err)
	}
	if c.Challenge.IDLength < 16 {
		return errors.New("Challenge IDLength must be >= 16")
	}
	if c.Challenge.Lifetime <= 0 {
		return errors.New("Challenge Lifetime must be > 0")
	}
	if c.Challenge.MaxRetries < 0 {
		return errors.New("Challenge MaxRetries must be >= 0")
	}

	// Registration
	if c.Registration.Lifetime <= 0 {
		return errors.New("Registration Lifetime must be > 0")
	}
	if c.Registration.ConfirmCodeLength < 6 || c.Registration.ConfirmCodeLength > 10 {
		return errors.New("Registration ConfirmCodeLength must be in [6,10]")
	}

	// Account
	if c.Account.IDLength < 16 || c.Account.IDLength > session.MaxFieldLength {
		return fmt.Errorf("Account IDLength must be in [16,%d]", session.MaxFieldLength)
	}
	if c.Account.Lifetime < 0 {
		return errors.New("Account Lifetime must be >= 0")
	}

	// Session
	if c.Session.IDLength < 16 {
		return errors.New("Session IDLength must be >= 16")
	}
	if c.Session.SecretLength < 16 {
		return errors.New("Session SecretLength must be >= 16")
	}
	if base64.RawURLEncoding.EncodedLen(c.Session.SecretLength) > session.MaxFieldLength {
		return fmt.Errorf("Session SecretLength encodes to more than %d characters", session.MaxFieldLength)
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}

	// Token
	if c.Token.IDLength < 16 {
		return errors.New("Token IDLength must be >= 16")
	}
	if c.Token.Lifetime <= 0 {
		return errors.New("Token Lifetime must be > 0")
	}
	if c.Token.MaxSize < 0 {
		return errors.New("Token MaxSize must be >= 0")
	}

	// Storage prefixes share one keyspace.
	prefixes := map[string]string{}
	for name, p := range map[string]string{
		"Challenge":    c.Challenge.StoragePrefix,
		"Registration": c.Registration.StoragePrefix,
		"Account":      c.Account.StoragePrefix,
		"Session":      c.Session.StoragePrefix,
		"Token":        c.Token.StoragePrefix,
	} {
		if strings.TrimSpace(p) == "" || strings.Contains(p, ":") {
			return fmt.Errorf("%s StoragePrefix must be non-empty and contain no ':'", name)
		}
		if other, ok := prefixes[p]; ok {
			return fmt.Errorf("%s and %s share StoragePrefix %q", name, other, p)
		}
		prefixes[p] = name
	}

	// OTP
	if _, err := otp.New(c.OTP.providerConfig()); err != nil {
		return fmt.Errorf("OTP: %w", err)
	}

	// Signature
	if c.Signature.MaxSkew <= 0 {
		return errors.New("Signature MaxSkew must be > 0")
	}
	if c.Signature.MaxBodyBytes <= 0 {
		return errors.New("Signature MaxBodyBytes must be > 0")
	}

	// Link
	if c.Link.enabled() {
		if _, err := jwt.NewManager(c.linkManagerConfig()); err != nil {
			return fmt.Errorf("Link: %w", err)
		}
	}
	if c.Link.BaseURL != "" {
		u, err := url.Parse(c.Link.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Link BaseURL must be an absolute URL")
		}
	}

	// Audit
	if c.Audit.BufferSize < 0 {
		return errors.New("Audit BufferSize must be >= 0")
	}
	if c.Audit.FlushTimeout < 0 {
		return errors.New("Audit FlushTimeout must be >= 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.Attempts <= 0 {
			return errors.New("RateLimit Attempts must be > 0")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
	}

	return nil
}

func (c *Config) linkManagerConfig() jwt.Config {
	method := jwt.SigningMethod(strings.ToLower(c.Link.SigningMethod))
	if method == "" {
		method = jwt.MethodHS256
	}
	return jwt.Config{
		SigningMethod: method,
		PrivateKey:    cloneBytes(c.Link.SigningKey),
		PublicKey:     cloneBytes(c.Link.PublicKey),
		Issuer:        c.Link.Issuer,
		TTL:           c.Link.TTL,
	}
}
