package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod names the algorithm used to sign confirmation links.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// audience pins link tokens to their single purpose.
const audience = "opentoken-confirm"

var (
	ErrInvalidConfig = errors.New("jwt: invalid config")
	ErrInvalidToken  = errors.New("jwt: invalid link token")
)

// Config configures a Manager. PrivateKey is the HMAC key for HS256 or an
// ed25519 private key (raw or PEM) for Ed25519.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	TTL           time.Duration
	Leeway        time.Duration
}

// LinkClaims is the payload of an emailed confirmation link.
type LinkClaims struct {
	RegID string `json:"reg"`
	Code  string `json:"code"`
	jwt.RegisteredClaims
}

// Manager issues and parses confirmation link tokens.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be > 0", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: leeway out of range", ErrInvalidConfig)
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, fmt.Errorf("%w: hs256 key must be at least 32 bytes", ErrInvalidConfig)
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, cfg.SigningMethod)
	}

	return &Manager{config: cfg, now: time.Now}, nil
}

// SetClock overrides the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateLink signs a token carrying regID and code. The token never outlives
// notAfter when it is non-zero.
func (m *Manager) CreateLink(regID, code string, notAfter time.Time) (string, error) {
	if regID == "" || code == "" {
		return "", ErrInvalidToken
	}
	now := m.now()
	exp := now.Add(m.config.TTL)
	if !notAfter.IsZero() && notAfter.Before(exp) {
		exp = notAfter
	}

	claims := LinkClaims{
		RegID: regID,
		Code:  code,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	key, err := m.signKey()
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(m.method(), claims).SignedString(key)
}

// ParseLink verifies a link token and returns its claims.
func (m *Manager) ParseLink(token string) (*LinkClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &LinkClaims{}, func(t *jwt.Token) (interface{}, error) {
		return m.verifyKey()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*LinkClaims)
	if !ok || !parsed.Valid || claims.RegID == "" || claims.Code == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) signKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPrivateKey(m.config.PrivateKey)
}

func (m *Manager) verifyKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	if len(m.config.PublicKey) > 0 {
		return parseEdPublicKey(m.config.PublicKey)
	}
	priv, err := parseEdPrivateKey(m.config.PrivateKey)
	if err != nil {
		return nil, err
	}
	return priv.Public(), nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 private key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 private key type", ErrInvalidConfig)
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 public key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 public key type", ErrInvalidConfig)
	}
	return edKey, nil
}
