// Package otp wraps HOTP/TOTP generation and verification with bounded drift
// and current/previous secret rotation.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"golang.org/x/sync/errgroup"
)

// Mode selects time-based or counter-based codes.
type Mode string

const (
	ModeTOTP Mode = "totp"
	ModeHOTP Mode = "hotp"
)

var (
	ErrInvalidConfig = errors.New("otp: invalid config")
	ErrEmptySecret   = errors.New("otp: empty secret")
)

// Drift bounds how many steps before and after the expected one are accepted.
type Drift struct {
	Before uint
	After  uint
}

// Config holds provider parameters.
type Config struct {
	Mode          Mode
	KeySize       int
	Digits        int
	Period        uint
	Algorithm     string
	Issuer        string
	Drift         Drift
	PreviousDrift Drift
	QRSize        int
}

// Keys is the secret material held for one account. Previous is empty
// unless a rotation is in flight.
type Keys struct {
	Current         string
	CurrentCounter  uint64
	Previous        string
	PreviousCounter uint64
}

// Result reports a verification outcome. Counter is the step that matched
// (TOTP) or the next counter to store (HOTP).
type Result struct {
	OK       bool
	Counter  uint64
	Previous bool
}

// Provider generates and verifies one-time codes.
type Provider struct {
	cfg  Config
	opts hotp.ValidateOpts
	now  func() time.Time
}

// New validates cfg, applies defaults, and returns a Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeTOTP
	}
	if cfg.KeySize == 0 {
		cfg.KeySize = 20
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.QRSize == 0 {
		cfg.QRSize = 256
	}
	if cfg.Mode != ModeTOTP && cfg.Mode != ModeHOTP {
		return nil, ErrInvalidConfig
	}
	if cfg.KeySize < 10 || cfg.KeySize > 64 {
		return nil, ErrInvalidConfig
	}
	if cfg.Digits != 6 && cfg.Digits != 8 {
		return nil, ErrInvalidConfig
	}
	alg, err := algorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	return &Provider{
		cfg: cfg,
		opts: hotp.ValidateOpts{
			Digits:    otp.Digits(cfg.Digits),
			Algorithm: alg,
		},
		now: time.Now,
	}, nil
}

// SetClock overrides the time source. Intended for tests.
func (p *Provider) SetClock(now func() time.Time) {
	p.now = now
}

// Mode returns the configured mode.
func (p *Provider) Mode() Mode {
	return p.cfg.Mode
}

// NewSecret returns a random base32 secret without padding.
func (p *Provider) NewSecret() (string, error) {
	raw := make([]byte, p.cfg.KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// Counter returns the TOTP step for t.
func (p *Provider) Counter(t time.Time) uint64 {
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix) / uint64(p.cfg.Period)
}

// Code renders the code for secret at counter.
func (p *Provider) Code(secret string, counter uint64) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	return hotp.GenerateCodeCustom(secret, counter, p.opts)
}

// Verify checks a TOTP code around the current step.
func (p *Provider) Verify(secret, code string, drift Drift) bool {
	_, ok := p.match(secret, code, p.Counter(p.now()), drift)
	return ok
}

// VerifyCounter checks an HOTP code around counter and returns the next
// counter to persist on success.
func (p *Provider) VerifyCounter(secret, code string, counter uint64, drift Drift) (uint64, bool) {
	matched, ok := p.match(secret, code, counter, drift)
	if !ok {
		return counter, false
	}
	return matched + 1, true
}

// VerifyPair checks that current matches within the configured drift and, when
// previous is set, that previous is the code one step earlier. Used to bind a
// freshly provisioned device.
func (p *Provider) VerifyPair(secret string, counter uint64, current, previous string) (Result, error) {
	if secret == "" {
		return Result{}, ErrEmptySecret
	}
	base := counter
	if p.cfg.Mode == ModeTOTP {
		base = p.Counter(p.now())
	}
	matched, ok := p.match(secret, current, base, p.cfg.Drift)
	if !ok {
		return Result{}, nil
	}
	if previous != "" {
		if matched == 0 {
			return Result{}, nil
		}
		expected, err := p.Code(secret, matched-1)
		if err != nil {
			return Result{}, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(normalize(previous))) != 1 {
			return Result{}, nil
		}
	}
	return p.result(matched, false), nil
}

// VerifyRotation checks code against the current and previous secrets in
// parallel, each with its own drift window, and accepts if either matches.
// The current secret wins when both match.
func (p *Provider) VerifyRotation(ctx context.Context, keys Keys, code string) (Result, error) {
	if keys.Current == "" {
		return Result{}, ErrEmptySecret
	}

	var (
		current, previous     uint64
		currentOK, previousOK bool
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		base := keys.CurrentCounter
		if p.cfg.Mode == ModeTOTP {
			base = p.Counter(p.now())
		}
		current, currentOK = p.match(keys.Current, code, base, p.cfg.Drift)
		return nil
	})
	if keys.Previous != "" {
		g.Go(func() error {
			base := keys.PreviousCounter
			if p.cfg.Mode == ModeTOTP {
				base = p.Counter(p.now())
			}
			previous, previousOK = p.match(keys.Previous, code, base, p.cfg.PreviousDrift)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	switch {
	case currentOK:
		return p.result(current, false), nil
	case previousOK:
		return p.result(previous, true), nil
	}
	return Result{}, nil
}

func (p *Provider) result(matched uint64, previous bool) Result {
	if p.cfg.Mode == ModeHOTP {
		return Result{OK: true, Counter: matched + 1, Previous: previous}
	}
	return Result{OK: true, Counter: matched, Previous: previous}
}

func (p *Provider) match(secret, code string, base uint64, drift Drift) (uint64, bool) {
	code = normalize(code)
	if secret == "" || len(code) != p.cfg.Digits || !isNumeric(code) {
		return 0, false
	}

	var start uint64
	if uint64(drift.Before) < base {
		start = base - uint64(drift.Before)
	}
	end := base + uint64(drift.After)

	for counter := start; counter <= end; counter++ {
		generated, err := hotp.GenerateCodeCustom(secret, counter, p.opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(code)) == 1 {
			return counter, true
		}
	}
	return 0, false
}

func algorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	}
	return 0, ErrInvalidConfig
}

func normalize(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
