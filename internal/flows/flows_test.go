package flows

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/internal/rate"
	"github.com/MrEthical07/opentoken/internal/stores"
	"github.com/MrEthical07/opentoken/jwt"
	"github.com/MrEthical07/opentoken/mail"
	"github.com/MrEthical07/opentoken/otp"
	"github.com/MrEthical07/opentoken/session"
	"github.com/MrEthical07/opentoken/signature"
	"github.com/MrEthical07/opentoken/store/memory"
)

var (
	errNotReady     = errors.New("not ready")
	errInvalid      = errors.New("invalid input")
	errCredentials  = errors.New("invalid credentials")
	errUnknownReg   = errors.New("unknown registration")
	errUnknownAcct  = errors.New("unknown account")
	errUnsecured  = errors.New("not secured")
	errSecured      = errors.New("already secured")
	errLink         = errors.New("invalid link")
	errNoLinks      = errors.New("links disabled")
	errLimited      = errors.New("rate limited")
	errTokenMissing = errors.New("token not found")
	errTooLarge     = errors.New("too large")
	errUnauthorized = errors.New("unauthorized")
	errStorage      = errors.New("storage")
	errMail         = errors.New("mail")
)

var testResponseConfig = hash.Config{Algorithm: hash.SHA256, Iterations: 1, Encoding: hash.Hex}

// stubOTP accepts a fixed code and reports a fresh counter per verification
// unless fixed is set.
type stubOTP struct {
	code     string
	previous string
	fixed    uint64
	next     atomic.Uint64
	secrets  atomic.Uint64
}

func (s *stubOTP) Mode() otp.Mode { return otp.ModeTOTP }

func (s *stubOTP) GenerateSecret(label string) (*otp.Provisioning, error) {
	n := s.secrets.Add(1)
	return &otp.Provisioning{Secret: fmt.Sprintf("SECRET%d", n), URI: "otpauth://totp/" + label}, nil
}

func (s *stubOTP) counter() uint64 {
	if s.fixed != 0 {
		return s.fixed
	}
	return s.next.Add(1)
}

func (s *stubOTP) VerifyPair(secret string, _ uint64, current, _ string) (otp.Result, error) {
	if secret == "" || current != s.code {
		return otp.Result{}, nil
	}
	return otp.Result{OK: true, Counter: s.counter()}, nil
}

func (s *stubOTP) VerifyRotation(_ context.Context, keys otp.Keys, code string) (otp.Result, error) {
	switch {
	case keys.Current != "" && code == s.code:
		return otp.Result{OK: true, Counter: s.counter()}, nil
	case keys.Previous != "" && s.previous != "" && code == s.previous:
		return otp.Result{OK: true, Counter: s.counter(), Previous: true}, nil
	}
	return otp.Result{}, nil
}

type harness struct {
	deps   Deps
	svc    Service
	outbox *mail.Outbox
	otp    *stubOTP
	now    time.Time
	mu     sync.Mutex
	events []string
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func (h *harness) audited(event string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == event {
			return true
		}
	}
	return false
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{outbox: &mail.Outbox{}, otp: &stubOTP{code: "000000"}, now: time.Unix(1_700_000_000, 0)}

	kv := memory.New(memory.Config{})
	kv.SetClock(h.clock)
	t.Cleanup(func() { _ = kv.Close() })

	keyer, err := hash.NewKeyer(hash.Config{Algorithm: hash.SHA256, Iterations: 1, Salt: []byte("pepper")})
	if err != nil {
		t.Fatalf("keyer: %v", err)
	}

	regs := stores.NewRegistrationStore(kv, keyer, "reg", 4)
	regs.SetClock(h.clock)
	accts := stores.NewAccountStore(kv, keyer, "acct", 4)
	accts.SetClock(h.clock)
	challenges := stores.NewChallengeStore(kv, keyer, stores.ChallengeConfig{Prefix: "chal", IDLength: 24, Lifetime: time.Minute, Response: testResponseConfig})
	challenges.SetClock(h.clock)
	tokens := stores.NewTokenStore(kv, keyer, stores.TokenConfig{Prefix: "tok", IDLength: 24, Lifetime: time.Hour, MaxSize: 64})
	tokens.SetClock(h.clock)
	sessions := session.NewStore(kv, keyer, "sess")
	sessions.SetClock(h.clock)

	links, err := jwt.NewManager(jwt.Config{SigningMethod: jwt.MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef"), TTL: time.Hour})
	if err != nil {
		t.Fatalf("links: %v", err)
	}
	links.SetClock(h.clock)

	limiter := rate.NewLocal(rate.Config{Attempts: 3, Window: time.Hour})
	limiter.SetClock(h.clock)

	verifier := signature.NewVerifier(time.Minute, 1024)
	verifier.SetClock(h.clock)

	h.deps = Deps{
		Registrations: regs,
		Accounts:      accts,
		Challenges:    challenges,
		Tokens:        tokens,
		Sessions:      sessions,
		Keyer:         keyer,
		OTP:           h.otp,
		Mailer:        h.outbox,
		Links:         links,
		Limiter:       limiter,
		Verifier:      verifier,
		Settings: Settings{
			PasswordHash:         hash.Config{Algorithm: hash.PBKDF2SHA256, Iterations: 10, HashLength: 32, SaltLength: 16},
			RegistrationLifetime: time.Hour,
			ConfirmCodeLength:    6,
			AccountIDLength:      20,
			SessionIDLength:      24,
			SessionSecretLength:  32,
			SessionLifetime:      time.Hour,
			MailSubject:          "Confirm",
			LinkBaseURL:          "https://example.com/confirm",
		},
		Now: h.clock,
		EmitAudit: func(_ context.Context, event string, _ bool, _, _ string, _ error, _ func() map[string]string) {
			h.mu.Lock()
			h.events = append(h.events, event)
			h.mu.Unlock()
		},
		Events: Events{
			Register: "register", Secure: "secure", Confirm: "confirm", ConfirmResent: "confirm_resent",
			LoginSuccess: "login_success", LoginFailure: "login_failure", LoginRateLimited: "login_rate_limited",
			Logout: "logout", MFARotated: "mfa_rotated", TokenCreated: "token_created", TokenDeleted: "token_deleted",
		},
		Errors: Errors{
			NotReady: errNotReady, InvalidInput: errInvalid, InvalidCredentials: errCredentials,
			UnknownRegistration: errUnknownReg, UnknownAccount: errUnknownAcct, NotSecured: errUnsecured,
			AlreadySecured: errSecured, InvalidLink: errLink, LinksDisabled: errNoLinks, RateLimited: errLimited,
			TokenNotFound: errTokenMissing, TokenTooLarge: errTooLarge, Unauthorized: errUnauthorized,
			Storage: errStorage, Mail: errMail,
		},
	}
	h.svc = New(h.deps)
	return h
}

func (h *harness) confirmedAccount(t *testing.T, email, passwordHash string) string {
	t.Helper()
	ctx := context.Background()
	reg, err := h.svc.Register(ctx, email)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.svc.Secure(ctx, reg.RegID, passwordHash, MFACodes{Current: "000000"}); err != nil {
		t.Fatalf("secure: %v", err)
	}
	accountID, err := h.svc.Confirm(ctx, reg.RegID, h.lastCode(t))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return accountID
}

func (h *harness) lastCode(t *testing.T) string {
	t.Helper()
	msg, ok := h.outbox.Last()
	if !ok {
		t.Fatal("expected a confirmation mail")
	}
	i := strings.Index(msg.Text, "code is ")
	if i < 0 {
		t.Fatalf("no code in mail %q", msg.Text)
	}
	return msg.Text[i+len("code is ") : i+len("code is ")+6]
}

func (h *harness) login(t *testing.T, accountID, passwordHash, code string) (*SessionResult, error) {
	t.Helper()
	ctx := context.Background()
	cfg, err := h.svc.LoginHashConfig(ctx, accountID)
	if err != nil {
		t.Fatalf("login hash config: %v", err)
	}
	response, err := stores.ChallengeResponse(passwordHash, cfg.Challenge.ID, testResponseConfig)
	if err != nil {
		t.Fatalf("challenge response: %v", err)
	}
	return h.svc.Login(ctx, accountID, LoginRequest{ChallengeHash: response, MFACode: code})
}

func TestLifecycleRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reg, err := h.svc.Register(ctx, " a@example.com ")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.RegID == "" || reg.Provisioning == nil || len(reg.PasswordConfig.Salt) != 16 {
		t.Fatalf("unexpected register result %+v", reg)
	}

	if err := h.svc.Secure(ctx, reg.RegID, "pwhash", MFACodes{Current: "000000"}); err != nil {
		t.Fatalf("secure: %v", err)
	}
	msg, _ := h.outbox.Last()
	if msg.To != "a@example.com" || !strings.Contains(msg.Text, "https://example.com/confirm?token=") {
		t.Fatalf("unexpected confirmation mail %+v", msg)
	}

	accountID, err := h.svc.Confirm(ctx, reg.RegID, h.lastCode(t))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(accountID) != 20 {
		t.Fatalf("expected 20 char account id, got %q", accountID)
	}
	if _, err := h.deps.Registrations.Get(ctx, reg.RegID); err == nil {
		t.Fatal("expected registration consumed")
	}

	sess, err := h.login(t, accountID, "pwhash", "000000")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.SessionID == "" || sess.Secret == "" || !sess.ExpiresAt.Equal(h.clock().Add(time.Hour)) {
		t.Fatalf("unexpected session %+v", sess)
	}

	if err := h.svc.Logout(ctx, accountID, sess.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := h.svc.Logout(ctx, accountID, sess.SessionID); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if _, err := h.deps.Sessions.Get(ctx, sess.SessionID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}

	for _, ev := range []string{"register", "secure", "confirm", "login_success", "logout"} {
		if !h.audited(ev) {
			t.Fatalf("expected audit event %s", ev)
		}
	}
}

func TestRegisterRejectsBadEmail(t *testing.T) {
	h := newHarness(t)
	for _, email := range []string{"", "nope", "Alice <a@example.com>", "a@example.com\r\nBcc: x"} {
		if _, err := h.svc.Register(context.Background(), email); !errors.Is(err, errInvalid) {
			t.Fatalf("expected invalid input for %q, got %v", email, err)
		}
	}
}

func TestSecureWithWrongMFAChangesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg, _ := h.svc.Register(ctx, "a@example.com")

	if err := h.svc.Secure(ctx, reg.RegID, "pwhash", MFACodes{Current: "123456"}); !errors.Is(err, errCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	stored, err := h.deps.Registrations.Get(ctx, reg.RegID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Secured || stored.PasswordHash != "" || stored.ConfirmCode != "" {
		t.Fatalf("expected untouched registration, got %+v", stored)
	}
	if len(h.outbox.Messages()) != 0 {
		t.Fatal("expected no mail")
	}
	if _, err := h.svc.Confirm(ctx, reg.RegID, "000000"); !errors.Is(err, errUnsecured) {
		t.Fatalf("expected not secured, got %v", err)
	}
}

func TestSecureTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg, _ := h.svc.Register(ctx, "a@example.com")
	if err := h.svc.Secure(ctx, reg.RegID, "pwhash", MFACodes{Current: "000000"}); err != nil {
		t.Fatalf("secure: %v", err)
	}
	if err := h.svc.Secure(ctx, reg.RegID, "other", MFACodes{Current: "000000"}); !errors.Is(err, errSecured) {
		t.Fatalf("expected already secured, got %v", err)
	}
}

func TestConfirmWrongCodeKeepsRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg, _ := h.svc.Register(ctx, "a@example.com")
	_ = h.svc.Secure(ctx, reg.RegID, "pwhash", MFACodes{Current: "000000"})
	code := h.lastCode(t)

	wrong := "999999"
	if code == wrong {
		wrong = "888888"
	}
	if _, err := h.svc.Confirm(ctx, reg.RegID, wrong); !errors.Is(err, errCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := h.svc.Confirm(ctx, reg.RegID, code); err != nil {
		t.Fatalf("expected confirm with right code to succeed: %v", err)
	}
	if _, err := h.svc.Confirm(ctx, reg.RegID, code); !errors.Is(err, errUnknownReg) {
		t.Fatalf("expected consumed registration, got %v", err)
	}
}

func TestConfirmIsRateLimitedPerRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg, _ := h.svc.Register(ctx, "a@example.com")
	_ = h.svc.Secure(ctx, reg.RegID, "pwhash", MFACodes{Current: "000000"})
	code := h.lastCode(t)

	msg, _ := h.outbox.Last()
	start := strings.Index(msg.Text, "https://")
	end := strings.Index(msg.Text[start:], "\n")
	link, err := url.Parse(msg.Text[start : start+end])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}

	wrong := "999999"
	if code == wrong {
		wrong = "888888"
	}
	for i := 0; i < 3; i++ {
		if _, err := h.svc.Confirm(ctx, reg.RegID, wrong); !errors.Is(err, errCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}
	if _, err := h.svc.Confirm(ctx, reg.RegID, code); !errors.Is(err, errLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if _, err := h.svc.ConfirmLink(ctx, link.Query().Get("token")); !errors.Is(err, errLimited) {
		t.Fatalf("expected link confirm rate limited, got %v", err)
	}
	if _, err := h.deps.Registrations.Get(ctx, reg.RegID); err != nil {
		t.Fatalf("expected registration kept while limited: %v", err)
	}

	other, _ := h.svc.Register(ctx, "b@example.com")
	_ = h.svc.Secure(ctx, other.RegID, "pwhash", MFACodes{Current: "000000"})
	if _, err := h.svc.Confirm(ctx, other.RegID, h.lastCode(t)); err != nil {
		t.Fatalf("expected other registration unaffected: %v", err)
	}
}

func TestMailFailureLeavesRegistrationValid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg, _ := h.svc.Register(ctx, "a@example.com")

	h.outbox.Fail(errors.New("smtp down"))
	if err := h.svc.Secure(ctx, reg.RegID, "pwhash", MFACodes{Current: "000000"}); !errors.Is(err, errMail) {
		t.Fatalf("expected mail error, got %v", err)
	}
	stored, _ := h.deps.Registrations.Get(ctx, reg.RegID)
	if !stored.Secured {
		t.Fatal("expected registration secured despite mail failure")
	}

	h.outbox.Fail(nil)
	if err := h.svc.ResendConfirmation(ctx, reg.RegID); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if _, err := h.svc.Confirm(ctx, reg.RegID, h.lastCode(t)); err != nil {
		t.Fatalf("confirm after resend: %v", err)
	}
}

func TestResendRequiresSecured(t *testing.T) {
	h := newHarness(t)
	reg, _ := h.svc.Register(context.Background(), "a@example.com")
	if err := h.svc.ResendConfirmation(context.Background(), reg.RegID); !errors.Is(err, errUnsecured) {
		t.Fatalf("expected not secured, got %v", err)
	}
}

func TestConfirmLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg, _ := h.svc.Register(ctx, "a@example.com")
	_ = h.svc.Secure(ctx, reg.RegID, "pwhash", MFACodes{Current: "000000"})

	msg, _ := h.outbox.Last()
	start := strings.Index(msg.Text, "https://")
	end := strings.Index(msg.Text[start:], "\n")
	link, err := url.Parse(msg.Text[start : start+end])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}

	if _, err := h.svc.ConfirmLink(ctx, "garbage"); !errors.Is(err, errLink) {
		t.Fatalf("expected invalid link, got %v", err)
	}
	accountID, err := h.svc.ConfirmLink(ctx, link.Query().Get("token"))
	if err != nil {
		t.Fatalf("confirm link: %v", err)
	}
	if accountID == "" {
		t.Fatal("expected account id")
	}
}

func TestRegistrationExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg, _ := h.svc.Register(ctx, "a@example.com")
	h.advance(2 * time.Hour)
	if err := h.svc.Secure(ctx, reg.RegID, "pwhash", MFACodes{Current: "000000"}); !errors.Is(err, errUnknownReg) {
		t.Fatalf("expected unknown registration, got %v", err)
	}
}

func TestLoginFailsBeforeConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.LoginHashConfig(ctx, "nobody"); !errors.Is(err, errUnknownAcct) {
		t.Fatalf("expected unknown account, got %v", err)
	}
	_, err := h.svc.Login(ctx, "nobody", LoginRequest{ChallengeHash: "x", MFACode: "000000"})
	if !errors.Is(err, errCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestLoginRejectsEitherBadFactor(t *testing.T) {
	h := newHarness(t)
	accountID := h.confirmedAccount(t, "a@example.com", "pwhash")

	if _, err := h.login(t, accountID, "wrong-hash", "000000"); !errors.Is(err, errCredentials) {
		t.Fatalf("expected invalid credentials for bad challenge, got %v", err)
	}
	if _, err := h.login(t, accountID, "pwhash", "111111"); !errors.Is(err, errCredentials) {
		t.Fatalf("expected invalid credentials for bad code, got %v", err)
	}
	if !h.audited("login_failure") {
		t.Fatal("expected login_failure audit")
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	h := newHarness(t)
	accountID := h.confirmedAccount(t, "a@example.com", "pwhash")

	for i := 0; i < 3; i++ {
		if _, err := h.login(t, accountID, "pwhash", "111111"); !errors.Is(err, errCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}
	if _, err := h.login(t, accountID, "pwhash", "000000"); !errors.Is(err, errLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestLoginRejectsReplayedCounter(t *testing.T) {
	h := newHarness(t)
	accountID := h.confirmedAccount(t, "a@example.com", "pwhash")

	h.otp.fixed = 1000
	if _, err := h.login(t, accountID, "pwhash", "000000"); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := h.login(t, accountID, "pwhash", "000000"); !errors.Is(err, errCredentials) {
		t.Fatalf("expected replay rejected, got %v", err)
	}
}

func TestRotateMFAKeepsPreviousSecret(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	accountID := h.confirmedAccount(t, "a@example.com", "pwhash")
	before, _ := h.deps.Accounts.Get(ctx, accountID)

	if _, err := h.svc.RotateMFA(ctx, accountID, "222222"); !errors.Is(err, errCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	prov, err := h.svc.RotateMFA(ctx, accountID, "000000")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	after, _ := h.deps.Accounts.Get(ctx, accountID)
	if after.MFA.Current != prov.Secret || after.MFA.Previous != before.MFA.Current {
		t.Fatalf("unexpected mfa state %+v", after.MFA)
	}

	h.otp.previous = "333333"
	if _, err := h.login(t, accountID, "pwhash", "333333"); err != nil {
		t.Fatalf("expected previous secret accepted: %v", err)
	}
}

func TestTokenVisibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	private, err := h.svc.CreateToken(ctx, "owner", []byte("secret"), TokenOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	public, err := h.svc.CreateToken(ctx, "owner", []byte("hello"), TokenOptions{Public: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if public.ContentType != defaultContentType {
		t.Fatalf("expected default content type, got %q", public.ContentType)
	}

	got, err := h.svc.GetToken(ctx, "owner", "owner", private.ID)
	if err != nil || !bytes.Equal(got.Data, []byte("secret")) || got.ContentType != "text/plain" {
		t.Fatalf("owner get: %+v %v", got, err)
	}
	if _, err := h.svc.GetToken(ctx, "", "owner", private.ID); !errors.Is(err, errTokenMissing) {
		t.Fatalf("expected private token hidden, got %v", err)
	}
	if _, err := h.svc.GetToken(ctx, "", "owner", public.ID); err != nil {
		t.Fatalf("expected public token visible: %v", err)
	}
	if _, err := h.svc.GetToken(ctx, "owner", "owner", "missing"); !errors.Is(err, errTokenMissing) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := h.svc.CreateToken(ctx, "owner", bytes.Repeat([]byte("x"), 65), TokenOptions{}); !errors.Is(err, errTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}

	if err := h.svc.DeleteToken(ctx, "owner", private.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.svc.DeleteToken(ctx, "owner", private.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := h.svc.GetToken(ctx, "owner", "owner", private.ID); !errors.Is(err, errTokenMissing) {
		t.Fatalf("expected deleted token gone, got %v", err)
	}

	h.advance(2 * time.Hour)
	if _, err := h.svc.GetToken(ctx, "owner", "owner", public.ID); !errors.Is(err, errTokenMissing) {
		t.Fatalf("expected expired token gone, got %v", err)
	}
}

func TestAuthenticateSignedRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	accountID := h.confirmedAccount(t, "a@example.com", "pwhash")
	sess, err := h.login(t, accountID, "pwhash", "000000")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	newReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "http://api.example.com/accounts/"+accountID+"/tokens", strings.NewReader("data"))
		r.Header.Set("Content-Type", "text/plain")
		return r
	}

	r := newReq()
	signer := &signature.Signer{AccessCode: sess.SessionID, Secret: []byte(sess.Secret), Now: h.clock}
	if err := signer.Sign(r); err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := h.svc.Authenticate(ctx, r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.AccountID != accountID {
		t.Fatalf("expected account %s, got %s", accountID, got.AccountID)
	}

	bad := newReq()
	badSigner := &signature.Signer{AccessCode: sess.SessionID, Secret: []byte("wrong"), Now: h.clock}
	_ = badSigner.Sign(bad)
	if _, err := h.svc.Authenticate(ctx, bad); !errors.Is(err, errUnauthorized) {
		t.Fatalf("expected unauthorized for bad secret, got %v", err)
	}

	unsigned := newReq()
	if _, err := h.svc.Authenticate(ctx, unsigned); !errors.Is(err, errUnauthorized) {
		t.Fatalf("expected unauthorized without header, got %v", err)
	}

	garbled := newReq()
	_ = signer.Sign(garbled)
	garbled.URL.RawQuery = "x=%zz"
	if _, err := h.svc.Authenticate(ctx, garbled); !errors.Is(err, errUnauthorized) {
		t.Fatalf("expected unauthorized for malformed query, got %v", err)
	}

	_ = h.svc.Logout(ctx, accountID, sess.SessionID)
	after := newReq()
	_ = signer.Sign(after)
	if _, err := h.svc.Authenticate(ctx, after); !errors.Is(err, errUnauthorized) {
		t.Fatalf("expected unauthorized after logout, got %v", err)
	}
}

func TestNotReady(t *testing.T) {
	svc := New(Deps{Errors: Errors{NotReady: errNotReady}})
	if svc.Initialized() {
		t.Fatal("expected uninitialized service")
	}
	if _, err := svc.Register(context.Background(), "a@example.com"); !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}
