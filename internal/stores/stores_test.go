package stores

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/store"
	"github.com/MrEthical07/opentoken/store/memory"
)

var responseConfig = hash.Config{Algorithm: hash.SHA256, Iterations: 1, Encoding: hash.Hex}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// plainStore hides memory.Store's CompareAndSwap so the last-writer-wins
// path is exercised.
type plainStore struct {
	store.Store
}

func newKeyer(t *testing.T) *hash.Keyer {
	t.Helper()
	k, err := hash.NewKeyer(hash.Config{Algorithm: hash.SHA256, Iterations: 1, Salt: []byte("pepper")})
	if err != nil {
		t.Fatalf("NewKeyer failed: %v", err)
	}
	return k
}

func newMemory(t *testing.T, c *testClock) *memory.Store {
	t.Helper()
	m := memory.New(memory.Config{})
	m.SetClock(c.Now)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func newChallengeStore(t *testing.T, kv store.Store, c *testClock) *ChallengeStore {
	t.Helper()
	s := NewChallengeStore(kv, newKeyer(t), ChallengeConfig{
		IDLength: 24,
		Lifetime: time.Minute,
		Response: responseConfig,
	})
	s.SetClock(c.Now)
	return s
}

func TestChallengeCreateValidateLeavesListEmpty(t *testing.T) {
	c := newClock()
	s := newChallengeStore(t, newMemory(t, c), c)
	ctx := context.Background()

	ch, err := s.Create(ctx, "acct1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(ch.ID) != 24 {
		t.Fatalf("expected 24-char id, got %q", ch.ID)
	}

	claimed, err := ChallengeResponse("pw-hash", ch.ID, responseConfig)
	if err != nil {
		t.Fatalf("ChallengeResponse failed: %v", err)
	}
	if err := s.Validate(ctx, "acct1", "pw-hash", claimed); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	live, err := s.Live(ctx, "acct1")
	if err != nil {
		t.Fatalf("Live failed: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("expected empty list, got %v", live)
	}
}

func TestChallengeIsSingleUse(t *testing.T) {
	c := newClock()
	s := newChallengeStore(t, newMemory(t, c), c)
	ctx := context.Background()

	ch, _ := s.Create(ctx, "acct1")
	claimed, _ := ChallengeResponse("pw-hash", ch.ID, responseConfig)

	if err := s.Validate(ctx, "acct1", "pw-hash", claimed); err != nil {
		t.Fatalf("first Validate failed: %v", err)
	}
	if err := s.Validate(ctx, "acct1", "pw-hash", claimed); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch on replay, got %v", err)
	}
}

func TestChallengeWrongResponseKeepsList(t *testing.T) {
	c := newClock()
	s := newChallengeStore(t, newMemory(t, c), c)
	ctx := context.Background()

	ch, _ := s.Create(ctx, "acct1")
	claimed, _ := ChallengeResponse("other-hash", ch.ID, responseConfig)

	if err := s.Validate(ctx, "acct1", "pw-hash", claimed); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
	live, _ := s.Live(ctx, "acct1")
	if len(live) != 1 || live[0].ID != ch.ID {
		t.Fatalf("expected challenge kept, got %v", live)
	}
}

func TestChallengeOnlyConsumesMatchingEntry(t *testing.T) {
	c := newClock()
	s := newChallengeStore(t, newMemory(t, c), c)
	ctx := context.Background()

	first, _ := s.Create(ctx, "acct1")
	second, _ := s.Create(ctx, "acct1")
	claimed, _ := ChallengeResponse("pw-hash", second.ID, responseConfig)

	if err := s.Validate(ctx, "acct1", "pw-hash", claimed); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	live, _ := s.Live(ctx, "acct1")
	if len(live) != 1 || live[0].ID != first.ID {
		t.Fatalf("expected only first challenge left, got %v", live)
	}
}

func TestChallengeExpiredEntriesArePruned(t *testing.T) {
	c := newClock()
	s := newChallengeStore(t, newMemory(t, c), c)
	ctx := context.Background()

	old, _ := s.Create(ctx, "acct1")
	c.Advance(30 * time.Second)
	fresh, _ := s.Create(ctx, "acct1")
	c.Advance(45 * time.Second)

	live, _ := s.Live(ctx, "acct1")
	if len(live) != 1 || live[0].ID != fresh.ID {
		t.Fatalf("expected only fresh challenge, got %v", live)
	}

	claimed, _ := ChallengeResponse("pw-hash", old.ID, responseConfig)
	if err := s.Validate(ctx, "acct1", "pw-hash", claimed); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected expired challenge rejected, got %v", err)
	}
}

func TestChallengeEmptyListBehavesAsEmpty(t *testing.T) {
	c := newClock()
	s := newChallengeStore(t, newMemory(t, c), c)
	ctx := context.Background()

	live, err := s.Live(ctx, "nobody")
	if err != nil || len(live) != 0 {
		t.Fatalf("expected empty list, got %v, %v", live, err)
	}
	if err := s.Validate(ctx, "nobody", "pw-hash", "deadbeef"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestChallengeEmptyInputs(t *testing.T) {
	c := newClock()
	s := newChallengeStore(t, newMemory(t, c), c)
	ctx := context.Background()

	if _, err := s.Create(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	for _, args := range [][3]string{{"", "h", "r"}, {"a", "", "r"}, {"a", "h", ""}} {
		if err := s.Validate(ctx, args[0], args[1], args[2]); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %v, got %v", args, err)
		}
	}
}

func TestChallengeWithoutCompareAndSwap(t *testing.T) {
	c := newClock()
	s := newChallengeStore(t, plainStore{newMemory(t, c)}, c)
	ctx := context.Background()

	ch, err := s.Create(ctx, "acct1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	claimed, _ := ChallengeResponse("pw-hash", ch.ID, responseConfig)
	if err := s.Validate(ctx, "acct1", "pw-hash", claimed); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if err := s.Validate(ctx, "acct1", "pw-hash", claimed); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected replay rejected, got %v", err)
	}
}

func TestChallengeConcurrentCreatesAreNotLost(t *testing.T) {
	c := newClock()
	s := newChallengeStore(t, newMemory(t, c), c)
	s.cfg.MaxRetries = 64
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Create(ctx, "acct1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Create failed: %v", err)
	}

	live, _ := s.Live(ctx, "acct1")
	if len(live) != n {
		t.Fatalf("expected %d challenges, got %d", n, len(live))
	}
}

// flakyStore makes every CompareAndSwap lose.
type flakyStore struct {
	*memory.Store
}

func (flakyStore) CompareAndSwap(context.Context, string, []byte, []byte, time.Time) (bool, error) {
	return false, nil
}

func TestChallengeContentionIsBounded(t *testing.T) {
	c := newClock()
	s := newChallengeStore(t, flakyStore{newMemory(t, c)}, c)

	if _, err := s.Create(context.Background(), "acct1"); !errors.Is(err, ErrContention) {
		t.Fatalf("expected ErrContention, got %v", err)
	}
}

func newTokenStore(t *testing.T, c *testClock) *TokenStore {
	t.Helper()
	s := NewTokenStore(newMemory(t, c), newKeyer(t), TokenConfig{
		IDLength: 20,
		Lifetime: time.Hour,
		MaxSize:  64,
	})
	s.SetClock(c.Now)
	return s
}

func TestTokenRoundTripAndExpiry(t *testing.T) {
	c := newClock()
	s := newTokenStore(t, c)
	ctx := context.Background()

	data := []byte{0x00, 0x01, 0xfe, 0xff}
	tok, err := s.Create(ctx, "acct1", data, "application/octet-stream", false, 10*time.Minute)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(tok.ID) != 20 {
		t.Fatalf("expected 20-char id, got %q", tok.ID)
	}

	got, err := s.Get(ctx, "acct1", tok.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got.Data, data) || got.ContentType != "application/octet-stream" || got.Public {
		t.Fatalf("unexpected token: %+v", got)
	}

	c.Advance(10 * time.Minute)
	if _, err := s.Get(ctx, "acct1", tok.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestTokenScopedToAccount(t *testing.T) {
	c := newClock()
	s := newTokenStore(t, c)
	ctx := context.Background()

	tok, _ := s.Create(ctx, "acct1", []byte("x"), "text/plain", true, 0)
	if _, err := s.Get(ctx, "acct2", tok.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other account, got %v", err)
	}
}

func TestTokenLifetimeIsCapped(t *testing.T) {
	c := newClock()
	s := newTokenStore(t, c)

	tok, _ := s.Create(context.Background(), "acct1", []byte("x"), "text/plain", false, 48*time.Hour)
	if want := c.Now().Add(time.Hour); !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry capped at %v, got %v", want, tok.ExpiresAt)
	}
}

func TestTokenDeleteIsIdempotent(t *testing.T) {
	c := newClock()
	s := newTokenStore(t, c)
	ctx := context.Background()

	tok, _ := s.Create(ctx, "acct1", []byte("x"), "text/plain", false, 0)
	if err := s.Delete(ctx, "acct1", tok.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "acct1", tok.ID); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "acct1", tok.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenValidation(t *testing.T) {
	c := newClock()
	s := newTokenStore(t, c)
	ctx := context.Background()

	if _, err := s.Create(ctx, "", []byte("x"), "", false, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := s.Create(ctx, "acct1", make([]byte, 65), "", false, 0); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := s.Get(ctx, "acct1", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAccountCreateGetUpdate(t *testing.T) {
	c := newClock()
	kv := newMemory(t, c)
	s := NewAccountStore(kv, newKeyer(t), "", 0)
	s.SetClock(c.Now)
	ctx := context.Background()

	acct := &Account{
		ID:             "acct1",
		Email:          "a@example.com",
		PasswordConfig: hash.Config{Algorithm: hash.PBKDF2SHA256, Iterations: 1000, HashLength: 32, Salt: []byte("salt")},
		PasswordHash:   "pw-hash",
		MFA:            MFAState{Current: "SECRET", CurrentCounter: 3},
		CreatedAt:      c.Now(),
		ExpiresAt:      c.Now().Add(time.Hour),
	}
	if err := s.Create(ctx, acct); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Create(ctx, acct); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.Get(ctx, "acct1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Email != acct.Email || string(got.PasswordConfig.Salt) != "salt" || got.MFA.CurrentCounter != 3 {
		t.Fatalf("unexpected account: %+v", got)
	}

	updated, err := s.Update(ctx, "acct1", func(a *Account) error {
		a.MFA.Previous, a.MFA.Current = a.MFA.Current, "NEXT"
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.MFA.Previous != "SECRET" || updated.MFA.Current != "NEXT" {
		t.Fatalf("unexpected update: %+v", updated.MFA)
	}

	c.Advance(time.Hour)
	if _, err := s.Get(ctx, "acct1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
	if _, err := s.Update(ctx, "acct1", func(*Account) error { return nil }); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestRegistrationUpdateAndConsume(t *testing.T) {
	c := newClock()
	s := NewRegistrationStore(newMemory(t, c), newKeyer(t), "", 0)
	s.SetClock(c.Now)
	ctx := context.Background()

	reg := &Registration{
		ID:        "reg1",
		Email:     "a@example.com",
		MFASecret: "SECRET",
		CreatedAt: c.Now(),
		ExpiresAt: c.Now().Add(time.Hour),
	}
	if err := s.Create(ctx, reg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := s.Update(ctx, "reg1", func(r *Registration) error {
		r.Secured = true
		r.ConfirmCode = "12345678"
		r.ExpiresAt = r.ExpiresAt.Add(24 * time.Hour)
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.Secured || !updated.ExpiresAt.Equal(reg.ExpiresAt) {
		t.Fatalf("expected secured with unchanged expiry, got %+v", updated)
	}

	reject := errors.New("wrong code")
	if _, err := s.Consume(ctx, "reg1", func(*Registration) error { return reject }); !errors.Is(err, reject) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if _, err := s.Get(ctx, "reg1"); err != nil {
		t.Fatalf("rejected consume must keep the record: %v", err)
	}

	consumed, err := s.Consume(ctx, "reg1", func(*Registration) error { return nil })
	if err != nil || consumed.ConfirmCode != "12345678" {
		t.Fatalf("Consume returned %+v, %v", consumed, err)
	}
	if _, err := s.Get(ctx, "reg1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after consume, got %v", err)
	}
}

func TestDecodeRejectsCorruptRecords(t *testing.T) {
	tok, err := encodeToken(&Token{AccountID: "a", Data: []byte("x")})
	if err != nil {
		t.Fatalf("encodeToken failed: %v", err)
	}
	if _, err := decodeToken(tok[:len(tok)-1]); !errors.Is(err, ErrRecordCorrupt) {
		t.Fatalf("expected ErrRecordCorrupt for truncated record, got %v", err)
	}
	if _, err := decodeToken(append(tok, 0)); !errors.Is(err, ErrRecordCorrupt) {
		t.Fatalf("expected ErrRecordCorrupt for trailing bytes, got %v", err)
	}
	if _, err := decodeToken([]byte{99}); !errors.Is(err, ErrRecordVersion) {
		t.Fatalf("expected ErrRecordVersion, got %v", err)
	}
	if _, err := decodeAccount(nil); !errors.Is(err, ErrRecordCorrupt) {
		t.Fatalf("expected ErrRecordCorrupt for empty record, got %v", err)
	}
}
