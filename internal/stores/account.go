package stores

import (
	"context"
	"time"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/store"
)

const accountRecordVersion = 1

// MFAState is the one-time-code material of an account or registration.
// Previous is set only while a rotation is in flight.
type MFAState struct {
	Current         string
	CurrentCounter  uint64
	Previous        string
	PreviousCounter uint64
}

// Account is a confirmed account.
type Account struct {
	ID             string
	Email          string
	PasswordConfig hash.Config
	PasswordHash   string
	MFA            MFAState
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// AccountStore persists accounts keyed by hash(accountID).
type AccountStore struct {
	kv         store.Store
	keyer      *hash.Keyer
	prefix     string
	maxRetries int
	now        func() time.Time
}

func NewAccountStore(kv store.Store, keyer *hash.Keyer, prefix string, maxRetries int) *AccountStore {
	if prefix == "" {
		prefix = "account"
	}
	return &AccountStore{kv: kv, keyer: keyer, prefix: prefix, maxRetries: maxRetries, now: time.Now}
}

func (s *AccountStore) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores a new account and fails with ErrAlreadyExists on an id collision.
func (s *AccountStore) Create(ctx context.Context, a *Account) error {
	if a == nil || a.ID == "" {
		return ErrInvalidInput
	}
	key, err := s.keyer.Key(s.prefix, a.ID)
	if err != nil {
		return err
	}
	data, err := encodeAccount(a)
	if err != nil {
		return err
	}
	return create(ctx, s.kv, key, data, a.ExpiresAt)
}

func (s *AccountStore) Get(ctx context.Context, accountID string) (*Account, error) {
	if accountID == "" {
		return nil, ErrInvalidInput
	}
	key, err := s.keyer.Key(s.prefix, accountID)
	if err != nil {
		return nil, err
	}
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	a, err := decodeAccount(data)
	if err != nil {
		return nil, err
	}
	if a.ID != accountID || store.Expired(a.ExpiresAt, s.now()) {
		return nil, store.ErrNotFound
	}
	return a, nil
}

// Update applies fn to the stored account under compare-and-swap when the
// backend supports it. fn must not change the account id.
func (s *AccountStore) Update(ctx context.Context, accountID string, fn func(*Account) error) (*Account, error) {
	if accountID == "" || fn == nil {
		return nil, ErrInvalidInput
	}
	key, err := s.keyer.Key(s.prefix, accountID)
	if err != nil {
		return nil, err
	}

	var updated *Account
	err = mutate(ctx, s.kv, key, s.maxRetries, func(current []byte) ([]byte, time.Time, error) {
		if current == nil {
			return nil, time.Time{}, store.ErrNotFound
		}
		a, err := decodeAccount(current)
		if err != nil {
			return nil, time.Time{}, err
		}
		if a.ID != accountID || store.Expired(a.ExpiresAt, s.now()) {
			return nil, time.Time{}, store.ErrNotFound
		}
		if err := fn(a); err != nil {
			return nil, time.Time{}, err
		}
		a.ID = accountID
		next, err := encodeAccount(a)
		if err != nil {
			return nil, time.Time{}, err
		}
		updated = a
		return next, a.ExpiresAt, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the account. Used to roll back a confirmation whose
// registration could not be consumed.
func (s *AccountStore) Delete(ctx context.Context, accountID string) error {
	if accountID == "" {
		return ErrInvalidInput
	}
	key, err := s.keyer.Key(s.prefix, accountID)
	if err != nil {
		return err
	}
	return s.kv.Delete(ctx, key)
}

func (w *recordWriter) mfa(m MFAState) {
	w.str(m.Current)
	w.u64(m.CurrentCounter)
	w.str(m.Previous)
	w.u64(m.PreviousCounter)
}

func (r *recordReader) mfa() MFAState {
	return MFAState{
		Current:         r.str(),
		CurrentCounter:  r.u64(),
		Previous:        r.str(),
		PreviousCounter: r.u64(),
	}
}

func encodeAccount(a *Account) ([]byte, error) {
	w := newRecordWriter(accountRecordVersion)
	w.str(a.ID)
	w.str(a.Email)
	w.hashConfig(a.PasswordConfig)
	w.str(a.PasswordHash)
	w.mfa(a.MFA)
	w.time(a.CreatedAt)
	w.time(a.ExpiresAt)
	return w.bytes()
}

func decodeAccount(data []byte) (*Account, error) {
	r, err := newRecordReader(data, accountRecordVersion)
	if err != nil {
		return nil, err
	}
	a := &Account{
		ID:             r.str(),
		Email:          r.str(),
		PasswordConfig: r.hashConfig(),
		PasswordHash:   r.str(),
		MFA:            r.mfa(),
		CreatedAt:      r.time(),
		ExpiresAt:      r.time(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return a, nil
}
