package stores

import (
	"context"
	"time"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/store"
)

const registrationRecordVersion = 1

// Registration is a signup that has not been confirmed yet.
type Registration struct {
	ID             string
	Email          string
	PasswordConfig hash.Config
	PasswordHash   string
	MFASecret      string
	MFACounter     uint64
	ConfirmCode    string
	Secured        bool
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// RegistrationStore persists registrations keyed by hash(regID).
type RegistrationStore struct {
	kv         store.Store
	keyer      *hash.Keyer
	prefix     string
	maxRetries int
	now        func() time.Time
}

func NewRegistrationStore(kv store.Store, keyer *hash.Keyer, prefix string, maxRetries int) *RegistrationStore {
	if prefix == "" {
		prefix = "registration"
	}
	return &RegistrationStore{kv: kv, keyer: keyer, prefix: prefix, maxRetries: maxRetries, now: time.Now}
}

func (s *RegistrationStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *RegistrationStore) Create(ctx context.Context, reg *Registration) error {
	if reg == nil || reg.ID == "" {
		return ErrInvalidInput
	}
	key, err := s.keyer.Key(s.prefix, reg.ID)
	if err != nil {
		return err
	}
	data, err := encodeRegistration(reg)
	if err != nil {
		return err
	}
	return create(ctx, s.kv, key, data, reg.ExpiresAt)
}

func (s *RegistrationStore) Get(ctx context.Context, regID string) (*Registration, error) {
	if regID == "" {
		return nil, ErrInvalidInput
	}
	key, err := s.keyer.Key(s.prefix, regID)
	if err != nil {
		return nil, err
	}
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	reg, err := decodeRegistration(data)
	if err != nil {
		return nil, err
	}
	if reg.ID != regID || store.Expired(reg.ExpiresAt, s.now()) {
		return nil, store.ErrNotFound
	}
	return reg, nil
}

// Update applies fn under compare-and-swap when available. The expiry is
// never extended past the stored one.
func (s *RegistrationStore) Update(ctx context.Context, regID string, fn func(*Registration) error) (*Registration, error) {
	if regID == "" || fn == nil {
		return nil, ErrInvalidInput
	}
	key, err := s.keyer.Key(s.prefix, regID)
	if err != nil {
		return nil, err
	}

	var updated *Registration
	err = mutate(ctx, s.kv, key, s.maxRetries, func(current []byte) ([]byte, time.Time, error) {
		if current == nil {
			return nil, time.Time{}, store.ErrNotFound
		}
		reg, err := decodeRegistration(current)
		if err != nil {
			return nil, time.Time{}, err
		}
		if reg.ID != regID || store.Expired(reg.ExpiresAt, s.now()) {
			return nil, time.Time{}, store.ErrNotFound
		}
		expires := reg.ExpiresAt
		if err := fn(reg); err != nil {
			return nil, time.Time{}, err
		}
		reg.ID = regID
		reg.ExpiresAt = expires
		next, err := encodeRegistration(reg)
		if err != nil {
			return nil, time.Time{}, err
		}
		updated = reg
		return next, expires, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Consume deletes the registration if fn accepts it. fn sees the stored
// record; an error from fn leaves the record in place.
func (s *RegistrationStore) Consume(ctx context.Context, regID string, fn func(*Registration) error) (*Registration, error) {
	if regID == "" || fn == nil {
		return nil, ErrInvalidInput
	}
	key, err := s.keyer.Key(s.prefix, regID)
	if err != nil {
		return nil, err
	}

	var consumed *Registration
	err = mutate(ctx, s.kv, key, s.maxRetries, func(current []byte) ([]byte, time.Time, error) {
		if current == nil {
			return nil, time.Time{}, store.ErrNotFound
		}
		reg, err := decodeRegistration(current)
		if err != nil {
			return nil, time.Time{}, err
		}
		if reg.ID != regID || store.Expired(reg.ExpiresAt, s.now()) {
			return nil, time.Time{}, store.ErrNotFound
		}
		if err := fn(reg); err != nil {
			return nil, time.Time{}, err
		}
		consumed = reg
		return nil, time.Time{}, nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

func (s *RegistrationStore) Delete(ctx context.Context, regID string) error {
	if regID == "" {
		return ErrInvalidInput
	}
	key, err := s.keyer.Key(s.prefix, regID)
	if err != nil {
		return err
	}
	return s.kv.Delete(ctx, key)
}

func encodeRegistration(reg *Registration) ([]byte, error) {
	w := newRecordWriter(registrationRecordVersion)
	w.str(reg.ID)
	w.str(reg.Email)
	w.hashConfig(reg.PasswordConfig)
	w.str(reg.PasswordHash)
	w.str(reg.MFASecret)
	w.u64(reg.MFACounter)
	w.str(reg.ConfirmCode)
	w.bool(reg.Secured)
	w.time(reg.CreatedAt)
	w.time(reg.ExpiresAt)
	return w.bytes()
}

func decodeRegistration(data []byte) (*Registration, error) {
	r, err := newRecordReader(data, registrationRecordVersion)
	if err != nil {
		return nil, err
	}
	reg := &Registration{
		ID:             r.str(),
		Email:          r.str(),
		PasswordConfig: r.hashConfig(),
		PasswordHash:   r.str(),
		MFASecret:      r.str(),
		MFACounter:     r.u64(),
		ConfirmCode:    r.str(),
		Secured:        r.bool(),
		CreatedAt:      r.time(),
		ExpiresAt:      r.time(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return reg, nil
}
