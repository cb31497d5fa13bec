package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/internal"
	"github.com/MrEthical07/opentoken/store"
)

const challengeRecordVersion = 1

// ChallengeConfig configures a ChallengeStore.
type ChallengeConfig struct {
	Prefix     string
	IDLength   int
	Lifetime   time.Duration
	Response   hash.Config
	MaxRetries int
}

// Challenge is one issued challenge.
type Challenge struct {
	ID      string
	Expires time.Time
}

// ChallengeStore keeps one list of live challenges per account.
type ChallengeStore struct {
	kv    store.Store
	keyer *hash.Keyer
	cfg   ChallengeConfig
	now   func() time.Time
}

func NewChallengeStore(kv store.Store, keyer *hash.Keyer, cfg ChallengeConfig) *ChallengeStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "challenge"
	}
	if cfg.IDLength == 0 {
		cfg.IDLength = 32
	}
	if cfg.Lifetime == 0 {
		cfg.Lifetime = 5 * time.Minute
	}
	return &ChallengeStore{kv: kv, keyer: keyer, cfg: cfg, now: time.Now}
}

func (s *ChallengeStore) SetClock(now func() time.Time) {
	s.now = now
}

// ChallengeResponse computes the value a client proves possession of the
// password hash with: hash(passwordHash + challengeID).
func ChallengeResponse(passwordHash, challengeID string, cfg hash.Config) (string, error) {
	return hash.Sum([]byte(passwordHash+challengeID), cfg)
}

// Create issues a new challenge for accountID and appends it to the list.
func (s *ChallengeStore) Create(ctx context.Context, accountID string) (Challenge, error) {
	if accountID == "" {
		return Challenge{}, ErrInvalidInput
	}
	key, err := s.keyer.Key(s.cfg.Prefix, accountID)
	if err != nil {
		return Challenge{}, err
	}
	id, err := internal.NewID(s.cfg.IDLength)
	if err != nil {
		return Challenge{}, err
	}

	now := s.now()
	issued := Challenge{ID: id, Expires: now.Add(s.cfg.Lifetime)}

	err = mutate(ctx, s.kv, key, s.cfg.MaxRetries, func(current []byte) ([]byte, time.Time, error) {
		list := prune(decodeChallengesLenient(current), now)
		list = append(list, issued)
		return encodeChallenges(list, now)
	})
	if err != nil {
		return Challenge{}, err
	}
	return issued, nil
}

// Validate consumes the live challenge whose expected response equals
// claimed. Nothing is written when no entry matches.
func (s *ChallengeStore) Validate(ctx context.Context, accountID, passwordHash, claimed string) error {
	if accountID == "" || passwordHash == "" || claimed == "" {
		return ErrInvalidInput
	}
	key, err := s.keyer.Key(s.cfg.Prefix, accountID)
	if err != nil {
		return err
	}

	now := s.now()
	return mutate(ctx, s.kv, key, s.cfg.MaxRetries, func(current []byte) ([]byte, time.Time, error) {
		list := prune(decodeChallengesLenient(current), now)

		match := -1
		for i, c := range list {
			expected, err := ChallengeResponse(passwordHash, c.ID, s.cfg.Response)
			if err != nil {
				return nil, time.Time{}, err
			}
			if subtle.ConstantTimeCompare([]byte(expected), []byte(claimed)) == 1 {
				match = i
			}
		}
		if match < 0 {
			return nil, time.Time{}, ErrNoMatch
		}

		list = append(list[:match], list[match+1:]...)
		return encodeChallenges(list, now)
	})
}

// Live returns the unexpired challenges of accountID.
func (s *ChallengeStore) Live(ctx context.Context, accountID string) ([]Challenge, error) {
	if accountID == "" {
		return nil, ErrInvalidInput
	}
	key, err := s.keyer.Key(s.cfg.Prefix, accountID)
	if err != nil {
		return nil, err
	}
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	list, err := decodeChallenges(data)
	if err != nil {
		return nil, err
	}
	return prune(list, s.now()), nil
}

func prune(list []Challenge, now time.Time) []Challenge {
	out := list[:0]
	for _, c := range list {
		if !store.Expired(c.Expires, now) {
			out = append(out, c)
		}
	}
	return out
}

// encodeChallenges returns a nil blob for an empty list so the record is
// deleted. The record expires with its last challenge.
func encodeChallenges(list []Challenge, now time.Time) ([]byte, time.Time, error) {
	if len(list) == 0 {
		return nil, time.Time{}, nil
	}
	if len(list) > 0xFFFF {
		return nil, time.Time{}, errFieldTooLong
	}

	latest := now
	w := newRecordWriter(challengeRecordVersion)
	w.u16(uint16(len(list)))
	for _, c := range list {
		w.str(c.ID)
		w.time(c.Expires)
		if c.Expires.After(latest) {
			latest = c.Expires
		}
	}
	data, err := w.bytes()
	return data, latest, err
}

func decodeChallenges(data []byte) ([]Challenge, error) {
	r, err := newRecordReader(data, challengeRecordVersion)
	if err != nil {
		return nil, err
	}
	n := r.u16()
	list := make([]Challenge, 0, n)
	for i := 0; i < int(n) && r.err == nil; i++ {
		list = append(list, Challenge{ID: r.str(), Expires: r.time()})
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return list, nil
}

// decodeChallengesLenient treats an absent or unreadable list as empty.
func decodeChallengesLenient(data []byte) []Challenge {
	if data == nil {
		return nil
	}
	list, err := decodeChallenges(data)
	if err != nil {
		return nil
	}
	return list
}
