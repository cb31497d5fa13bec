package session

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/store"
)

// ErrSessionNotFound is returned when a session is absent, expired, or owned
// by a different account.
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions on any store.Store backend. Keys are
// prefix + ":" + hash(sessionID).
type Store struct {
	kv     store.Store
	keyer  *hash.Keyer
	prefix string
	now    func() time.Time
}

// NewStore creates a session [Store].
func NewStore(kv store.Store, keyer *hash.Keyer, prefix string) *Store {
	if prefix == "" {
		prefix = "session"
	}
	return &Store{kv: kv, keyer: keyer, prefix: prefix, now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) key(sessionID string) (string, error) {
	return s.keyer.Key(s.prefix, sessionID)
}

// Save persists sess until sess.ExpiresAt.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.AccountID == "" {
		return errors.New("session id and account id are required")
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	key, err := s.key(sess.ID)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, key, data, time.Unix(sess.ExpiresAt, 0))
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	key, err := s.key(sessionID)
	if err != nil {
		return nil, err
	}

	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() >= sess.ExpiresAt {
		return nil, ErrSessionNotFound
	}
	sess.ID = sessionID
	return sess, nil
}

// Delete removes the session if it belongs to accountID. Deleting an absent
// session, or one owned by another account, succeeds without effect.
func (s *Store) Delete(ctx context.Context, accountID, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if sess.AccountID != accountID {
		return nil
	}
	key, err := s.key(sessionID)
	if err != nil {
		return err
	}
	return s.kv.Delete(ctx, key)
}
