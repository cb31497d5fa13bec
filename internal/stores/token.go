package stores

import (
	"context"
	"time"

	"github.com/MrEthical07/opentoken/hash"
	"github.com/MrEthical07/opentoken/internal"
	"github.com/MrEthical07/opentoken/store"
)

const tokenRecordVersion = 1

// TokenConfig configures a TokenStore.
type TokenConfig struct {
	Prefix   string
	IDLength int
	Lifetime time.Duration
	MaxSize  int
}

// Token is an opaque client payload owned by one account.
type Token struct {
	ID          string
	AccountID   string
	ContentType string
	Data        []byte
	Public      bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// TokenStore persists tokens keyed by hash(accountID + "/" + tokenID).
type TokenStore struct {
	kv    store.Store
	keyer *hash.Keyer
	cfg   TokenConfig
	now   func() time.Time
}

func NewTokenStore(kv store.Store, keyer *hash.Keyer, cfg TokenConfig) *TokenStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "token"
	}
	if cfg.IDLength == 0 {
		cfg.IDLength = 32
	}
	if cfg.Lifetime == 0 {
		cfg.Lifetime = 24 * time.Hour
	}
	return &TokenStore{kv: kv, keyer: keyer, cfg: cfg, now: time.Now}
}

func (s *TokenStore) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores data under a fresh id. A zero lifetime uses the configured default.
func (s *TokenStore) Create(
	ctx context.Context,
	accountID string,
	data []byte,
	contentType string,
	public bool,
	lifetime time.Duration,
) (*Token, error) {
	if accountID == "" {
		return nil, ErrInvalidInput
	}
	if s.cfg.MaxSize > 0 && len(data) > s.cfg.MaxSize {
		return nil, ErrPayloadTooLarge
	}
	if lifetime <= 0 || lifetime > s.cfg.Lifetime {
		lifetime = s.cfg.Lifetime
	}

	id, err := internal.NewID(s.cfg.IDLength)
	if err != nil {
		return nil, err
	}
	key, err := s.key(accountID, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	tok := &Token{
		ID:          id,
		AccountID:   accountID,
		ContentType: contentType,
		Data:        store.Clone(data),
		Public:      public,
		CreatedAt:   now,
		ExpiresAt:   now.Add(lifetime),
	}
	encoded, err := encodeToken(tok)
	if err != nil {
		return nil, err
	}
	if err := s.kv.Put(ctx, key, encoded, tok.ExpiresAt); err != nil {
		return nil, err
	}
	return tok, nil
}

// Get returns store.ErrNotFound for absent, expired, or foreign tokens.
func (s *TokenStore) Get(ctx context.Context, accountID, tokenID string) (*Token, error) {
	if accountID == "" || tokenID == "" {
		return nil, ErrInvalidInput
	}
	key, err := s.key(accountID, tokenID)
	if err != nil {
		return nil, err
	}
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	tok, err := decodeToken(data)
	if err != nil {
		return nil, err
	}
	if tok.AccountID != accountID || store.Expired(tok.ExpiresAt, s.now()) {
		return nil, store.ErrNotFound
	}
	tok.ID = tokenID
	return tok, nil
}

// Delete is idempotent.
func (s *TokenStore) Delete(ctx context.Context, accountID, tokenID string) error {
	if accountID == "" || tokenID == "" {
		return ErrInvalidInput
	}
	key, err := s.key(accountID, tokenID)
	if err != nil {
		return err
	}
	return s.kv.Delete(ctx, key)
}

func (s *TokenStore) key(accountID, tokenID string) (string, error) {
	return s.keyer.Key(s.cfg.Prefix, accountID+"/"+tokenID)
}

func encodeToken(t *Token) ([]byte, error) {
	w := newRecordWriter(tokenRecordVersion)
	w.str(t.AccountID)
	w.str(t.ContentType)
	w.bool(t.Public)
	w.time(t.CreatedAt)
	w.time(t.ExpiresAt)
	w.blob(t.Data)
	return w.bytes()
}

func decodeToken(data []byte) (*Token, error) {
	r, err := newRecordReader(data, tokenRecordVersion)
	if err != nil {
		return nil, err
	}
	t := &Token{
		AccountID:   r.str(),
		ContentType: r.str(),
		Public:      r.bool(),
		CreatedAt:   r.time(),
		ExpiresAt:   r.time(),
		Data:        r.blob(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return t, nil
}
