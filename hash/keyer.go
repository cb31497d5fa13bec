package hash

import (
	"errors"
	"fmt"
)

// Keyer derives storage keys from caller-supplied identifiers so raw
// identifiers never reach the backend.
type Keyer struct {
	cfg Config
}

// NewKeyer returns a Keyer for a deterministic config.
func NewKeyer(cfg Config) (*Keyer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Deterministic() {
		return nil, fmt.Errorf("%w: key derivation requires a fixed salt", ErrInvalidConfig)
	}
	if cfg.Encoding == "" {
		cfg.Encoding = Hex
	}
	return &Keyer{cfg: cfg}, nil
}

// Key returns prefix + ":" + hash(id).
func (k *Keyer) Key(prefix, id string) (string, error) {
	if k == nil {
		return "", errors.New("hash: nil keyer")
	}
	sum, err := Sum([]byte(id), k.cfg)
	if err != nil {
		return "", err
	}
	return prefix + ":" + sum, nil
}
