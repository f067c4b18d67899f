// Package secrets resolves key-encryption keys for table encryption.
package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/zeebo/errs"
	"golang.org/x/crypto/hkdf"

	"portal/internal/config"
)

const (
	// KeySize is the length of every key this package returns.
	KeySize = 32

	derivedKeyInfo = "entitymeta-table-kek-v1:"
)

var (
	// Error classes key material and configuration problems.
	Error = errs.Class("secrets")
	// ErrUnknownKey classes key ids a resolver has no material for.
	ErrUnknownKey = errs.Class("unknown key")
)

// StaticResolver serves fixed keys.
type StaticResolver struct {
	keys map[string][]byte
}

// NewStaticResolver decodes base64 keys by id. Every key must be KeySize bytes.
func NewStaticResolver(encoded map[string]string) (*StaticResolver, error) {
	keys := make(map[string][]byte, len(encoded))
	for id, value := range encoded {
		key, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, Error.New("key %q: %v", id, err)
		}
		if len(key) != KeySize {
			return nil, Error.New("key %q: %d bytes, want %d", id, len(key), KeySize)
		}
		keys[id] = key
	}
	return &StaticResolver{keys: keys}, nil
}

func (r *StaticResolver) ResolveKey(_ context.Context, keyID string) ([]byte, error) {
	key, ok := r.keys[keyID]
	if !ok {
		return nil, ErrUnknownKey.New("%q", keyID)
	}
	return append([]byte(nil), key...), nil
}

// DerivedResolver derives a key per id from one master secret with
// HKDF-SHA256, so rotating to a new id needs no new secret material.
type DerivedResolver struct {
	master []byte
	salt   []byte
}

func NewDerivedResolver(master, salt []byte) (*DerivedResolver, error) {
	if len(master) == 0 {
		return nil, Error.New("master secret must not be empty")
	}
	return &DerivedResolver{master: master, salt: salt}, nil
}

func (r *DerivedResolver) ResolveKey(_ context.Context, keyID string) ([]byte, error) {
	if keyID == "" {
		return nil, ErrUnknownKey.New("empty id")
	}
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, r.master, r.salt, []byte(derivedKeyInfo+keyID)), out); err != nil {
		return nil, Error.New("derive key %q: %v", keyID, err)
	}
	return out, nil
}

// Resolver is satisfied by every resolver in this package.
type Resolver interface {
	ResolveKey(ctx context.Context, keyID string) ([]byte, error)
}

// Chain tries each resolver in order and returns the first key found.
type Chain []Resolver

func (c Chain) ResolveKey(ctx context.Context, keyID string) ([]byte, error) {
	for _, r := range c {
		key, err := r.ResolveKey(ctx, keyID)
		if err == nil {
			return key, nil
		}
		if !ErrUnknownKey.Has(err) {
			return nil, err
		}
	}
	return nil, ErrUnknownKey.New("%q", keyID)
}

// FromConfig builds the resolver described by cfg: static keys first, then
// keys derived from the master secret when one is set.
func FromConfig(cfg config.EncryptionConfig) (Resolver, error) {
	var chain Chain
	if len(cfg.Keys) > 0 {
		static, err := NewStaticResolver(cfg.Keys)
		if err != nil {
			return nil, err
		}
		chain = append(chain, static)
	}
	if cfg.MasterSecret != "" {
		derived, err := NewDerivedResolver([]byte(cfg.MasterSecret), nil)
		if err != nil {
			return nil, err
		}
		chain = append(chain, derived)
	}
	if len(chain) == 0 {
		return nil, Error.New("no encryption keys configured")
	}
	return chain, nil
}
