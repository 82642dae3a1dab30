// Package keystore owns the device's long-term identity key and its prekeys.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vault-signal/crypto/dh25519"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/crypto/signer_schnorr"
	"vault-signal/protocol"
	"vault-signal/protocol/x3dh"
	"vault-signal/store"

	"github.com/awnumar/memguard"
)

const (
	identityBucket = "identity"
	identityKey    = "self"
)

var (
	ErrWiped = errors.New("keystore: identity key wiped")
)

// IdentityKeyPair is the long-term identity key. The private half stays in a locked buffer and is only used
// through SharedSecret and Sign. Wipe waits for in-flight uses to finish.
type IdentityKeyPair struct {
	pub key_ed25519.PublicKey

	mu   sync.RWMutex
	priv *memguard.LockedBuffer
}

var _ x3dh.Identity = (*IdentityKeyPair)(nil)

func newIdentityKeyPair(priv *key_ed25519.PrivateKey) (*IdentityKeyPair, error) {
	pub, err := priv.Public()
	if err != nil {
		return nil, err
	}
	// NewBufferFromBytes wipes the source
	return &IdentityKeyPair{pub: *pub, priv: memguard.NewBufferFromBytes(priv[:])}, nil
}

func (k *IdentityKeyPair) PublicKey() key_ed25519.PublicKey {
	return k.pub
}

func (k *IdentityKeyPair) withPrivate(fn func(priv key_ed25519.PrivateKey) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.priv.IsAlive() {
		return ErrWiped
	}
	priv := key_ed25519.PrivateKey(k.priv.Bytes())
	defer priv.Wipe()
	return fn(priv)
}

func (k *IdentityKeyPair) SharedSecret(pub key_ed25519.PublicKey) (secret []byte, err error) {
	err = k.withPrivate(func(priv key_ed25519.PrivateKey) error {
		secret, err = dh25519.GetSharedSecret(priv, pub)
		return err
	})
	return secret, err
}

func (k *IdentityKeyPair) Sign(msg []byte) (sig []byte, err error) {
	err = k.withPrivate(func(priv key_ed25519.PrivateKey) error {
		sig, err = signer_schnorr.Sign(priv, msg)
		return err
	})
	return sig, err
}

// Wipe destroys the in-memory private key.
func (k *IdentityKeyPair) Wipe() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.priv.Destroy()
}

func (k *IdentityKeyPair) Wiped() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return !k.priv.IsAlive()
}

// IdentityKeyStore loads the identity key from the persistence collaborator, generating it on first use.
type IdentityKeyStore struct {
	kv store.KV

	mu   sync.Mutex
	pair *IdentityKeyPair

	newKey func() (*key_ed25519.PrivateKey, error)
}

func NewIdentityKeyStore(kv store.KV) *IdentityKeyStore {
	return &IdentityKeyStore{kv: kv, newKey: key_ed25519.New}
}

// LoadOrCreate returns the persisted identity key pair, or generates and persists a fresh one. After Wipe the key
// is loaded again from the store.
func (s *IdentityKeyStore) LoadOrCreate(ctx context.Context) (*IdentityKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pair != nil && !s.pair.Wiped() {
		return s.pair, nil
	}

	raw, err := s.kv.Get(ctx, identityBucket, identityKey)
	switch {
	case err == nil:
		defer memguard.WipeBytes(raw)
		priv, err := key_ed25519.PrivateKeyFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("keystore: stored identity key: %w", err)
		}
		if s.pair, err = newIdentityKeyPair(priv); err != nil {
			return nil, err
		}
		return s.pair, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	priv, err := s.newKey()
	if err != nil {
		return nil, fmt.Errorf("%w: identity key: %v", protocol.ErrKeyGeneration, err)
	}
	if err := s.kv.Put(ctx, identityBucket, identityKey, priv[:]); err != nil {
		priv.Wipe()
		return nil, err
	}
	if s.pair, err = newIdentityKeyPair(priv); err != nil {
		return nil, err
	}
	return s.pair, nil
}

// Wipe clears the in-memory private key. Persisted key material is left alone.
func (s *IdentityKeyStore) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair != nil {
		s.pair.Wipe()
		s.pair = nil
	}
}
