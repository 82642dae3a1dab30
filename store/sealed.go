package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"vault-signal/configs"
	"vault-signal/crypto/aead"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
)

const (
	sealedBucket = "sealed"
	saltKey      = "salt"
	checkKey     = "check"
	saltSize     = 16
)

var (
	ErrWrongPassphrase = errors.New("store: wrong passphrase")
	ErrCorrupt         = errors.New("store: corrupt sealed value")

	checkValue = []byte("vault-signal")
)

type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

var DefaultArgon2Params = Argon2Params{Time: 1, Memory: 64 * 1024, Threads: 4}

// Sealed encrypts every value before handing it to the inner store. The key is derived from a passphrase with
// argon2id; the salt lives unencrypted in the inner store. Values are bound to their bucket and key.
type Sealed struct {
	inner KV
	codec aead.Codec
	key   *memguard.LockedBuffer
}

var _ KV = (*Sealed)(nil)

// NewSealed derives the store key. The first call against an empty inner store creates the salt and a check
// value; later calls with a different passphrase fail with ErrWrongPassphrase.
func NewSealed(ctx context.Context, inner KV, passphrase []byte, params Argon2Params, codec aead.Codec) (*Sealed, error) {
	if codec == nil {
		codec = aead.Default()
	}
	salt, fresh, err := loadOrCreateSalt(ctx, inner)
	if err != nil {
		return nil, err
	}

	s := &Sealed{
		inner: inner,
		codec: codec,
		key:   memguard.NewBufferFromBytes(argon2.IDKey(passphrase, salt, params.Time, params.Memory, params.Threads, aead.KeySize)),
	}

	if fresh {
		if err := s.Put(ctx, sealedBucket, checkKey, checkValue); err != nil {
			s.key.Destroy()
			return nil, err
		}
		return s, nil
	}
	if _, err := s.Get(ctx, sealedBucket, checkKey); err != nil {
		s.key.Destroy()
		if errors.Is(err, ErrCorrupt) {
			return nil, ErrWrongPassphrase
		}
		return nil, err
	}
	return s, nil
}

func loadOrCreateSalt(ctx context.Context, inner KV) (salt []byte, fresh bool, err error) {
	salt, err = inner.Get(ctx, sealedBucket, saltKey)
	switch {
	case err == nil:
		if len(salt) != saltSize {
			return nil, false, ErrCorrupt
		}
		return salt, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, false, err
	}
	if err := inner.Put(ctx, sealedBucket, saltKey, salt); err != nil {
		return nil, false, err
	}
	return salt, true, nil
}

func associatedData(bucket, key string) []byte {
	ad := make([]byte, 0, len(configs.SealedStoreAAD)+len(bucket)+len(key)+1)
	ad = append(ad, configs.SealedStoreAAD...)
	ad = append(ad, bucket...)
	ad = append(ad, 0)
	return append(ad, key...)
}

func (s *Sealed) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	raw, err := s.inner.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize+aead.TagSize {
		return nil, ErrCorrupt
	}
	var sealed aead.Sealed
	copy(sealed.Nonce[:], raw)
	copy(sealed.Tag[:], raw[aead.NonceSize:])
	sealed.Ciphertext = raw[aead.NonceSize+aead.TagSize:]

	value, err := s.codec.Open(s.key.Bytes(), &sealed, associatedData(bucket, key))
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrCorrupt, bucket, key)
	}
	return value, nil
}

func (s *Sealed) Put(ctx context.Context, bucket, key string, value []byte) error {
	sealed, err := s.codec.Seal(s.key.Bytes(), value, associatedData(bucket, key))
	if err != nil {
		return err
	}
	raw := make([]byte, 0, aead.NonceSize+aead.TagSize+len(sealed.Ciphertext))
	raw = append(raw, sealed.Nonce[:]...)
	raw = append(raw, sealed.Tag[:]...)
	raw = append(raw, sealed.Ciphertext...)
	return s.inner.Put(ctx, bucket, key, raw)
}

func (s *Sealed) Delete(ctx context.Context, bucket, key string) error {
	return s.inner.Delete(ctx, bucket, key)
}

// Close destroys the derived key and closes the inner store.
func (s *Sealed) Close() error {
	s.key.Destroy()
	return s.inner.Close()
}
