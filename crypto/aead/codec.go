// Package aead seals message payloads with a fresh random nonce per call. Callers can never supply a nonce for
// sealing, so a nonce is never reused under one key except by RNG collision.
package aead

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"vault-signal/configs"
	"vault-signal/crypto/aes256"
	"vault-signal/protocol"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrKeyLength     = errors.New("aead: invalid key length")
	ErrUnknownCipher = errors.New("aead: unknown cipher")
)

// Sealed is the output of Seal: nonce, ciphertext and detached tag.
type Sealed struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte
	Tag        [TagSize]byte
}

type Codec interface {
	Name() string
	// Seal encrypts plaintext under key with a fresh random nonce, authenticating associatedData.
	Seal(key, plaintext, associatedData []byte) (*Sealed, error)
	// Open verifies and decrypts. Any failure is protocol.ErrAuthentication.
	Open(key []byte, sealed *Sealed, associatedData []byte) ([]byte, error)
}

type codec struct {
	name    string
	newAEAD func(key []byte) (cipher.AEAD, error)
	rand    io.Reader
}

var _ Codec = (*codec)(nil)

// New returns the codec registered under name.
func New(name string) (Codec, error) {
	switch name {
	case configs.CipherChaCha20Poly1305:
		return &codec{name: name, newAEAD: chacha20poly1305.New, rand: rand.Reader}, nil
	case configs.CipherAES256GCM:
		return &codec{name: name, newAEAD: aes256.NewGCM, rand: rand.Reader}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, name)
}

// Default returns the ChaCha20-Poly1305 codec.
func Default() Codec {
	c, _ := New(configs.CipherChaCha20Poly1305)
	return c
}

func (c *codec) Name() string {
	return c.name
}

func (c *codec) Seal(key, plaintext, associatedData []byte) (*Sealed, error) {
	if len(key) != KeySize {
		return nil, ErrKeyLength
	}
	a, err := c.newAEAD(key)
	if err != nil {
		return nil, err
	}

	var out Sealed
	if _, err := io.ReadFull(c.rand, out.Nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", protocol.ErrKeyGeneration, err)
	}

	sealed := a.Seal(nil, out.Nonce[:], plaintext, associatedData)
	split := len(sealed) - TagSize
	out.Ciphertext = sealed[:split:split]
	copy(out.Tag[:], sealed[split:])
	return &out, nil
}

func (c *codec) Open(key []byte, sealed *Sealed, associatedData []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: %w", protocol.ErrAuthentication, ErrKeyLength)
	}
	if sealed == nil {
		return nil, protocol.ErrAuthentication
	}
	a, err := c.newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrAuthentication, err)
	}

	buf := make([]byte, 0, len(sealed.Ciphertext)+TagSize)
	buf = append(buf, sealed.Ciphertext...)
	buf = append(buf, sealed.Tag[:]...)
	plaintext, err := a.Open(nil, sealed.Nonce[:], buf, associatedData)
	if err != nil {
		return nil, protocol.ErrAuthentication
	}
	return plaintext, nil
}
