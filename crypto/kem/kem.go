// Package kem selects the post-quantum KEM used by the hybrid key exchange.
package kem

import (
	"errors"
	"fmt"

	"vault-signal/configs"

	"github.com/awnumar/memguard"
	"github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/kem/mlkem768"
	"github.com/katzenpost/hpqc/kem/xwing"
)

var (
	ErrUnknownScheme = errors.New("kem: unknown scheme")
)

// Scheme is the KEM interface shared by every registered scheme.
type Scheme = kem.Scheme

// ByName returns the scheme configured under name.
func ByName(name string) (Scheme, error) {
	switch name {
	case configs.KEMMLKEM768:
		return mlkem768.Scheme(), nil
	case configs.KEMXWing:
		return xwing.Scheme(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
}

// KeyPair holds a KEM key pair in its packed binary form.
type KeyPair struct {
	Public  []byte
	Private []byte
}

func GenerateKeyPair(s Scheme) (*KeyPair, error) {
	pub, priv, err := s.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pubBytes, Private: privBytes}, nil
}

// Wipe zeroes the private key.
func (kp *KeyPair) Wipe() {
	memguard.WipeBytes(kp.Private)
}

// Encapsulate generates a shared secret for the packed public key.
func Encapsulate(s Scheme, public []byte) (ciphertext, sharedSecret []byte, err error) {
	if len(public) != s.PublicKeySize() {
		return nil, nil, kem.ErrPubKeySize
	}
	pk, err := s.UnmarshalBinaryPublicKey(public)
	if err != nil {
		return nil, nil, err
	}
	return s.Encapsulate(pk)
}

// Decapsulate recovers the shared secret from ciphertext with the packed private key.
func Decapsulate(s Scheme, private, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != s.CiphertextSize() {
		return nil, kem.ErrCiphertextSize
	}
	if len(private) != s.PrivateKeySize() {
		return nil, kem.ErrPrivKeySize
	}
	sk, err := s.UnmarshalBinaryPrivateKey(private)
	if err != nil {
		return nil, err
	}
	return s.Decapsulate(sk, ciphertext)
}
