// Package x3dh holds what the initiator and responder sides of the X3DH key agreement share.
//
// https://signal.org/docs/specifications/x3dh/
// Terminology:
// - Alice: initiator
// - Bob: responder
package x3dh

import (
	"bytes"
	"fmt"

	"vault-signal/configs"
	"vault-signal/crypto"
	"vault-signal/crypto/dh25519"
	"vault-signal/crypto/hkdf"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/crypto/signer_schnorr"

	"github.com/awnumar/memguard"
)

// Identity is a long-term identity key that can sign and run DH without handing out its private half.
type Identity interface {
	PublicKey() key_ed25519.PublicKey
	SharedSecret(pub key_ed25519.PublicKey) ([]byte, error)
	Sign(msg []byte) ([]byte, error)
}

// DHStep computes one DH output of the agreement.
type DHStep func() ([]byte, error)

// ComputeDHs runs the steps in order. If one fails, every output computed before it is wiped.
func ComputeDHs(steps ...DHStep) ([][]byte, error) {
	dhs := make([][]byte, 0, len(steps))
	for i, step := range steps {
		dh, err := step()
		if err != nil {
			WipeDHs(dhs)
			return nil, fmt.Errorf("dh%d: %w", i+1, err)
		}
		dhs = append(dhs, dh)
	}
	return dhs, nil
}

func WipeDHs(dhs [][]byte) {
	for _, dh := range dhs {
		memguard.WipeBytes(dh)
	}
}

// DeriveSharedKey hashes the concatenated DH outputs into the 32-byte initial root key. The input is prefixed
// with 32 0xFF bytes and HKDF is salted with 32 zero bytes.
func DeriveSharedKey(dhs ...[]byte) ([]byte, error) {
	size := crypto.KeySize
	for _, dh := range dhs {
		size += len(dh)
	}
	km := make([]byte, 0, size)
	km = append(km, bytes.Repeat([]byte{0xff}, crypto.KeySize)...)
	for _, dh := range dhs {
		km = append(km, dh...)
	}
	defer memguard.WipeBytes(km)

	return hkdf.New32BytesKeyFromSecret(km, make([]byte, crypto.KeySize), configs.X3DHInfo)
}

// AssociatedData binds both identities to every message of the session: initiator key first.
func AssociatedData(initiator, responder key_ed25519.PublicKey) []byte {
	ad := make([]byte, 0, 2*key_ed25519.Size)
	ad = append(ad, initiator[:]...)
	return append(ad, responder[:]...)
}

// PairIdentity is an Identity backed by an in-memory key pair.
type PairIdentity struct {
	Pair key_ed25519.Pair
}

var _ Identity = (*PairIdentity)(nil)

func (p *PairIdentity) PublicKey() key_ed25519.PublicKey {
	return p.Pair.Pub
}

func (p *PairIdentity) SharedSecret(pub key_ed25519.PublicKey) ([]byte, error) {
	return dh25519.GetSharedSecret(p.Pair.Priv, pub)
}

func (p *PairIdentity) Sign(msg []byte) ([]byte, error) {
	return signer_schnorr.Sign(p.Pair.Priv, msg)
}
