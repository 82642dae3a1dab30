// Package hybrid hardens a classical shared secret with a post-quantum KEM secret. Recovering the combined secret
// requires breaking both primitives.
package hybrid

import (
	"crypto/subtle"
	"fmt"

	"vault-signal/configs"
	"vault-signal/crypto/hkdf"
	"vault-signal/crypto/kem"
	"vault-signal/protocol"

	"github.com/awnumar/memguard"
)

// Combine concatenates both secrets and runs them through one HKDF-SHA256 step.
func Combine(classical, postQuantum []byte) ([]byte, error) {
	if len(classical) == 0 {
		return nil, fmt.Errorf("%w: empty classical secret", protocol.ErrHandshake)
	}
	if isZero(postQuantum) {
		return nil, fmt.Errorf("%w: missing post-quantum secret", protocol.ErrHandshake)
	}

	ikm := make([]byte, 0, len(classical)+len(postQuantum))
	ikm = append(ikm, classical...)
	ikm = append(ikm, postQuantum...)
	defer memguard.WipeBytes(ikm)

	return hkdf.New32BytesKeyFromSecret(ikm, nil, configs.HybridInfo)
}

// isZero is true for empty or all-zero buffers.
func isZero(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare(b, make([]byte, len(b))) == 1
}

// Exchange runs the KEM half of the hybrid key exchange with a pluggable scheme.
type Exchange struct {
	scheme kem.Scheme
}

func New(scheme kem.Scheme) *Exchange {
	return &Exchange{scheme: scheme}
}

// NewFromConfig returns nil when hybrid mode is disabled.
func NewFromConfig(cfg configs.HybridConfig) (*Exchange, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	scheme, err := kem.ByName(cfg.KEM)
	if err != nil {
		return nil, err
	}
	return New(scheme), nil
}

func (x *Exchange) SchemeName() string {
	return x.scheme.Name()
}

func (x *Exchange) GenerateKeyPair() (*kem.KeyPair, error) {
	kp, err := kem.GenerateKeyPair(x.scheme)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrKeyGeneration, err)
	}
	return kp, nil
}

// Encapsulate encapsulates to the peer's KEM public key and combines the result with classical.
func (x *Exchange) Encapsulate(classical, peerPublic []byte) (ciphertext, secret []byte, err error) {
	ct, ss, err := kem.Encapsulate(x.scheme, peerPublic)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kem encapsulate: %v", protocol.ErrHandshake, err)
	}
	defer memguard.WipeBytes(ss)

	secret, err = Combine(classical, ss)
	if err != nil {
		return nil, nil, err
	}
	return ct, secret, nil
}

// Decapsulate recovers the KEM secret from ciphertext and combines it with classical.
func (x *Exchange) Decapsulate(classical, private, ciphertext []byte) ([]byte, error) {
	ss, err := kem.Decapsulate(x.scheme, private, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: kem decapsulate: %v", protocol.ErrHandshake, err)
	}
	defer memguard.WipeBytes(ss)

	return Combine(classical, ss)
}
