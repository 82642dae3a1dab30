package dh25519

import (
	"errors"

	"vault-signal/crypto/key_ed25519"
)

var (
	ErrInvalid = errors.New("invalid input")
	// ErrWeakSecret is returned when the shared point is the identity, i.e. the peer key has small order
	ErrWeakSecret = errors.New("weak shared secret")
)

// GetSharedSecret returns the 32-byte encoding of priv * pub.
func GetSharedSecret(priv key_ed25519.PrivateKey, pub key_ed25519.PublicKey) ([]byte, error) {
	privScalar, err := priv.ToScalar()
	if err != nil {
		return nil, errors.Join(ErrInvalid, err)
	}
	pubPoint, err := pub.ToPoint()
	if err != nil {
		return nil, errors.Join(ErrInvalid, err)
	}
	secretPoint := key_ed25519.Suite.Point().Mul(privScalar, pubPoint)
	if secretPoint.Equal(key_ed25519.Suite.Point().Null()) {
		return nil, ErrWeakSecret
	}
	return secretPoint.MarshalBinary()
}
