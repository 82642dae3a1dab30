package signer_schnorr

import (
	"errors"

	"vault-signal/crypto/key_ed25519"

	"go.dedis.ch/kyber/v4/sign/schnorr"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
)

func Sign(privKey key_ed25519.PrivateKey, msg []byte) ([]byte, error) {
	privScalar, err := privKey.ToScalar()
	if err != nil {
		return nil, err
	}
	return schnorr.Sign(key_ed25519.Suite, privScalar, msg)
}

// Verify checks sig over msg; every failure is reported as ErrInvalidSignature.
func Verify(pubKey key_ed25519.PublicKey, msg, sig []byte) error {
	pubPoint, err := pubKey.ToPoint()
	if err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}
	if err := schnorr.Verify(key_ed25519.Suite, pubPoint, msg, sig); err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}
	return nil
}
