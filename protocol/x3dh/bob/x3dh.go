package bob

import (
	"fmt"

	"vault-signal/crypto/dh25519"
	"vault-signal/protocol"
	"vault-signal/protocol/hybrid"
	"vault-signal/protocol/x3dh"

	"github.com/awnumar/memguard"
)

// https://signal.org/docs/specifications/x3dh/
// Terminology:
// - Alice: sender
// - Bob: receiver

// PerformKeyAgreement runs the responder side and returns the root key and the session associated data. A
// handshake with a KEM ciphertext needs hx and a KEM prekey; with hx set, a handshake without one is refused.
func PerformKeyAgreement(bob *BobPrekeyBundle, alice *ReceivedAliceKeyBundle, hx *hybrid.Exchange) (key, ad []byte, err error) {
	hasKEM := len(alice.KEMCiphertext) > 0
	switch {
	case hasKEM && (hx == nil || len(bob.KEMPrekey) == 0):
		return nil, nil, fmt.Errorf("%w: unexpected kem ciphertext", protocol.ErrHandshake)
	case !hasKEM && hx != nil:
		return nil, nil, fmt.Errorf("%w: missing kem ciphertext", protocol.ErrHandshake)
	}

	// 1. Bob computes the DH outputs
	steps := []x3dh.DHStep{
		func() ([]byte, error) { return dh25519.GetSharedSecret(bob.Prekey.Priv, alice.IdentityKey) },
		func() ([]byte, error) { return bob.Identity.SharedSecret(alice.EphemeralKey) },
		func() ([]byte, error) { return dh25519.GetSharedSecret(bob.Prekey.Priv, alice.EphemeralKey) },
	}
	if otk := bob.OneTimePrekey; otk != nil {
		// Alice used Bob's one-time key
		steps = append(steps, func() ([]byte, error) { return dh25519.GetSharedSecret(otk.Priv, alice.EphemeralKey) })
	}
	dhs, err := x3dh.ComputeDHs(steps...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", protocol.ErrHandshake, err)
	}
	defer x3dh.WipeDHs(dhs)

	// 2. Bob derives the key
	key, err = x3dh.DeriveSharedKey(dhs...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", protocol.ErrHandshake, err)
	}
	if hasKEM {
		combined, err := hx.Decapsulate(key, bob.KEMPrekey, alice.KEMCiphertext)
		memguard.WipeBytes(key)
		if err != nil {
			return nil, nil, err
		}
		key = combined
	}
	return key, x3dh.AssociatedData(alice.IdentityKey, bob.Identity.PublicKey()), nil
}
