package alice

import (
	"fmt"

	"vault-signal/crypto/dh25519"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/protocol"
	"vault-signal/protocol/hybrid"
	"vault-signal/protocol/x3dh"

	"github.com/awnumar/memguard"
)

// https://signal.org/docs/specifications/x3dh/
// Terminology:
// - Alice: sender
// - Bob: receiver

// PerformKeyAgreement runs the initiator side against bob's bundle. When hx is set the bundle must carry a signed
// KEM prekey and the classical secret is combined with a fresh KEM secret.
func PerformKeyAgreement(bob *BobPrekeyBundle, identity x3dh.Identity, hx *hybrid.Exchange) (*Result, error) {
	// 1. Alice verifies Bob's signatures
	if err := bob.Verify(); err != nil {
		return nil, err
	}
	if hx != nil && len(bob.KEMPrekey) == 0 {
		return nil, fmt.Errorf("%w: bundle has no kem prekey", protocol.ErrHandshake)
	}

	// 2. Alice generates an ephemeral key pair
	eph, err := key_ed25519.NewPair()
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %v", protocol.ErrKeyGeneration, err)
	}
	defer eph.Wipe()

	// 3. Alice computes the DH outputs
	steps := []x3dh.DHStep{
		func() ([]byte, error) { return identity.SharedSecret(bob.Prekey) },
		func() ([]byte, error) { return dh25519.GetSharedSecret(eph.Priv, bob.IdentityKey) },
		func() ([]byte, error) { return dh25519.GetSharedSecret(eph.Priv, bob.Prekey) },
	}
	if otk := bob.OneTimePrekey; otk != nil {
		steps = append(steps, func() ([]byte, error) { return dh25519.GetSharedSecret(eph.Priv, *otk) })
	}
	dhs, err := x3dh.ComputeDHs(steps...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrHandshake, err)
	}
	defer x3dh.WipeDHs(dhs)

	// 4. Alice derives the key
	sk, err := x3dh.DeriveSharedKey(dhs...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrHandshake, err)
	}

	res := &Result{
		SharedKey:      sk,
		EphemeralKey:   eph.Pub,
		OneTimePrekey:  bob.OneTimePrekey,
		AssociatedData: x3dh.AssociatedData(identity.PublicKey(), bob.IdentityKey),
	}

	// 5. Optionally mix in the KEM secret
	if hx != nil {
		ct, combined, err := hx.Encapsulate(sk, bob.KEMPrekey)
		memguard.WipeBytes(sk)
		if err != nil {
			return nil, err
		}
		res.SharedKey = combined
		res.KEMCiphertext = ct
	}
	return res, nil
}
