package alice

import (
	"fmt"

	"vault-signal/crypto/key_ed25519"
	"vault-signal/crypto/signer_schnorr"
	"vault-signal/protocol"
)

// BobPrekeyBundle is the responder's published bundle as fetched from the directory.
type BobPrekeyBundle struct {
	IdentityKey   key_ed25519.PublicKey
	Prekey        key_ed25519.PublicKey
	PrekeySig     []byte
	OneTimePrekey *key_ed25519.PublicKey // optional
	KEMPrekey     []byte                 // optional, packed KEM public key
	KEMPrekeySig  []byte
}

// Result is what the initiator keeps after the agreement: the root key plus what goes in the first message's
// handshake block.
type Result struct {
	SharedKey      []byte
	EphemeralKey   key_ed25519.PublicKey
	OneTimePrekey  *key_ed25519.PublicKey
	KEMCiphertext  []byte
	AssociatedData []byte
}

// Verify checks every key in the bundle and both prekey signatures.
func (bob *BobPrekeyBundle) Verify() error {
	if err := bob.IdentityKey.Validate(); err != nil {
		return fmt.Errorf("%w: identity key: %v", protocol.ErrHandshake, err)
	}
	if err := bob.Prekey.Validate(); err != nil {
		return fmt.Errorf("%w: signed prekey: %v", protocol.ErrHandshake, err)
	}
	if err := signer_schnorr.Verify(bob.IdentityKey, bob.Prekey[:], bob.PrekeySig); err != nil {
		return fmt.Errorf("%w: signed prekey: %v", protocol.ErrHandshake, err)
	}
	if bob.OneTimePrekey != nil {
		if err := bob.OneTimePrekey.Validate(); err != nil {
			return fmt.Errorf("%w: one-time prekey: %v", protocol.ErrHandshake, err)
		}
	}
	if len(bob.KEMPrekey) > 0 {
		if err := signer_schnorr.Verify(bob.IdentityKey, bob.KEMPrekey, bob.KEMPrekeySig); err != nil {
			return fmt.Errorf("%w: kem prekey: %v", protocol.ErrHandshake, err)
		}
	}
	return nil
}
