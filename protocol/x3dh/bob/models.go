package bob

import (
	"vault-signal/crypto/key_ed25519"
	"vault-signal/protocol/x3dh"
)

// BobPrekeyBundle is the private half of what the responder published.
type BobPrekeyBundle struct {
	Identity      x3dh.Identity
	Prekey        key_ed25519.Pair
	OneTimePrekey *key_ed25519.Pair // optional
	KEMPrekey     []byte            // optional, packed KEM private key
}

// ReceivedAliceKeyBundle is the handshake block of the initiator's first message.
type ReceivedAliceKeyBundle struct {
	IdentityKey   key_ed25519.PublicKey
	EphemeralKey  key_ed25519.PublicKey
	KEMCiphertext []byte
}

// Wipe zeroes the prekey material. The identity is owned elsewhere and left alone.
func (bob *BobPrekeyBundle) Wipe() {
	bob.Prekey.Wipe()
	if bob.OneTimePrekey != nil {
		bob.OneTimePrekey.Wipe()
	}
	clear(bob.KEMPrekey)
}
