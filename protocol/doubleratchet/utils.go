package doubleratchet

import (
	"fmt"

	"vault-signal/crypto/dh25519"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/protocol"
	"vault-signal/protocol/kdf"
)

// External functions, see https://signal.org/docs/specifications/doubleratchet/#external-functions
// Recommended algorithms: https://signal.org/docs/specifications/doubleratchet/#recommended-cryptographic-algorithms

// generateDH returns a new Diffie-Hellman key pair
func generateDH() (*key_ed25519.Pair, error) {
	pair, err := key_ed25519.NewPair()
	if err != nil {
		return nil, fmt.Errorf("%w: ratchet key: %v", protocol.ErrKeyGeneration, err)
	}
	return pair, nil
}

// kdfRk mixes DH(privKey, pubKey) into rk and returns the next root key and a fresh chain key.
func kdfRk(rk RatchetKey, privKey key_ed25519.PrivateKey, pubKey key_ed25519.PublicKey) (rootKey, chainKey RatchetKey, err error) {
	dhOut, err := dh25519.GetSharedSecret(privKey, pubKey)
	if err != nil {
		return RatchetKey{}, RatchetKey{}, err
	}
	defer clear(dhOut)
	return kdf.DeriveRootAndChainKey(rk, dhOut)
}

// kdfCk returns the next chain key and the message key for the current index.
func kdfCk(ck RatchetKey) (chainKey RatchetKey, messageKey MsgKey) {
	return kdf.StepChain(ck)
}

// concat appends the encoded header to ad, forming the AEAD associated data. ad is never modified.
func concat(ad []byte, header Header) []byte {
	out := make([]byte, 0, len(ad)+HeaderSize)
	out = append(out, ad...)
	return header.appendTo(out)
}
