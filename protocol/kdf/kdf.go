// Package kdf holds the deterministic root and chain derivations of the Double Ratchet.
package kdf

import (
	"errors"

	"vault-signal/configs"
	"vault-signal/crypto"
	"vault-signal/crypto/hkdf"
	"vault-signal/crypto/hmac"
)

type Key [crypto.KeySize]byte

var (
	messageKeySeed = []byte{0x02}
	chainKeySeed   = []byte{0x01}

	ErrInvalidSecretLength = errors.New("invalid secret length")
)

// DeriveRootAndChainKey runs HKDF-SHA256 over dhOutput salted with rootKey and splits the 64-byte output into the
// next root key and a fresh chain key.
func DeriveRootAndChainKey(rootKey Key, dhOutput []byte) (newRootKey Key, chainKey Key, err error) {
	if len(dhOutput) != crypto.KeySize {
		return Key{}, Key{}, ErrInvalidSecretLength
	}
	var buffer [2 * crypto.KeySize]byte
	if _, err := hkdf.KDF(crypto.DefaultHashFunc, dhOutput, rootKey[:], configs.RootChainInfo, buffer[:]); err != nil {
		return Key{}, Key{}, err
	}
	copy(newRootKey[:], buffer[:crypto.KeySize])
	copy(chainKey[:], buffer[crypto.KeySize:])
	clear(buffer[:])
	return newRootKey, chainKey, nil
}

// StepChain derives the message key (HMAC with 0x02) and the next chain key (HMAC with 0x01), both from the same
// input chain key.
func StepChain(chainKey Key) (newChainKey Key, messageKey Key) {
	copy(messageKey[:], hmac.Hash(crypto.DefaultHashFunc, chainKey[:], messageKeySeed))
	copy(newChainKey[:], hmac.Hash(crypto.DefaultHashFunc, chainKey[:], chainKeySeed))
	return newChainKey, messageKey
}
