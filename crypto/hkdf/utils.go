package hkdf

import (
	"hash"
	"io"

	"vault-signal/crypto"

	"golang.org/x/crypto/hkdf"
)

// New32BytesKeyFromSecret derives a new 32-byte key from a secret using HKDF-SHA256
func New32BytesKeyFromSecret(secret, salt, info []byte) ([]byte, error) {
	key := make([]byte, crypto.KeySize)
	if _, err := KDF(crypto.DefaultHashFunc, secret, salt, info, key); err != nil {
		return nil, err
	}
	return key, nil
}

// KDF fills buffer with HKDF output
func KDF(hash func() hash.Hash, keyMaterial []byte, salt []byte, info []byte, buffer []byte) (int, error) {
	hkdfReader := hkdf.New(hash, keyMaterial, salt, info)
	return io.ReadFull(hkdfReader, buffer)
}
