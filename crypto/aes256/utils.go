package aes256

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

const KeySize = 32

var (
	ErrKeyLengthInvalid = errors.New("key length invalid")
)

// NewGCM returns AES-256 in GCM mode with the standard 12-byte nonce and 16-byte tag.
func NewGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeyLengthInvalid
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
