package hmac

import (
	"crypto/hmac"
	"hash"
)

// Hash returns the HMAC of the concatenated data parts using the key.
func Hash(hash func() hash.Hash, key []byte, data ...[]byte) []byte {
	mac := hmac.New(hash, key)
	for _, d := range data {
		mac.Write(d)
	}
	return mac.Sum(nil)
}
