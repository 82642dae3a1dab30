// Package fingerprint renders identity keys as the numeric codes users compare out of band.
package fingerprint

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"strings"

	"vault-signal/crypto/key_ed25519"
)

const (
	iterations = 5200
	version    = 0
)

// Digits is a 30-digit fingerprint of one identity key.
type Digits [30]int

// Fingerprint hashes the identity key and user identifier with iterated SHA-512 and keeps 30 decimal digits.
func Fingerprint(pubKey key_ed25519.PublicKey, userIdentifier []byte) Digits {
	digest := make([]byte, 0, 2+key_ed25519.Size+len(userIdentifier))
	digest = binary.BigEndian.AppendUint16(digest, version)
	digest = append(digest, pubKey[:]...)
	digest = append(digest, userIdentifier...)

	hash := sha512.New()
	for i := 0; i < iterations; i++ {
		hash.Reset()
		hash.Write(digest)
		hash.Write(pubKey[:])
		digest = hash.Sum(digest[:0])
	}

	var result Digits
	for i := 0; i < 6; i++ {
		chunk := digest[i*5 : (i+1)*5]
		num := binary.BigEndian.Uint64(append([]byte{0, 0, 0}, chunk...)) % 100000
		for j := 4; j >= 0; j-- {
			result[i*5+j] = int(num % 10)
			num /= 10
		}
	}
	return result
}

// String groups the digits in blocks of five.
func (d Digits) String() string {
	var sb strings.Builder
	for i, n := range d {
		if i > 0 && i%5 == 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(byte('0' + n))
	}
	return sb.String()
}

// SafetyNumber combines both parties' fingerprints, lower one first, so both sides display the same 60 digits.
func SafetyNumber(localKey key_ed25519.PublicKey, localID []byte, remoteKey key_ed25519.PublicKey, remoteID []byte) string {
	local := Fingerprint(localKey, localID).String()
	remote := Fingerprint(remoteKey, remoteID).String()
	if bytes.Compare([]byte(local), []byte(remote)) > 0 {
		local, remote = remote, local
	}
	return local + " " + remote
}
