// Package protocol holds the error taxonomy shared by the key agreement and ratchet packages.
package protocol

import "errors"

var (
	// ErrKeyGeneration means the RNG or a key pair generation failed; the conversation cannot proceed.
	ErrKeyGeneration = errors.New("key generation failed")
	// ErrHandshake means a prekey bundle or handshake was malformed or unverifiable; fetch a fresh bundle and retry.
	ErrHandshake = errors.New("handshake failed")
	// ErrAuthentication means the AEAD tag did not verify; the message is dropped.
	ErrAuthentication = errors.New("message authentication failed")
	// ErrReplay means the message number was already consumed.
	ErrReplay = errors.New("message replayed")
	// ErrReplayOrDoS means the header claims an implausible message number skip.
	ErrReplayOrDoS = errors.New("message number skip too large")
	// ErrSerialization means a header, key or ciphertext had the wrong shape.
	ErrSerialization = errors.New("malformed message")
)

// Kind returns a short label for err, suitable for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrKeyGeneration):
		return "key_generation"
	case errors.Is(err, ErrHandshake):
		return "handshake"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrReplayOrDoS):
		return "replay_or_dos"
	case errors.Is(err, ErrReplay):
		return "replay"
	case errors.Is(err, ErrSerialization):
		return "serialization"
	default:
		return "internal"
	}
}
