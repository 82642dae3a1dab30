package doubleratchet

import (
	"encoding/binary"
	"fmt"

	"vault-signal/crypto/aead"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/protocol/kdf"

	"github.com/awnumar/memguard"
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type (
	MsgIndex   uint32
	MsgKey     = kdf.Key
	RatchetKey = kdf.Key
)

// HeaderSize is the encoded header length: ratchet key, Pn and N as big-endian uint32.
const HeaderSize = key_ed25519.Size + 8

type Header struct {
	RatchetPub key_ed25519.PublicKey
	// Pn is the number of messages in previous chain
	Pn MsgIndex
	// N is the message number
	N MsgIndex
}

func (h *Header) appendTo(b []byte) []byte {
	b = append(b, h.RatchetPub[:]...)
	b = binary.BigEndian.AppendUint32(b, uint32(h.Pn))
	return binary.BigEndian.AppendUint32(b, uint32(h.N))
}

func (h *Header) MarshalBinary() ([]byte, error) {
	return h.appendTo(make([]byte, 0, HeaderSize)), nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderSize {
		return fmt.Errorf("%w: length %d", ErrInvalidHeader, len(data))
	}
	copy(h.RatchetPub[:], data[:key_ed25519.Size])
	h.Pn = MsgIndex(binary.BigEndian.Uint32(data[key_ed25519.Size:]))
	h.N = MsgIndex(binary.BigEndian.Uint32(data[key_ed25519.Size+4:]))
	return nil
}

func (h *Header) Equals(other *Header) bool {
	if h == nil || other == nil {
		return false
	}
	return h.RatchetPub.Equals(&other.RatchetPub) && h.Pn == other.Pn && h.N == other.N
}

// Message is one ratchet-encrypted payload: the clear header plus the sealed body.
type Message struct {
	Header Header
	Sealed aead.Sealed
}

// State ref: https://signal.org/docs/specifications/doubleratchet/#state-variables
//
// A State is never mutated by the Engine: every operation works on a copy and returns it.
type State struct {
	// Dhs is the DH Ratchet key pair (the “sending” or “self” ratchet key)
	Dhs key_ed25519.Pair
	// Dhr is the DH Ratchet public key (the “received” or “remote” key)
	// Not initialized at the beginning for Bob
	Dhr *key_ed25519.PublicKey
	// Rk is the 32-byte Root Key
	Rk RatchetKey
	// Cks and Ckr are 32-byte Chain Keys for sending and receiving
	// Cks is not initialized at the beginning for Bob
	// Ckr is not initialized at the beginning for both Bob and Alice
	Cks, Ckr *RatchetKey
	// Ns and Nr are message numbers for sending and receiving
	Ns, Nr MsgIndex
	// Pn is the number of messages in previous sending chain
	Pn MsgIndex

	// skipped holds skipped-over message keys, indexed by ratchet public key and message number
	skipped *skippedKeys
	// retired holds past receiving ratchet keys, oldest first
	retired []key_ed25519.PublicKey
}

// SkippedLen is the number of cached skipped message keys.
func (s *State) SkippedLen() int {
	if s.skipped == nil {
		return 0
	}
	return s.skipped.len()
}

// HasSkipped reports whether the key for (ratchetPub, n) is cached.
func (s *State) HasSkipped(ratchetPub key_ed25519.PublicKey, n MsgIndex) bool {
	return s.skipped != nil && s.skipped.lru.Contains(mkSkippedKey{RatchetPub: ratchetPub, N: n})
}

// Wipe zeroes every secret held by the state.
func (s *State) Wipe() {
	s.Dhs.Wipe()
	memguard.WipeBytes(s.Rk[:])
	if s.Cks != nil {
		memguard.WipeBytes(s.Cks[:])
	}
	if s.Ckr != nil {
		memguard.WipeBytes(s.Ckr[:])
	}
	if s.skipped != nil {
		s.skipped.lru.Purge()
	}
}

// clone deep-copies s, rebuilding the skipped-key cache with the given capacity.
func (s *State) clone(maxSkippedKeys int) *State {
	c := *s
	if s.Dhr != nil {
		dhr := *s.Dhr
		c.Dhr = &dhr
	}
	if s.Cks != nil {
		cks := *s.Cks
		c.Cks = &cks
	}
	if s.Ckr != nil {
		ckr := *s.Ckr
		c.Ckr = &ckr
	}
	c.skipped = newSkippedKeys(maxSkippedKeys)
	if s.skipped != nil {
		for _, k := range s.skipped.lru.Keys() {
			if mk, ok := s.skipped.lru.Peek(k); ok {
				c.skipped.put(k, *mk)
			}
		}
	}
	c.retired = append([]key_ed25519.PublicKey(nil), s.retired...)
	return &c
}

func (s *State) isRetired(pub key_ed25519.PublicKey) bool {
	for i := range s.retired {
		if s.retired[i].Equals(&pub) {
			return true
		}
	}
	return false
}

func (s *State) retire(pub key_ed25519.PublicKey, max int) {
	s.retired = append(s.retired, pub)
	if over := len(s.retired) - max; over > 0 {
		s.retired = append(s.retired[:0:0], s.retired[over:]...)
	}
}

type mkSkippedKey struct {
	RatchetPub key_ed25519.PublicKey
	N          MsgIndex
}

// skippedKeys is a bounded cache evicting the oldest inserted key first. Lookups use Peek so insertion order is
// never refreshed. Evicted and consumed keys are wiped.
type skippedKeys struct {
	lru *simplelru.LRU[mkSkippedKey, *MsgKey]
}

func newSkippedKeys(size int) *skippedKeys {
	if size <= 0 {
		size = DefaultMaxSkippedKeys
	}
	lru, err := simplelru.NewLRU[mkSkippedKey, *MsgKey](size, func(_ mkSkippedKey, mk *MsgKey) {
		memguard.WipeBytes(mk[:])
	})
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &skippedKeys{lru: lru}
}

func (c *skippedKeys) put(k mkSkippedKey, mk MsgKey) {
	c.lru.Add(k, &mk)
}

// take returns and removes the key for k.
func (c *skippedKeys) take(k mkSkippedKey) (MsgKey, bool) {
	stored, ok := c.lru.Peek(k)
	if !ok {
		return MsgKey{}, false
	}
	mk := *stored
	c.lru.Remove(k)
	return mk, true
}

func (c *skippedKeys) len() int {
	return c.lru.Len()
}

// Serialized form

type skippedEntry struct {
	RatchetPub key_ed25519.PublicKey `cbor:"1,keyasint"`
	N          MsgIndex              `cbor:"2,keyasint"`
	Key        MsgKey                `cbor:"3,keyasint"`
}

type stateWire struct {
	Dhs     key_ed25519.Pair        `cbor:"1,keyasint"`
	Dhr     *key_ed25519.PublicKey  `cbor:"2,keyasint,omitempty"`
	Rk      RatchetKey              `cbor:"3,keyasint"`
	Cks     *RatchetKey             `cbor:"4,keyasint,omitempty"`
	Ckr     *RatchetKey             `cbor:"5,keyasint,omitempty"`
	Ns      MsgIndex                `cbor:"6,keyasint"`
	Nr      MsgIndex                `cbor:"7,keyasint"`
	Pn      MsgIndex                `cbor:"8,keyasint"`
	Skipped []skippedEntry          `cbor:"9,keyasint,omitempty"`
	Retired []key_ed25519.PublicKey `cbor:"10,keyasint,omitempty"`
}

// MarshalBinary encodes the full state, skipped keys included, as CBOR. The output holds secrets.
func (s *State) MarshalBinary() ([]byte, error) {
	w := stateWire{
		Dhs:     s.Dhs,
		Dhr:     s.Dhr,
		Rk:      s.Rk,
		Cks:     s.Cks,
		Ckr:     s.Ckr,
		Ns:      s.Ns,
		Nr:      s.Nr,
		Pn:      s.Pn,
		Retired: s.retired,
	}
	if s.skipped != nil {
		for _, k := range s.skipped.lru.Keys() {
			if mk, ok := s.skipped.lru.Peek(k); ok {
				w.Skipped = append(w.Skipped, skippedEntry{RatchetPub: k.RatchetPub, N: k.N, Key: *mk})
			}
		}
	}
	return cbor.Marshal(&w)
}

func (s *State) UnmarshalBinary(data []byte) error {
	var w stateWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	*s = State{
		Dhs:     w.Dhs,
		Dhr:     w.Dhr,
		Rk:      w.Rk,
		Cks:     w.Cks,
		Ckr:     w.Ckr,
		Ns:      w.Ns,
		Nr:      w.Nr,
		Pn:      w.Pn,
		retired: w.Retired,
		skipped: newSkippedKeys(max(len(w.Skipped), DefaultMaxSkippedKeys)),
	}
	for _, e := range w.Skipped {
		s.skipped.put(mkSkippedKey{RatchetPub: e.RatchetPub, N: e.N}, e.Key)
	}
	return nil
}
