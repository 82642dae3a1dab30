package common

import (
	"fmt"
	"time"

	"vault-signal/crypto/aead"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/protocol"
	"vault-signal/protocol/doubleratchet"
	"vault-signal/protocol/x3dh/alice"
	"vault-signal/protocol/x3dh/bob"
)

// SignatureSize is the length of a Schnorr signature over the Ed25519 group.
const SignatureSize = 64

// Message is the JSON frame exchanged through the relay. Binary fields are base64 encoded.
type Message struct {
	SenderID    string     `json:"sender_id"`
	RecipientID string     `json:"recipient_id"`
	Header      Header     `json:"header"`
	Nonce       []byte     `json:"nonce"`
	Ciphertext  []byte     `json:"ciphertext"`
	Tag         []byte     `json:"tag"`
	Timestamp   time.Time  `json:"timestamp"`
	Handshake   *Handshake `json:"handshake,omitempty"`
}

type Header struct {
	DHPublicKey  []byte `json:"dh_public_key"`
	PrevChainLen uint32 `json:"prev_chain_len"`
	MsgNum       uint32 `json:"msg_num"`
}

// Handshake is sent in Alice's messages until Bob replies
type Handshake struct {
	IdentityKey   []byte `json:"identity_key"`
	EphemeralKey  []byte `json:"ephemeral_key"`
	OneTimePrekey []byte `json:"one_time_prekey,omitempty"`
	KEMCiphertext []byte `json:"kem_ciphertext,omitempty"`
}

// NewMessage wraps a ratchet message for the wire.
func NewMessage(senderID, recipientID string, msg *doubleratchet.Message, ts time.Time) *Message {
	return &Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Header: Header{
			DHPublicKey:  append([]byte(nil), msg.Header.RatchetPub[:]...),
			PrevChainLen: uint32(msg.Header.Pn),
			MsgNum:       uint32(msg.Header.N),
		},
		Nonce:      append([]byte(nil), msg.Sealed.Nonce[:]...),
		Ciphertext: msg.Sealed.Ciphertext,
		Tag:        append([]byte(nil), msg.Sealed.Tag[:]...),
		Timestamp:  ts.UTC(),
	}
}

func fixedLen(field string, b []byte, n int) error {
	if len(b) != n {
		return fmt.Errorf("%w: %s has length %d, want %d", protocol.ErrSerialization, field, len(b), n)
	}
	return nil
}

// Validate checks the structure of the frame: identifiers present and every binary field of the right length.
func (m *Message) Validate() error {
	if m.SenderID == "" || m.RecipientID == "" {
		return fmt.Errorf("%w: missing sender or recipient", protocol.ErrSerialization)
	}
	if err := fixedLen("header.dh_public_key", m.Header.DHPublicKey, key_ed25519.Size); err != nil {
		return err
	}
	if err := fixedLen("nonce", m.Nonce, aead.NonceSize); err != nil {
		return err
	}
	if err := fixedLen("tag", m.Tag, aead.TagSize); err != nil {
		return err
	}
	if m.Handshake != nil {
		return m.Handshake.Validate()
	}
	return nil
}

func (h *Handshake) Validate() error {
	if err := fixedLen("handshake.identity_key", h.IdentityKey, key_ed25519.Size); err != nil {
		return err
	}
	if err := fixedLen("handshake.ephemeral_key", h.EphemeralKey, key_ed25519.Size); err != nil {
		return err
	}
	if h.OneTimePrekey != nil {
		return fixedLen("handshake.one_time_prekey", h.OneTimePrekey, key_ed25519.Size)
	}
	return nil
}

// Ratchet converts a validated frame back into a ratchet message.
func (m *Message) Ratchet() (*doubleratchet.Message, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := &doubleratchet.Message{
		Header: doubleratchet.Header{
			RatchetPub: key_ed25519.PublicKey(m.Header.DHPublicKey),
			Pn:         doubleratchet.MsgIndex(m.Header.PrevChainLen),
			N:          doubleratchet.MsgIndex(m.Header.MsgNum),
		},
	}
	copy(out.Sealed.Nonce[:], m.Nonce)
	copy(out.Sealed.Tag[:], m.Tag)
	out.Sealed.Ciphertext = m.Ciphertext
	return out, nil
}

// NewHandshake builds the handshake block from the initiator's agreement result.
func NewHandshake(identity key_ed25519.PublicKey, res *alice.Result) *Handshake {
	h := &Handshake{
		IdentityKey:   append([]byte(nil), identity[:]...),
		EphemeralKey:  append([]byte(nil), res.EphemeralKey[:]...),
		KEMCiphertext: res.KEMCiphertext,
	}
	if res.OneTimePrekey != nil {
		h.OneTimePrekey = append([]byte(nil), res.OneTimePrekey[:]...)
	}
	return h
}

// X3DH returns the responder's view of the handshake and the one-time prekey it names, if any.
func (h *Handshake) X3DH() (*bob.ReceivedAliceKeyBundle, *key_ed25519.PublicKey, error) {
	if err := h.Validate(); err != nil {
		return nil, nil, err
	}
	received := &bob.ReceivedAliceKeyBundle{
		IdentityKey:   key_ed25519.PublicKey(h.IdentityKey),
		EphemeralKey:  key_ed25519.PublicKey(h.EphemeralKey),
		KEMCiphertext: h.KEMCiphertext,
	}
	if h.OneTimePrekey == nil {
		return received, nil, nil
	}
	otk := key_ed25519.PublicKey(h.OneTimePrekey)
	return received, &otk, nil
}
