package session

import (
	"fmt"

	"vault-signal/common"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/protocol"
	"vault-signal/protocol/doubleratchet"

	"github.com/fxamacker/cbor/v2"
)

// Record is the stored state of one conversation: Uninitialized or Established.
type Record interface {
	isRecord()
}

// Uninitialized is a conversation with no key agreement yet.
type Uninitialized struct{}

// Established is a conversation with a running ratchet.
type Established struct {
	Ratchet *doubleratchet.State `cbor:"1,keyasint"`
	// AssociatedData is initiator identity key || responder identity key
	AssociatedData []byte                `cbor:"2,keyasint"`
	PeerIdentity   key_ed25519.PublicKey `cbor:"3,keyasint"`
	// PendingHandshake is attached to outgoing messages until the peer's first reply
	PendingHandshake *common.Handshake `cbor:"4,keyasint,omitempty"`
}

func (Uninitialized) isRecord() {}
func (*Established) isRecord()  {}

// Wipe zeroes the ratchet secrets.
func (e *Established) Wipe() {
	if e.Ratchet != nil {
		e.Ratchet.Wipe()
	}
}

const (
	kindUninitialized uint8 = iota
	kindEstablished
)

type recordWire struct {
	Kind        uint8        `cbor:"1,keyasint"`
	Established *Established `cbor:"2,keyasint,omitempty"`
}

func marshalRecord(r Record) ([]byte, error) {
	switch r := r.(type) {
	case Uninitialized:
		return cbor.Marshal(recordWire{Kind: kindUninitialized})
	case *Established:
		return cbor.Marshal(recordWire{Kind: kindEstablished, Established: r})
	default:
		return nil, fmt.Errorf("session: unknown record %T", r)
	}
}

func unmarshalRecord(data []byte) (Record, error) {
	var w recordWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: conversation record: %v", protocol.ErrSerialization, err)
	}
	switch w.Kind {
	case kindUninitialized:
		return Uninitialized{}, nil
	case kindEstablished:
		if w.Established == nil || w.Established.Ratchet == nil {
			return nil, fmt.Errorf("%w: established record without ratchet", protocol.ErrSerialization)
		}
		return w.Established, nil
	}
	return nil, fmt.Errorf("%w: record kind %d", protocol.ErrSerialization, w.Kind)
}
