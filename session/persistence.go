package session

import (
	"context"
	"errors"

	"vault-signal/store"

	"github.com/awnumar/memguard"
)

const sessionsBucket = "sessions"

// Persistence saves and loads conversation records. A conversation never saved loads as Uninitialized.
type Persistence interface {
	Save(ctx context.Context, conversationID string, rec Record) error
	Load(ctx context.Context, conversationID string) (Record, error)
	Delete(ctx context.Context, conversationID string) error
}

// KVPersistence stores CBOR-encoded records in a store.KV.
type KVPersistence struct {
	kv store.KV
}

var _ Persistence = (*KVPersistence)(nil)

func NewKVPersistence(kv store.KV) *KVPersistence {
	return &KVPersistence{kv: kv}
}

func (p *KVPersistence) Save(ctx context.Context, conversationID string, rec Record) error {
	raw, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(raw)
	return p.kv.Put(ctx, sessionsBucket, conversationID, raw)
}

func (p *KVPersistence) Load(ctx context.Context, conversationID string) (Record, error) {
	raw, err := p.kv.Get(ctx, sessionsBucket, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return Uninitialized{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(raw)
	return unmarshalRecord(raw)
}

func (p *KVPersistence) Delete(ctx context.Context, conversationID string) error {
	return p.kv.Delete(ctx, sessionsBucket, conversationID)
}
