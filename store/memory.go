package store

import (
	"context"
	"sync"

	"github.com/awnumar/memguard"
)

// Memory keeps values in process memory. Values are wiped when overwritten or deleted.
type Memory struct {
	sync.RWMutex
	buckets map[string]map[string][]byte
	closed  bool
}

var _ KV = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.RLock()
	defer m.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.buckets[bucket][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, bucket, key string, value []byte) error {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return ErrClosed
	}
	bkt, ok := m.buckets[bucket]
	if !ok {
		bkt = make(map[string][]byte)
		m.buckets[bucket] = bkt
	}
	if old, ok := bkt[key]; ok {
		memguard.WipeBytes(old)
	}
	bkt[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, bucket, key string) error {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return ErrClosed
	}
	if old, ok := m.buckets[bucket][key]; ok {
		memguard.WipeBytes(old)
		delete(m.buckets[bucket], key)
	}
	return nil
}

func (m *Memory) Close() error {
	m.Lock()
	defer m.Unlock()
	for _, bkt := range m.buckets {
		for _, v := range bkt {
			memguard.WipeBytes(v)
		}
	}
	m.buckets = nil
	m.closed = true
	return nil
}
