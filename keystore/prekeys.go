package keystore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"vault-signal/common"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/protocol"
	"vault-signal/protocol/hybrid"
	"vault-signal/protocol/x3dh/bob"
	"vault-signal/store"

	"github.com/awnumar/memguard"
	"github.com/fxamacker/cbor/v2"
)

const (
	prekeyBucket = "prekeys"
	prekeyKey    = "self"

	// accepted initiator ephemeral keys, hex encoded
	handshakeBucket = "handshakes"
)

var (
	ErrNoPrekeys = errors.New("keystore: prekeys not generated")
)

type prekeyRecord struct {
	SignedPrekey    key_ed25519.Pair   `cbor:"1,keyasint"`
	SignedPrekeySig []byte             `cbor:"2,keyasint"`
	OneTimePrekeys  []key_ed25519.Pair `cbor:"3,keyasint,omitempty"`
	KEMScheme       string             `cbor:"4,keyasint,omitempty"`
	KEMPublic       []byte             `cbor:"5,keyasint,omitempty"`
	KEMPrivate      []byte             `cbor:"6,keyasint,omitempty"`
	KEMPrekeySig    []byte             `cbor:"7,keyasint,omitempty"`
}

func (r *prekeyRecord) wipe() {
	r.SignedPrekey.Wipe()
	for i := range r.OneTimePrekeys {
		r.OneTimePrekeys[i].Wipe()
	}
	memguard.WipeBytes(r.KEMPrivate)
}

func (r *prekeyRecord) oneTimeIndex(pub key_ed25519.PublicKey) int {
	for i := range r.OneTimePrekeys {
		if r.OneTimePrekeys[i].Pub.Equals(&pub) {
			return i
		}
	}
	return -1
}

// PrekeyStore keeps the signed prekey, the one-time prekeys and, in hybrid mode, the signed KEM prekey.
type PrekeyStore struct {
	kv       store.KV
	identity *IdentityKeyStore
	hybrid   *hybrid.Exchange

	mu sync.Mutex
}

// NewPrekeyStore returns a store signing with the identity from identity. hx may be nil when hybrid mode is off.
func NewPrekeyStore(kv store.KV, identity *IdentityKeyStore, hx *hybrid.Exchange) *PrekeyStore {
	return &PrekeyStore{kv: kv, identity: identity, hybrid: hx}
}

func (p *PrekeyStore) load(ctx context.Context) (*prekeyRecord, error) {
	raw, err := p.kv.Get(ctx, prekeyBucket, prekeyKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoPrekeys
	}
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(raw)

	var rec prekeyRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: prekey record: %v", protocol.ErrSerialization, err)
	}
	return &rec, nil
}

func (p *PrekeyStore) save(ctx context.Context, rec *prekeyRecord) error {
	raw, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(raw)
	return p.kv.Put(ctx, prekeyBucket, prekeyKey, raw)
}

// Init generates the signed prekey (and KEM prekey) if none exist yet and tops the one-time prekeys up to
// oneTime.
func (p *PrekeyStore) Init(ctx context.Context, oneTime int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.load(ctx)
	switch {
	case errors.Is(err, ErrNoPrekeys):
		if rec, err = p.generate(ctx); err != nil {
			return err
		}
	case err != nil:
		return err
	}
	defer rec.wipe()

	for len(rec.OneTimePrekeys) < oneTime {
		pair, err := key_ed25519.NewPair()
		if err != nil {
			return fmt.Errorf("%w: one-time prekey: %v", protocol.ErrKeyGeneration, err)
		}
		rec.OneTimePrekeys = append(rec.OneTimePrekeys, *pair)
	}
	return p.save(ctx, rec)
}

func (p *PrekeyStore) generate(ctx context.Context) (*prekeyRecord, error) {
	id, err := p.identity.LoadOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	spk, err := key_ed25519.NewPair()
	if err != nil {
		return nil, fmt.Errorf("%w: signed prekey: %v", protocol.ErrKeyGeneration, err)
	}
	rec := &prekeyRecord{SignedPrekey: *spk}
	if rec.SignedPrekeySig, err = id.Sign(spk.Pub[:]); err != nil {
		return nil, err
	}

	if p.hybrid != nil {
		kp, err := p.hybrid.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		rec.KEMScheme = p.hybrid.SchemeName()
		rec.KEMPublic = kp.Public
		rec.KEMPrivate = kp.Private
		if rec.KEMPrekeySig, err = id.Sign(kp.Public); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Bundle returns the public bundle to publish, listing every unused one-time prekey.
func (p *PrekeyStore) Bundle(ctx context.Context, userID string) (*common.PrekeyBundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	defer rec.wipe()

	id, err := p.identity.LoadOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	pub := id.PublicKey()

	b := &common.PrekeyBundle{
		UserID:          userID,
		IdentityKey:     pub[:],
		SignedPrekey:    append([]byte(nil), rec.SignedPrekey.Pub[:]...),
		SignedPrekeySig: rec.SignedPrekeySig,
		KEMScheme:       rec.KEMScheme,
		KEMPrekey:       rec.KEMPublic,
		KEMPrekeySig:    rec.KEMPrekeySig,
	}
	for i := range rec.OneTimePrekeys {
		b.OneTimePrekeys = append(b.OneTimePrekeys, append([]byte(nil), rec.OneTimePrekeys[i].Pub[:]...))
	}
	return b, nil
}

// OneTimePrekey looks a one-time prekey up without consuming it.
func (p *PrekeyStore) OneTimePrekey(ctx context.Context, pub key_ed25519.PublicKey) (*key_ed25519.Pair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	defer rec.wipe()

	i := rec.oneTimeIndex(pub)
	if i < 0 {
		return nil, fmt.Errorf("%w: unknown or consumed one-time prekey", protocol.ErrHandshake)
	}
	pair := rec.OneTimePrekeys[i]
	return &pair, nil
}

// ConsumeOneTimePrekey deletes a one-time prekey. Consuming one twice is a handshake error.
func (p *PrekeyStore) ConsumeOneTimePrekey(ctx context.Context, pub key_ed25519.PublicKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consume(ctx, pub)
}

func (p *PrekeyStore) consume(ctx context.Context, pub key_ed25519.PublicKey) error {
	rec, err := p.load(ctx)
	if err != nil {
		return err
	}
	defer rec.wipe()

	i := rec.oneTimeIndex(pub)
	if i < 0 {
		return fmt.Errorf("%w: unknown or consumed one-time prekey", protocol.ErrHandshake)
	}
	rec.OneTimePrekeys[i].Wipe()
	rec.OneTimePrekeys = append(rec.OneTimePrekeys[:i], rec.OneTimePrekeys[i+1:]...)
	return p.save(ctx, rec)
}

// HandshakeAccepted reports whether a session was already accepted for the initiator ephemeral key eph.
func (p *PrekeyStore) HandshakeAccepted(ctx context.Context, eph key_ed25519.PublicKey) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted(ctx, eph)
}

func (p *PrekeyStore) accepted(ctx context.Context, eph key_ed25519.PublicKey) (bool, error) {
	_, err := p.kv.Get(ctx, handshakeBucket, hex.EncodeToString(eph[:]))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	}
	return false, err
}

// AcceptHandshake records the initiator ephemeral key eph and consumes otk when set. Each handshake is accepted
// at most once; a second attempt is a replay.
func (p *PrekeyStore) AcceptHandshake(ctx context.Context, eph key_ed25519.PublicKey, otk *key_ed25519.PublicKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen, err := p.accepted(ctx, eph)
	if err != nil {
		return err
	}
	if seen {
		return fmt.Errorf("%w: handshake already accepted", protocol.ErrReplay)
	}
	if otk != nil {
		if err := p.consume(ctx, *otk); err != nil {
			return err
		}
	}
	return p.kv.Put(ctx, handshakeBucket, hex.EncodeToString(eph[:]), []byte{1})
}

// OneTimePrekeyCount is the number of unused one-time prekeys.
func (p *PrekeyStore) OneTimePrekeyCount(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.load(ctx)
	if err != nil {
		return 0, err
	}
	defer rec.wipe()
	return len(rec.OneTimePrekeys), nil
}

// Responder assembles the private keys for the responder side of a handshake. otk, when set, must name an unused
// one-time prekey; it is not consumed here.
func (p *PrekeyStore) Responder(ctx context.Context, otk *key_ed25519.PublicKey) (*bob.BobPrekeyBundle, error) {
	id, err := p.identity.LoadOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	rec, err := p.load(ctx)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := &bob.BobPrekeyBundle{
		Identity:  id,
		Prekey:    rec.SignedPrekey,
		KEMPrekey: append([]byte(nil), rec.KEMPrivate...),
	}
	if len(out.KEMPrekey) == 0 {
		out.KEMPrekey = nil
	}
	rec.wipe()

	if otk != nil {
		if out.OneTimePrekey, err = p.OneTimePrekey(ctx, *otk); err != nil {
			out.Prekey.Wipe()
			return nil, err
		}
	}
	return out, nil
}
