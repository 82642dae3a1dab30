// Package session runs conversations end to end: key agreement on first contact, the ratchet for every message,
// persistence of conversation records and per-conversation locking.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vault-signal/common"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/keystore"
	"vault-signal/protocol"
	"vault-signal/protocol/doubleratchet"
	"vault-signal/protocol/hybrid"
	"vault-signal/protocol/x3dh/alice"
	"vault-signal/protocol/x3dh/bob"

	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingCollaborator = errors.New("session: missing collaborator")
	ErrWrongRecipient      = fmt.Errorf("%w: message is not addressed to us", protocol.ErrSerialization)
	ErrNoHandshake         = fmt.Errorf("%w: first message carries no handshake", protocol.ErrHandshake)
	ErrUnknownPeer         = fmt.Errorf("%w: directory returned a bundle for another user", protocol.ErrHandshake)
)

// Directory supplies peer prekey bundles.
type Directory interface {
	FetchBundle(ctx context.Context, userID string) (*common.PrekeyBundle, error)
}

// Collaborators are the services a Manager is built from. Hybrid may be nil; Logger and Metrics get defaults.
type Collaborators struct {
	Identity    *keystore.IdentityKeyStore
	Prekeys     *keystore.PrekeyStore
	Directory   Directory
	Persistence Persistence
	Engine      *doubleratchet.Engine
	Hybrid      *hybrid.Exchange
	Logger      *logrus.Logger
	Metrics     *Metrics
}

type Manager struct {
	selfID      string
	identity    *keystore.IdentityKeyStore
	prekeys     *keystore.PrekeyStore
	directory   Directory
	persistence Persistence
	engine      *doubleratchet.Engine
	hybrid      *hybrid.Exchange
	logger      *logrus.Entry
	metrics     *Metrics
	locks       *lockMap
	now         func() time.Time
}

func NewManager(selfID string, c Collaborators) (*Manager, error) {
	if selfID == "" || c.Identity == nil || c.Prekeys == nil || c.Directory == nil || c.Persistence == nil || c.Engine == nil {
		return nil, ErrMissingCollaborator
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	return &Manager{
		selfID:      selfID,
		identity:    c.Identity,
		prekeys:     c.Prekeys,
		directory:   c.Directory,
		persistence: c.Persistence,
		engine:      c.Engine,
		hybrid:      c.Hybrid,
		logger:      c.Logger.WithField("self", selfID),
		metrics:     c.Metrics,
		locks:       newLockMap(),
		now:         time.Now,
	}, nil
}

// Encrypt encrypts plaintext for peerID. The first call for a peer fetches its bundle and runs the initiator key
// agreement; the handshake is attached to every message until the peer replies.
func (m *Manager) Encrypt(ctx context.Context, peerID string, plaintext []byte) (*common.Message, error) {
	unlock := m.locks.lock(peerID)
	defer unlock()

	rec, err := m.persistence.Load(ctx, peerID)
	if err != nil {
		return nil, err
	}

	var est *Established
	switch r := rec.(type) {
	case Uninitialized:
		if est, err = m.initiate(ctx, peerID); err != nil {
			m.logger.WithFields(logrus.Fields{"peer": peerID, "kind": protocol.Kind(err)}).Warn("key agreement failed")
			return nil, err
		}
	case *Established:
		est = r
	default:
		return nil, fmt.Errorf("session: unknown record %T", rec)
	}
	defer est.Wipe()

	msg, next, err := m.engine.Encrypt(est.Ratchet, plaintext, est.AssociatedData)
	if err != nil {
		return nil, err
	}
	est.Ratchet.Wipe()
	est.Ratchet = next
	if err := m.persistence.Save(ctx, peerID, est); err != nil {
		return nil, err
	}

	out := common.NewMessage(m.selfID, peerID, msg, m.now())
	out.Handshake = est.PendingHandshake
	m.metrics.encrypted.Inc()
	return out, nil
}

func (m *Manager) initiate(ctx context.Context, peerID string) (*Established, error) {
	bundle, err := m.directory.FetchBundle(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if bundle.UserID != peerID {
		return nil, ErrUnknownPeer
	}
	public, err := bundle.ToX3DH()
	if err != nil {
		return nil, err
	}
	id, err := m.identity.LoadOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	res, err := alice.PerformKeyAgreement(public, id, m.hybrid)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(res.SharedKey)

	st, err := m.engine.InitAlice(doubleratchet.RatchetKey(res.SharedKey), public.Prekey)
	if err != nil {
		return nil, err
	}
	m.metrics.handshakes.WithLabelValues("initiator").Inc()
	m.logger.WithFields(logrus.Fields{"peer": peerID, "hybrid": len(res.KEMCiphertext) > 0}).Info("session initiated")

	return &Established{
		Ratchet:          st,
		AssociatedData:   res.AssociatedData,
		PeerIdentity:     public.IdentityKey,
		PendingHandshake: common.NewHandshake(id.PublicKey(), res),
	}, nil
}

// Decrypt authenticates and decrypts a frame addressed to us. Nothing is persisted, and no one-time prekey is
// consumed, unless the AEAD check succeeds.
func (m *Manager) Decrypt(ctx context.Context, msg *common.Message) ([]byte, error) {
	plaintext, err := m.decrypt(ctx, msg)
	if err != nil {
		m.metrics.failures.WithLabelValues(protocol.Kind(err)).Inc()
		m.logger.WithFields(logrus.Fields{"peer": msg.SenderID, "kind": protocol.Kind(err)}).Warn("message dropped")
		return nil, err
	}
	m.metrics.decrypted.Inc()
	return plaintext, nil
}

func (m *Manager) decrypt(ctx context.Context, msg *common.Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.RecipientID != m.selfID {
		return nil, ErrWrongRecipient
	}
	rmsg, err := msg.Ratchet()
	if err != nil {
		return nil, err
	}

	peerID := msg.SenderID
	unlock := m.locks.lock(peerID)
	defer unlock()

	rec, err := m.persistence.Load(ctx, peerID)
	if err != nil {
		return nil, err
	}

	switch r := rec.(type) {
	case Uninitialized:
		if msg.Handshake == nil {
			return nil, ErrNoHandshake
		}
		return m.respond(ctx, peerID, msg.Handshake, rmsg)
	case *Established:
		defer r.Wipe()
		plaintext, next, err := m.engine.Decrypt(r.Ratchet, rmsg, r.AssociatedData)
		if err != nil {
			// The peer may have started over with a fresh handshake
			if msg.Handshake != nil && !errors.Is(err, protocol.ErrReplay) {
				plaintext, rerr := m.respond(ctx, peerID, msg.Handshake, rmsg)
				switch {
				case rerr == nil:
					m.logger.WithField("peer", peerID).Info("session replaced by new handshake")
					return plaintext, nil
				case errors.Is(rerr, protocol.ErrReplay):
					return nil, rerr
				}
			}
			return nil, err
		}
		r.Ratchet.Wipe()
		r.Ratchet = next
		r.PendingHandshake = nil
		if err := m.persistence.Save(ctx, peerID, r); err != nil {
			return nil, err
		}
		return plaintext, nil
	}
	return nil, fmt.Errorf("session: unknown record %T", rec)
}

// respond runs the responder key agreement for the handshake and decrypts the first message with the new
// ratchet. The record is saved, the handshake marked accepted and the one-time prekey consumed only on success.
// A handshake that was accepted before is refused with ErrReplay.
func (m *Manager) respond(ctx context.Context, peerID string, hs *common.Handshake, rmsg *doubleratchet.Message) ([]byte, error) {
	received, otk, err := hs.X3DH()
	if err != nil {
		return nil, err
	}
	seen, err := m.prekeys.HandshakeAccepted(ctx, received.EphemeralKey)
	if err != nil {
		return nil, err
	}
	if seen {
		return nil, fmt.Errorf("%w: handshake already accepted", protocol.ErrReplay)
	}
	private, err := m.prekeys.Responder(ctx, otk)
	if err != nil {
		return nil, err
	}
	defer private.Wipe()

	key, ad, err := bob.PerformKeyAgreement(private, received, m.hybrid)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	st := m.engine.InitBob(doubleratchet.RatchetKey(key), private.Prekey)
	plaintext, next, err := m.engine.Decrypt(st, rmsg, ad)
	st.Wipe()
	if err != nil {
		return nil, err
	}

	est := &Established{Ratchet: next, AssociatedData: ad, PeerIdentity: received.IdentityKey}
	defer est.Wipe()
	if err := m.prekeys.AcceptHandshake(ctx, received.EphemeralKey, otk); err != nil {
		return nil, err
	}
	if err := m.persistence.Save(ctx, peerID, est); err != nil {
		return nil, err
	}
	m.metrics.handshakes.WithLabelValues("responder").Inc()
	m.logger.WithField("peer", peerID).Info("session accepted")
	return plaintext, nil
}

// PeerIdentity returns the identity key recorded for an established conversation.
func (m *Manager) PeerIdentity(ctx context.Context, peerID string) (*key_ed25519.PublicKey, error) {
	unlock := m.locks.lock(peerID)
	defer unlock()

	rec, err := m.persistence.Load(ctx, peerID)
	if err != nil {
		return nil, err
	}
	est, ok := rec.(*Established)
	if !ok {
		return nil, fmt.Errorf("%w: no session with %s", protocol.ErrHandshake, peerID)
	}
	est.Wipe()
	pub := est.PeerIdentity
	return &pub, nil
}

// Delete discards the conversation with peerID.
func (m *Manager) Delete(ctx context.Context, peerID string) error {
	unlock := m.locks.lock(peerID)
	defer unlock()

	if err := m.persistence.Delete(ctx, peerID); err != nil {
		return err
	}
	m.logger.WithField("peer", peerID).Info("session deleted")
	return nil
}

// Lock wipes the in-memory identity key. It is loaded again from the store on next use.
func (m *Manager) Lock() {
	m.identity.Wipe()
	m.logger.Info("identity key wiped")
}
