package doubleratchet

import (
	"fmt"

	"vault-signal/configs"
	"vault-signal/crypto/aead"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/protocol"

	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxSkip is the maximum number of message keys that can be skipped in a single chain
	DefaultMaxSkip = 100
	// DefaultMaxSkippedKeys bounds the skipped-key cache across all epochs
	DefaultMaxSkippedKeys = 1000
	// DefaultMaxRetiredKeys is how many past receiving ratchet keys are remembered
	DefaultMaxRetiredKeys = 32
)

// https://signal.org/docs/specifications/doubleratchet/#encrypting-messages and
// https://signal.org/docs/specifications/doubleratchet/#decrypting-messages
//
// Engine holds the ratchet policy and codec. It keeps no per-conversation data and is safe for concurrent use;
// callers serialize operations on the same State.
type Engine struct {
	maxSkip        MsgIndex
	maxSkippedKeys int
	maxRetiredKeys int
	codec          aead.Codec
	logger         *logrus.Entry
}

type Option func(*Engine)

func WithMaxSkip(n uint32) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSkip = MsgIndex(n)
		}
	}
}

func WithMaxSkippedKeys(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSkippedKeys = n
		}
	}
}

func WithMaxRetiredKeys(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetiredKeys = n
		}
	}
}

func WithCodec(c aead.Codec) Option {
	return func(e *Engine) {
		if c != nil {
			e.codec = c
		}
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		maxSkip:        DefaultMaxSkip,
		maxSkippedKeys: DefaultMaxSkippedKeys,
		maxRetiredKeys: DefaultMaxRetiredKeys,
		codec:          aead.Default(),
		logger:         logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineFromConfig builds an engine from the [ratchet] config section.
func NewEngineFromConfig(cfg configs.RatchetConfig, logger *logrus.Entry) (*Engine, error) {
	codec, err := aead.New(cfg.Cipher)
	if err != nil {
		return nil, err
	}
	return NewEngine(
		WithMaxSkip(cfg.MaxSkip),
		WithMaxSkippedKeys(cfg.MaxSkippedKeys),
		WithMaxRetiredKeys(cfg.MaxRetiredKeys),
		WithCodec(codec),
		WithLogger(logger),
	), nil
}

// MaxSkip returns the maximum number of message keys that can be skipped in a single chain
func (e *Engine) MaxSkip() MsgIndex {
	return e.maxSkip
}

// InitAlice initializes the Double Ratchet for the sender
func (e *Engine) InitAlice(sk RatchetKey, bobDHPubKey key_ed25519.PublicKey) (*State, error) {
	// Init Dhs
	dhs, err := generateDH()
	if err != nil {
		return nil, err
	}

	// Init Rk, Cks
	rk, cks, err := kdfRk(sk, dhs.Priv, bobDHPubKey)
	if err != nil {
		dhs.Wipe()
		return nil, fmt.Errorf("%w: responder ratchet key: %v", protocol.ErrHandshake, err)
	}

	dhr := bobDHPubKey
	return &State{
		Dhs:     *dhs,
		Dhr:     &dhr,
		Rk:      rk,
		Cks:     &cks,
		skipped: newSkippedKeys(e.maxSkippedKeys),
		// Ckr, Ns, Nr, Pn are init as zero values
	}, nil
}

// InitBob initializes the Double Ratchet for the receiver
func (e *Engine) InitBob(sk RatchetKey, bobDHKeyPair key_ed25519.Pair) *State {
	return &State{
		Dhs:     bobDHKeyPair,
		Rk:      sk,
		skipped: newSkippedKeys(e.maxSkippedKeys),
		// Dhr, Cks, Ckr, Ns, Nr, Pn are init as zero values
	}
}

// Encrypt performs a symmetric-key ratchet step, then encrypts the message with the resulting message key. The
// associated data passed to the AEAD is associatedData followed by the encoded header. The DH key pair is only
// rotated by a DH ratchet step in Decrypt.
func (e *Engine) Encrypt(st *State, plaintext []byte, associatedData []byte) (*Message, *State, error) {
	if st.Cks == nil {
		return nil, nil, ErrNoSendingChain
	}
	newState := st.clone(e.maxSkippedKeys)

	// 1. Generate current message key & update chain key
	cks, mk := kdfCk(*newState.Cks)
	newState.Cks = &cks
	defer memguard.WipeBytes(mk[:])

	// 2. Create header
	header := Header{
		RatchetPub: newState.Dhs.Pub,
		Pn:         newState.Pn,
		N:          newState.Ns,
	}

	// 3. Update State.Ns
	newState.Ns++

	// 4. Encrypt plaintext w/ associatedData + header
	sealed, err := e.codec.Seal(mk[:], plaintext, concat(associatedData, header))
	if err != nil {
		return nil, nil, err
	}
	return &Message{Header: header, Sealed: *sealed}, newState, nil
}

// Decrypt decrypts msg and returns the updated state. It does the following:
// • If the message corresponds to a skipped message key this function decrypts the message,
// deletes the message key, and returns.
// • Otherwise, if a new ratchet key has been received this function stores any skipped message keys from the
// receiving chain and performs a DH ratchet step to replace the sending and receiving chains.
// • This function then stores any skipped message keys from the current receiving chain, performs a symmetric-key
// ratchet step to derive the relevant message key and next chain key, and decrypts the message.
// On any error st is left untouched and no new state is returned.
func (e *Engine) Decrypt(st *State, msg *Message, associatedData []byte) (plaintext []byte, _ *State, err error) {
	var (
		header   = msg.Header
		newState = st.clone(e.maxSkippedKeys)
		log      = e.logger.WithFields(logrus.Fields{"pn": header.Pn, "n": header.N})
	)
	defer func() {
		if err != nil {
			newState.Wipe()
		}
	}()

	// 1. Try to decrypt with skipped message keys
	if mk, ok := newState.skipped.take(mkSkippedKey{RatchetPub: header.RatchetPub, N: header.N}); ok {
		if plaintext, err = e.open(mk, msg, associatedData); err != nil {
			return nil, nil, err
		}
		log.Debug("decrypted with skipped message key")
		return plaintext, newState, nil
	}

	// 2. If a new ratchet key has been received, save skipped message keys from the receiving chain and
	// perform a DH ratchet step
	if newState.Dhr == nil || !header.RatchetPub.Equals(newState.Dhr) {
		if newState.isRetired(header.RatchetPub) {
			return nil, nil, ErrRetiredRatchetKey
		}
		if err := e.skipMessageKeys(newState, header.Pn); err != nil {
			return nil, nil, err
		}
		if err := e.dhRatchet(newState, header.RatchetPub); err != nil {
			return nil, nil, err
		}
		log.Debug("dh ratchet step")
	}
	if newState.Ckr == nil {
		return nil, nil, ErrNoReceivingChain
	}

	// 3. Store skipped message keys from the current receiving chain if needed
	if header.N < newState.Nr {
		return nil, nil, ErrMessageReplayed
	}
	if err := e.skipMessageKeys(newState, header.N); err != nil {
		return nil, nil, err
	}

	// 4. Get message key
	ckr, mk := kdfCk(*newState.Ckr)
	newState.Ckr = &ckr
	newState.Nr++

	// 5. Decrypt, the new state is only handed out on success
	if plaintext, err = e.open(mk, msg, associatedData); err != nil {
		return nil, nil, err
	}
	return plaintext, newState, nil
}

func (e *Engine) open(mk MsgKey, msg *Message, associatedData []byte) ([]byte, error) {
	defer memguard.WipeBytes(mk[:])
	plaintext, err := e.codec.Open(mk[:], &msg.Sealed, concat(associatedData, msg.Header))
	if err != nil {
		return nil, ErrInvalidTag
	}
	return plaintext, nil
}

// skipMessageKeys caches the receiving chain's keys up to (not including) until. The gap is checked before
// anything is derived.
func (e *Engine) skipMessageKeys(newState *State, until MsgIndex) error {
	if newState.Ckr == nil {
		return nil
	}
	if until > newState.Nr && until-newState.Nr > e.maxSkip {
		return ErrSkippingTooManyKeys
	}

	for newState.Nr < until {
		ckr, mk := kdfCk(*newState.Ckr)
		newState.Ckr = &ckr
		newState.skipped.put(mkSkippedKey{
			RatchetPub: *newState.Dhr,
			N:          newState.Nr,
		}, mk)
		newState.Nr++
	}
	return nil
}

// dhRatchet runs both halves of a DH ratchet step: a receiving chain from the peer's new key, then a fresh
// sending key pair and sending chain.
func (e *Engine) dhRatchet(newState *State, theirPub key_ed25519.PublicKey) error {
	if newState.Dhr != nil {
		newState.retire(*newState.Dhr, e.maxRetiredKeys)
	}
	newState.Pn = newState.Ns
	newState.Ns = 0
	newState.Nr = 0
	newState.Dhr = &theirPub

	rk, ckr, err := kdfRk(newState.Rk, newState.Dhs.Priv, theirPub)
	if err != nil {
		// a header key that is not a usable point can only come from tampering
		return ErrNoReceivingChain
	}
	newState.Rk = rk
	newState.Ckr = &ckr

	dhs, err := generateDH()
	if err != nil {
		return err
	}
	newState.Dhs.Wipe()
	newState.Dhs = *dhs

	rk, cks, err := kdfRk(newState.Rk, newState.Dhs.Priv, theirPub)
	if err != nil {
		return ErrNoReceivingChain
	}
	newState.Rk = rk
	newState.Cks = &cks
	return nil
}
