package common

import (
	"fmt"

	"vault-signal/crypto/key_ed25519"
	"vault-signal/crypto/signer_schnorr"
	"vault-signal/protocol"
	"vault-signal/protocol/x3dh/alice"
)

// PrekeyBundle is what a user publishes to the directory. When published it lists every one-time prekey; when
// fetched it carries at most one.
type PrekeyBundle struct {
	UserID          string   `json:"user_id"`
	IdentityKey     []byte   `json:"identity_key"`
	SignedPrekey    []byte   `json:"signed_prekey"`
	SignedPrekeySig []byte   `json:"signed_prekey_sig"`
	OneTimePrekeys  [][]byte `json:"one_time_prekeys,omitempty"`
	KEMScheme       string   `json:"kem_scheme,omitempty"`
	KEMPrekey       []byte   `json:"kem_prekey,omitempty"`
	KEMPrekeySig    []byte   `json:"kem_prekey_sig,omitempty"`
}

// Validate checks field lengths only.
func (b *PrekeyBundle) Validate() error {
	if b.UserID == "" {
		return fmt.Errorf("%w: missing user id", protocol.ErrSerialization)
	}
	if err := fixedLen("identity_key", b.IdentityKey, key_ed25519.Size); err != nil {
		return err
	}
	if err := fixedLen("signed_prekey", b.SignedPrekey, key_ed25519.Size); err != nil {
		return err
	}
	if err := fixedLen("signed_prekey_sig", b.SignedPrekeySig, SignatureSize); err != nil {
		return err
	}
	for i, otk := range b.OneTimePrekeys {
		if err := fixedLen(fmt.Sprintf("one_time_prekeys[%d]", i), otk, key_ed25519.Size); err != nil {
			return err
		}
	}
	if len(b.KEMPrekey) > 0 {
		if b.KEMScheme == "" {
			return fmt.Errorf("%w: kem prekey without scheme", protocol.ErrSerialization)
		}
		return fixedLen("kem_prekey_sig", b.KEMPrekeySig, SignatureSize)
	}
	return nil
}

// VerifySignatures checks the signed prekey and KEM prekey signatures against the identity key.
func (b *PrekeyBundle) VerifySignatures() error {
	if err := b.Validate(); err != nil {
		return err
	}
	id := key_ed25519.PublicKey(b.IdentityKey)
	if err := signer_schnorr.Verify(id, b.SignedPrekey, b.SignedPrekeySig); err != nil {
		return fmt.Errorf("%w: signed prekey: %v", protocol.ErrHandshake, err)
	}
	if len(b.KEMPrekey) > 0 {
		if err := signer_schnorr.Verify(id, b.KEMPrekey, b.KEMPrekeySig); err != nil {
			return fmt.Errorf("%w: kem prekey: %v", protocol.ErrHandshake, err)
		}
	}
	return nil
}

// ToX3DH converts a fetched bundle into the initiator's view, taking the first one-time prekey if present.
func (b *PrekeyBundle) ToX3DH() (*alice.BobPrekeyBundle, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrHandshake, err)
	}
	out := &alice.BobPrekeyBundle{
		IdentityKey:  key_ed25519.PublicKey(b.IdentityKey),
		Prekey:       key_ed25519.PublicKey(b.SignedPrekey),
		PrekeySig:    b.SignedPrekeySig,
		KEMPrekey:    b.KEMPrekey,
		KEMPrekeySig: b.KEMPrekeySig,
	}
	if len(b.OneTimePrekeys) > 0 {
		otk := key_ed25519.PublicKey(b.OneTimePrekeys[0])
		out.OneTimePrekey = &otk
	}
	return out, nil
}
