package bob

import (
	"bytes"
	"testing"

	"vault-signal/crypto/dh25519"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/protocol"
	"vault-signal/protocol/x3dh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformKeyAgreement(t *testing.T) {
	tests := []struct {
		name              string
		withOneTimePrekey bool
	}{
		{"Normal case with Bob's one-time prekey", true},
		{"Case without Bob's one-time prekey", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bobBundle := generateBobKeys(t, tt.withOneTimePrekey)
			aliceID, aliceEph := newPair(t), newPair(t)

			key, ad, err := PerformKeyAgreement(bobBundle, &ReceivedAliceKeyBundle{
				IdentityKey:  aliceID.Pub,
				EphemeralKey: aliceEph.Pub,
			}, nil)
			require.NoError(t, err)
			assert.Len(t, key, 32)
			assert.Equal(t, x3dh.AssociatedData(aliceID.Pub, bobBundle.Identity.PublicKey()), ad)

			// Simulate Alice deriving the same key
			dh1, err := dh25519.GetSharedSecret(aliceID.Priv, bobBundle.Prekey.Pub)
			require.NoError(t, err)
			dh2, err := dh25519.GetSharedSecret(aliceEph.Priv, bobBundle.Identity.PublicKey())
			require.NoError(t, err)
			dh3, err := dh25519.GetSharedSecret(aliceEph.Priv, bobBundle.Prekey.Pub)
			require.NoError(t, err)
			dhs := [][]byte{dh1, dh2, dh3}
			if tt.withOneTimePrekey {
				dh4, err := dh25519.GetSharedSecret(aliceEph.Priv, bobBundle.OneTimePrekey.Pub)
				require.NoError(t, err)
				dhs = append(dhs, dh4)
			}
			want, err := x3dh.DeriveSharedKey(dhs...)
			require.NoError(t, err)
			assert.Equal(t, want, key)
		})
	}
}

func TestPerformKeyAgreementRejectsBadKeys(t *testing.T) {
	bobBundle := generateBobKeys(t, true)
	good := newPair(t).Pub

	tests := []struct {
		name  string
		alice ReceivedAliceKeyBundle
	}{
		{"zero identity key", ReceivedAliceKeyBundle{EphemeralKey: good}},
		{"zero ephemeral key", ReceivedAliceKeyBundle{IdentityKey: good}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, _, err := PerformKeyAgreement(bobBundle, &tt.alice, nil)
			assert.ErrorIs(t, err, protocol.ErrHandshake)
			assert.Nil(t, key)
		})
	}
}

// recordingIdentity hands out a fixed DH output and keeps it so the caller can check it was wiped.
type recordingIdentity struct {
	*x3dh.PairIdentity
	secrets [][]byte
}

func (r *recordingIdentity) SharedSecret(key_ed25519.PublicKey) ([]byte, error) {
	secret := bytes.Repeat([]byte{0xaa}, 32)
	r.secrets = append(r.secrets, secret)
	return secret, nil
}

func TestPerformKeyAgreementWipesOnFailure(t *testing.T) {
	bobBundle := generateBobKeys(t, false)
	id := &recordingIdentity{PairIdentity: bobBundle.Identity.(*x3dh.PairIdentity)}
	bobBundle.Identity = id

	// dh2 comes from the identity, dh3 fails on the zero ephemeral key
	_, _, err := PerformKeyAgreement(bobBundle, &ReceivedAliceKeyBundle{IdentityKey: newPair(t).Pub}, nil)
	require.ErrorIs(t, err, protocol.ErrHandshake)
	require.Len(t, id.secrets, 1)
	assert.Equal(t, make([]byte, 32), id.secrets[0])
}

// Helper functions

func newPair(t *testing.T) *key_ed25519.Pair {
	pair, err := key_ed25519.NewPair()
	require.NoError(t, err)
	return pair
}

func generateBobKeys(t *testing.T, withOneTimePrekey bool) *BobPrekeyBundle {
	b := &BobPrekeyBundle{
		Identity: &x3dh.PairIdentity{Pair: *newPair(t)},
		Prekey:   *newPair(t),
	}
	if withOneTimePrekey {
		b.OneTimePrekey = newPair(t)
	}
	return b
}
