package dh25519

import (
	"testing"

	"vault-signal/crypto/key_ed25519"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSharedSecret(t *testing.T) {
	alice, err := key_ed25519.NewPair()
	require.NoError(t, err)
	bob, err := key_ed25519.NewPair()
	require.NoError(t, err)

	ab, err := GetSharedSecret(alice.Priv, bob.Pub)
	require.NoError(t, err)
	ba, err := GetSharedSecret(bob.Priv, alice.Pub)
	require.NoError(t, err)

	assert.Len(t, ab, 32)
	assert.Equal(t, ab, ba)
}

func TestGetSharedSecretRejectsBadKeys(t *testing.T) {
	pair, err := key_ed25519.NewPair()
	require.NoError(t, err)

	tests := []struct {
		name string
		pub  key_ed25519.PublicKey
	}{
		{"zero public key", key_ed25519.PublicKey{}},
		{"identity public key", key_ed25519.PublicKey{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret, err := GetSharedSecret(pair.Priv, tt.pub)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Nil(t, secret)
		})
	}
}
