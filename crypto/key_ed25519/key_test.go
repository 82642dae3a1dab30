package key_ed25519

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPair(t *testing.T) {
	pair, err := NewPair()
	require.NoError(t, err)
	assert.False(t, pair.Pub.IsZero())
	assert.NoError(t, pair.Pub.Validate())

	pub, err := pair.Priv.Public()
	require.NoError(t, err)
	assert.True(t, pair.Pub.Equals(pub))

	other, err := NewPair()
	require.NoError(t, err)
	assert.NotEqual(t, pair.Priv, other.Priv)
	assert.False(t, pair.Pub.Equals(&other.Pub))
}

func TestPublicKeyValidate(t *testing.T) {
	tests := []struct {
		name string
		key  PublicKey
	}{
		{"all zero", PublicKey{}},
		{"identity point", PublicKey{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.key.Validate(), ErrInvalidKey)
		})
	}
}

func TestFromBytes(t *testing.T) {
	_, err := PublicKeyFromBytes(make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = PrivateKeyFromBytes(make([]byte, 33))
	assert.ErrorIs(t, err, ErrInvalidLength)

	pair, err := NewPair()
	require.NoError(t, err)
	priv, err := PrivateKeyFromBytes(pair.Priv[:])
	require.NoError(t, err)
	assert.Equal(t, pair.Priv, *priv)
}

func TestWipe(t *testing.T) {
	pair, err := NewPair()
	require.NoError(t, err)
	pair.Wipe()
	assert.Equal(t, PrivateKey{}, pair.Priv)
}
