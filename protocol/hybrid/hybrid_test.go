package hybrid

import (
	"bytes"
	"testing"

	"vault-signal/configs"
	"vault-signal/crypto/kem"
	"vault-signal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombine(t *testing.T) {
	classical := bytes.Repeat([]byte{0x11}, 32)
	pq := bytes.Repeat([]byte{0x22}, 32)

	a, err := Combine(classical, pq)
	require.NoError(t, err)
	assert.Len(t, a, 32)

	b, err := Combine(classical, pq)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	t.Run("each input changes the output", func(t *testing.T) {
		c, err := Combine(bytes.Repeat([]byte{0x12}, 32), pq)
		require.NoError(t, err)
		assert.NotEqual(t, a, c)

		d, err := Combine(classical, bytes.Repeat([]byte{0x23}, 32))
		require.NoError(t, err)
		assert.NotEqual(t, a, d)
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		assert.Equal(t, bytes.Repeat([]byte{0x11}, 32), classical)
		assert.Equal(t, bytes.Repeat([]byte{0x22}, 32), pq)
	})
}

func TestCombineRejectsPlaceholders(t *testing.T) {
	tests := []struct {
		name      string
		classical []byte
		pq        []byte
	}{
		{"all-zero post-quantum secret", bytes.Repeat([]byte{1}, 32), make([]byte, 32)},
		{"empty post-quantum secret", bytes.Repeat([]byte{1}, 32), nil},
		{"empty classical secret", nil, bytes.Repeat([]byte{1}, 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Combine(tt.classical, tt.pq)
			assert.ErrorIs(t, err, protocol.ErrHandshake)
			assert.Nil(t, out)
		})
	}
}

func TestExchange(t *testing.T) {
	for _, name := range []string{configs.KEMMLKEM768, configs.KEMXWing} {
		t.Run(name, func(t *testing.T) {
			x, err := NewFromConfig(configs.HybridConfig{Enabled: true, KEM: name})
			require.NoError(t, err)
			require.NotNil(t, x)

			kp, err := x.GenerateKeyPair()
			require.NoError(t, err)

			classical := bytes.Repeat([]byte{0x42}, 32)
			ct, sent, err := x.Encapsulate(classical, kp.Public)
			require.NoError(t, err)

			received, err := x.Decapsulate(classical, kp.Private, ct)
			require.NoError(t, err)
			assert.Equal(t, sent, received)

			other, err := x.Decapsulate(bytes.Repeat([]byte{0x43}, 32), kp.Private, ct)
			require.NoError(t, err)
			assert.NotEqual(t, sent, other, "classical secret must feed the result")
		})
	}
}

func TestExchangeBadInputs(t *testing.T) {
	scheme, err := kem.ByName(configs.KEMMLKEM768)
	require.NoError(t, err)
	x := New(scheme)

	_, _, err = x.Encapsulate(bytes.Repeat([]byte{1}, 32), make([]byte, 12))
	assert.ErrorIs(t, err, protocol.ErrHandshake)

	kp, err := x.GenerateKeyPair()
	require.NoError(t, err)
	_, err = x.Decapsulate(bytes.Repeat([]byte{1}, 32), kp.Private, []byte("short"))
	assert.ErrorIs(t, err, protocol.ErrHandshake)
}

func TestDisabled(t *testing.T) {
	x, err := NewFromConfig(configs.HybridConfig{Enabled: false, KEM: "whatever"})
	require.NoError(t, err)
	assert.Nil(t, x)
}
