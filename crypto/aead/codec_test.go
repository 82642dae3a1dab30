package aead

import (
	"bytes"
	"crypto/rand"
	"testing"

	"vault-signal/configs"
	"vault-signal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) []byte {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSealOpen(t *testing.T) {
	for _, name := range []string{configs.CipherChaCha20Poly1305, configs.CipherAES256GCM} {
		t.Run(name, func(t *testing.T) {
			c, err := New(name)
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())

			key := newKey(t)
			ad := []byte("header bytes")
			plaintext := []byte("attack at dawn")

			sealed, err := c.Seal(key, plaintext, ad)
			require.NoError(t, err)
			assert.Len(t, sealed.Ciphertext, len(plaintext))

			opened, err := c.Open(key, sealed, ad)
			require.NoError(t, err)
			assert.Equal(t, plaintext, opened)

			t.Run("fresh nonce per call", func(t *testing.T) {
				again, err := c.Seal(key, plaintext, ad)
				require.NoError(t, err)
				assert.NotEqual(t, sealed.Nonce, again.Nonce)
				assert.False(t, bytes.Equal(sealed.Ciphertext, again.Ciphertext))
			})

			t.Run("empty plaintext", func(t *testing.T) {
				s, err := c.Seal(key, nil, ad)
				require.NoError(t, err)
				pt, err := c.Open(key, s, ad)
				require.NoError(t, err)
				assert.Empty(t, pt)
			})
		})
	}
}

func TestOpenTampered(t *testing.T) {
	c := Default()
	key := newKey(t)
	ad := []byte("header bytes")

	fresh := func() *Sealed {
		s, err := c.Seal(key, []byte("attack at dawn"), ad)
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name   string
		tamper func(s *Sealed) ([]byte, []byte)
	}{
		{"flipped ciphertext bit", func(s *Sealed) ([]byte, []byte) { s.Ciphertext[0] ^= 0x01; return key, ad }},
		{"flipped tag bit", func(s *Sealed) ([]byte, []byte) { s.Tag[15] ^= 0x80; return key, ad }},
		{"flipped nonce bit", func(s *Sealed) ([]byte, []byte) { s.Nonce[0] ^= 0x01; return key, ad }},
		{"different associated data", func(s *Sealed) ([]byte, []byte) { return key, []byte("other header") }},
		{"truncated ciphertext", func(s *Sealed) ([]byte, []byte) { s.Ciphertext = s.Ciphertext[:3]; return key, ad }},
		{"wrong key", func(s *Sealed) ([]byte, []byte) { return newKey(t), ad }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fresh()
			k, a := tt.tamper(s)
			pt, err := c.Open(k, s, a)
			assert.ErrorIs(t, err, protocol.ErrAuthentication)
			assert.Nil(t, pt)
		})
	}
}

func TestBadInputs(t *testing.T) {
	_, err := New("rot13")
	assert.ErrorIs(t, err, ErrUnknownCipher)

	c := Default()
	_, err = c.Seal(make([]byte, 16), []byte("x"), nil)
	assert.ErrorIs(t, err, ErrKeyLength)

	_, err = c.Open(newKey(t), nil, nil)
	assert.ErrorIs(t, err, protocol.ErrAuthentication)

	sealed, err := c.Seal(newKey(t), []byte("x"), nil)
	require.NoError(t, err)
	for _, n := range []int{0, 16, 31, 33} {
		_, err = c.Open(make([]byte, n), sealed, nil)
		assert.ErrorIs(t, err, protocol.ErrAuthentication, "key length %d", n)
		assert.ErrorIs(t, err, ErrKeyLength, "key length %d", n)
	}
}
