package x3dh

import (
	"bytes"
	"errors"
	"testing"

	"vault-signal/crypto/key_ed25519"
	"vault-signal/crypto/signer_schnorr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSharedKey(t *testing.T) {
	dh := [][]byte{
		bytes.Repeat([]byte{1}, 32),
		bytes.Repeat([]byte{2}, 32),
		bytes.Repeat([]byte{3}, 32),
	}

	three, err := DeriveSharedKey(dh...)
	require.NoError(t, err)
	assert.Len(t, three, 32)

	again, err := DeriveSharedKey(dh...)
	require.NoError(t, err)
	assert.Equal(t, three, again)

	four, err := DeriveSharedKey(append(dh, bytes.Repeat([]byte{4}, 32))...)
	require.NoError(t, err)
	assert.NotEqual(t, three, four)

	swapped, err := DeriveSharedKey(dh[1], dh[0], dh[2])
	require.NoError(t, err)
	assert.NotEqual(t, three, swapped, "order of DH outputs matters")
}

func TestAssociatedData(t *testing.T) {
	a := key_ed25519.PublicKey{1}
	b := key_ed25519.PublicKey{2}

	ad := AssociatedData(a, b)
	assert.Len(t, ad, 64)
	assert.Equal(t, a[:], ad[:32])
	assert.Equal(t, b[:], ad[32:])
	assert.NotEqual(t, ad, AssociatedData(b, a))
}

func TestPairIdentity(t *testing.T) {
	pair, err := key_ed25519.NewPair()
	require.NoError(t, err)
	id := &PairIdentity{Pair: *pair}
	assert.Equal(t, pair.Pub, id.PublicKey())

	sig, err := id.Sign([]byte("prekey"))
	require.NoError(t, err)
	assert.NoError(t, signer_schnorr.Verify(pair.Pub, []byte("prekey"), sig))

	peer, err := key_ed25519.NewPair()
	require.NoError(t, err)
	ours, err := id.SharedSecret(peer.Pub)
	require.NoError(t, err)
	theirs, err := (&PairIdentity{Pair: *peer}).SharedSecret(pair.Pub)
	require.NoError(t, err)
	assert.Equal(t, ours, theirs)
}

func TestComputeDHs(t *testing.T) {
	errWeak := errors.New("weak")
	constant := func(b byte) DHStep {
		return func() ([]byte, error) { return bytes.Repeat([]byte{b}, 32), nil }
	}

	t.Run("all steps succeed", func(t *testing.T) {
		dhs, err := ComputeDHs(constant(1), constant(2), constant(3))
		require.NoError(t, err)
		require.Len(t, dhs, 3)
		assert.Equal(t, bytes.Repeat([]byte{2}, 32), dhs[1])
	})

	t.Run("earlier outputs wiped on failure", func(t *testing.T) {
		var handedOut [][]byte
		recording := func(b byte) DHStep {
			return func() ([]byte, error) {
				dh := bytes.Repeat([]byte{b}, 32)
				handedOut = append(handedOut, dh)
				return dh, nil
			}
		}
		failing := func() ([]byte, error) { return nil, errWeak }

		dhs, err := ComputeDHs(recording(1), recording(2), failing, recording(4))
		assert.ErrorIs(t, err, errWeak)
		assert.ErrorContains(t, err, "dh3")
		assert.Nil(t, dhs)
		require.Len(t, handedOut, 2, "steps after the failure must not run")
		for _, dh := range handedOut {
			assert.Equal(t, make([]byte, 32), dh)
		}
	})
}
