package keystore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"vault-signal/configs"
	"vault-signal/crypto/key_ed25519"
	"vault-signal/crypto/signer_schnorr"
	"vault-signal/protocol"
	"vault-signal/protocol/hybrid"
	"vault-signal/protocol/x3dh/alice"
	"vault-signal/protocol/x3dh/bob"
	"vault-signal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityKeyStore(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	ks := NewIdentityKeyStore(kv)

	first, err := ks.LoadOrCreate(ctx)
	require.NoError(t, err)
	assert.NoError(t, first.PublicKey().Validate())

	t.Run("cached", func(t *testing.T) {
		again, err := ks.LoadOrCreate(ctx)
		require.NoError(t, err)
		assert.Same(t, first, again)
	})

	t.Run("persisted across stores", func(t *testing.T) {
		other, err := NewIdentityKeyStore(kv).LoadOrCreate(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.PublicKey(), other.PublicKey())
	})

	t.Run("sign and dh", func(t *testing.T) {
		sig, err := first.Sign([]byte("prekey"))
		require.NoError(t, err)
		assert.NoError(t, signer_schnorr.Verify(first.PublicKey(), []byte("prekey"), sig))

		peer, err := key_ed25519.NewPair()
		require.NoError(t, err)
		secret, err := first.SharedSecret(peer.Pub)
		require.NoError(t, err)
		assert.Len(t, secret, 32)
	})

	t.Run("wipe keeps persisted key", func(t *testing.T) {
		pub := first.PublicKey()
		ks.Wipe()
		assert.True(t, first.Wiped())
		_, err := first.Sign([]byte("x"))
		assert.ErrorIs(t, err, ErrWiped)
		_, err = first.SharedSecret(pub)
		assert.ErrorIs(t, err, ErrWiped)

		reloaded, err := ks.LoadOrCreate(ctx)
		require.NoError(t, err)
		assert.Equal(t, pub, reloaded.PublicKey())
		assert.False(t, reloaded.Wiped())
	})
}

func TestIdentityKeyStoreGenerationFailure(t *testing.T) {
	ks := NewIdentityKeyStore(store.NewMemory())
	ks.newKey = func() (*key_ed25519.PrivateKey, error) { return nil, errors.New("entropy source unavailable") }

	_, err := ks.LoadOrCreate(context.Background())
	assert.ErrorIs(t, err, protocol.ErrKeyGeneration)
}

func TestIdentityWipeWhileInUse(t *testing.T) {
	ctx := context.Background()
	pair, err := NewIdentityKeyStore(store.NewMemory()).LoadOrCreate(ctx)
	require.NoError(t, err)
	peer, err := key_ed25519.NewPair()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 128)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				if _, err := pair.Sign([]byte("prekey")); err != nil {
					errs <- err
				}
				if _, err := pair.SharedSecret(peer.Pub); err != nil {
					errs <- err
				}
			}
		}()
	}
	pair.Wipe()
	wg.Wait()
	close(errs)

	assert.True(t, pair.Wiped())
	for err := range errs {
		assert.ErrorIs(t, err, ErrWiped)
	}
}

func TestPrekeyStore(t *testing.T) {
	hx, err := hybrid.NewFromConfig(configs.HybridConfig{Enabled: true, KEM: configs.KEMMLKEM768})
	require.NoError(t, err)

	tests := []struct {
		name   string
		hybrid *hybrid.Exchange
	}{
		{"classical", nil},
		{"hybrid", hx},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			kv := store.NewMemory()
			ids := NewIdentityKeyStore(kv)
			ps := NewPrekeyStore(kv, ids, tt.hybrid)

			_, err := ps.Bundle(ctx, "bob")
			assert.ErrorIs(t, err, ErrNoPrekeys)

			require.NoError(t, ps.Init(ctx, 3))
			b, err := ps.Bundle(ctx, "bob")
			require.NoError(t, err)
			require.NoError(t, b.VerifySignatures())
			assert.Len(t, b.OneTimePrekeys, 3)
			assert.Equal(t, tt.hybrid != nil, len(b.KEMPrekey) > 0)

			// Init again keeps the signed prekey and only tops up
			require.NoError(t, ps.Init(ctx, 5))
			b2, err := ps.Bundle(ctx, "bob")
			require.NoError(t, err)
			assert.Equal(t, b.SignedPrekey, b2.SignedPrekey)
			assert.Len(t, b2.OneTimePrekeys, 5)
			assert.Equal(t, b.OneTimePrekeys, b2.OneTimePrekeys[:3])

			// Full handshake against the published bundle
			fetched := *b2
			fetched.OneTimePrekeys = b2.OneTimePrekeys[:1]
			public, err := fetched.ToX3DH()
			require.NoError(t, err)

			initiator, err := NewIdentityKeyStore(store.NewMemory()).LoadOrCreate(ctx)
			require.NoError(t, err)
			res, err := alice.PerformKeyAgreement(public, initiator, tt.hybrid)
			require.NoError(t, err)

			private, err := ps.Responder(ctx, res.OneTimePrekey)
			require.NoError(t, err)
			key, _, err := bob.PerformKeyAgreement(private, &bob.ReceivedAliceKeyBundle{
				IdentityKey:   initiator.PublicKey(),
				EphemeralKey:  res.EphemeralKey,
				KEMCiphertext: res.KEMCiphertext,
			}, tt.hybrid)
			require.NoError(t, err)
			assert.Equal(t, res.SharedKey, key)
			private.Wipe()

			// Looking up does not consume, consuming does
			_, err = ps.OneTimePrekey(ctx, *res.OneTimePrekey)
			require.NoError(t, err)
			require.NoError(t, ps.ConsumeOneTimePrekey(ctx, *res.OneTimePrekey))
			n, err := ps.OneTimePrekeyCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			assert.ErrorIs(t, ps.ConsumeOneTimePrekey(ctx, *res.OneTimePrekey), protocol.ErrHandshake)
			_, err = ps.Responder(ctx, res.OneTimePrekey)
			assert.ErrorIs(t, err, protocol.ErrHandshake)
		})
	}
}

func TestAcceptHandshake(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	ps := NewPrekeyStore(kv, NewIdentityKeyStore(kv), nil)
	require.NoError(t, ps.Init(ctx, 2))
	b, err := ps.Bundle(ctx, "bob")
	require.NoError(t, err)
	otk := key_ed25519.PublicKey(b.OneTimePrekeys[0])

	eph, err := key_ed25519.NewPair()
	require.NoError(t, err)
	seen, err := ps.HandshakeAccepted(ctx, eph.Pub)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, ps.AcceptHandshake(ctx, eph.Pub, &otk))
	seen, err = ps.HandshakeAccepted(ctx, eph.Pub)
	require.NoError(t, err)
	assert.True(t, seen)
	n, err := ps.OneTimePrekeyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one-time prekey consumed")

	t.Run("twice", func(t *testing.T) {
		assert.ErrorIs(t, ps.AcceptHandshake(ctx, eph.Pub, nil), protocol.ErrReplay)
	})

	t.Run("survives a new store", func(t *testing.T) {
		seen, err := NewPrekeyStore(kv, NewIdentityKeyStore(kv), nil).HandshakeAccepted(ctx, eph.Pub)
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("unknown one-time prekey", func(t *testing.T) {
		other, err := key_ed25519.NewPair()
		require.NoError(t, err)
		assert.ErrorIs(t, ps.AcceptHandshake(ctx, other.Pub, &otk), protocol.ErrHandshake)
		seen, err := ps.HandshakeAccepted(ctx, other.Pub)
		require.NoError(t, err)
		assert.False(t, seen, "nothing recorded on failure")
	})
}

func TestPrekeyStoreSealed(t *testing.T) {
	ctx := context.Background()
	sealed, err := store.NewSealed(ctx, store.NewMemory(), []byte("passphrase"),
		store.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1}, nil)
	require.NoError(t, err)

	ps := NewPrekeyStore(sealed, NewIdentityKeyStore(sealed), nil)
	require.NoError(t, ps.Init(ctx, 2))
	n, err := ps.OneTimePrekeyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
