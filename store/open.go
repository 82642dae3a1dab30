package store

import (
	"context"

	"vault-signal/configs"
	"vault-signal/crypto/aead"
)

// Open opens the client's bbolt database, sealed under the configured passphrase when one is set.
func Open(ctx context.Context, cfg *configs.Config) (KV, error) {
	db, err := OpenBolt(cfg.Client.StorePath)
	if err != nil {
		return nil, err
	}
	if cfg.Client.Passphrase == "" {
		return db, nil
	}

	codec, err := aead.New(cfg.Ratchet.Cipher)
	if err != nil {
		db.Close()
		return nil, err
	}
	sealed, err := NewSealed(ctx, db, []byte(cfg.Client.Passphrase), DefaultArgon2Params, codec)
	if err != nil {
		db.Close()
		return nil, err
	}
	return sealed, nil
}
