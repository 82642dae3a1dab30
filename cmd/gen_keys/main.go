package main

import (
	"fmt"

	"vault-signal/configs"
	"vault-signal/keystore"
	"vault-signal/protocol/fingerprint"
	"vault-signal/protocol/hybrid"
	"vault-signal/store"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logger = logrus.New()

	configPath string
	storePath  string
	userID     string
)

func main() {
	cmd := &cobra.Command{
		Use:          "gen_keys",
		Short:        "Create the identity key and prekeys in the local store",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := configs.Load(configPath)
			if err != nil {
				return err
			}
			if storePath != "" {
				cfg.Client.StorePath = storePath
			}

			kv, err := store.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer kv.Close()

			hx, err := hybrid.NewFromConfig(cfg.Hybrid)
			if err != nil {
				return err
			}
			ids := keystore.NewIdentityKeyStore(kv)
			if err := keystore.NewPrekeyStore(kv, ids, hx).Init(ctx, cfg.Client.OneTimePrekeys); err != nil {
				return err
			}
			id, err := ids.LoadOrCreate(ctx)
			if err != nil {
				return err
			}
			defer ids.Wipe()

			pub := id.PublicKey()
			fmt.Fprintf(cmd.OutOrStdout(), "PUBLIC: %x\n", pub[:])
			fmt.Fprintf(cmd.OutOrStdout(), "FINGERPRINT: %s\n", fingerprint.Fingerprint(pub, []byte(userID)))
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	cmd.Flags().StringVar(&storePath, "store", "", "key database (overrides client.store_path)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id the fingerprint is computed for")
	cmd.MarkFlagRequired("user")

	if err := cmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}
