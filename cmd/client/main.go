package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vault-signal/client"
	"vault-signal/configs"
	"vault-signal/keystore"
	"vault-signal/protocol/doubleratchet"
	"vault-signal/protocol/fingerprint"
	"vault-signal/protocol/hybrid"
	"vault-signal/session"
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
	if err := newRootCmd().Execute(); err != nil {
		logger.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "client",
		Short:        "End-to-end encrypted chat client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	root.PersistentFlags().StringVar(&storePath, "store", "", "key and session database (overrides client.store_path)")
	root.PersistentFlags().StringVarP(&userID, "user", "u", "", "our user id")
	root.MarkPersistentFlagRequired("user")

	root.AddCommand(publishCmd(), chatCmd(), fingerprintCmd())
	return root
}

// env is everything a command needs, opened from configuration.
type env struct {
	cfg     *configs.Config
	kv      store.KV
	ids     *keystore.IdentityKeyStore
	prekeys *keystore.PrekeyStore
	hybrid  *hybrid.Exchange
	dir     *client.Directory
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := configs.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	if storePath != "" {
		cfg.Client.StorePath = storePath
	}
	kv, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Client.Passphrase == "" {
		logger.Warn("No passphrase set, keys are stored unencrypted")
	}

	hx, err := hybrid.NewFromConfig(cfg.Hybrid)
	if err != nil {
		kv.Close()
		return nil, err
	}
	ids := keystore.NewIdentityKeyStore(kv)
	return &env{
		cfg:     cfg,
		kv:      kv,
		ids:     ids,
		prekeys: keystore.NewPrekeyStore(kv, ids, hx),
		hybrid:  hx,
		dir:     client.NewDirectory(cfg.Client.ServerURL, nil),
	}, nil
}

func (e *env) manager() (*session.Manager, error) {
	engine, err := doubleratchet.NewEngineFromConfig(e.cfg.Ratchet, logger.WithField("component", "ratchet"))
	if err != nil {
		return nil, err
	}
	return session.NewManager(userID, session.Collaborators{
		Identity:    e.ids,
		Prekeys:     e.prekeys,
		Directory:   e.dir,
		Persistence: session.NewKVPersistence(e.kv),
		Engine:      engine,
		Hybrid:      e.hybrid,
		Logger:      logger,
	})
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Generate missing keys and publish our prekey bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.kv.Close()

			if err := e.prekeys.Init(ctx, e.cfg.Client.OneTimePrekeys); err != nil {
				return err
			}
			bundle, err := e.prekeys.Bundle(ctx, userID)
			if err != nil {
				return err
			}
			if err := e.dir.PublishBundle(ctx, bundle); err != nil {
				return err
			}
			logger.WithField("one_time_prekeys", len(bundle.OneTimePrekeys)).Info("Prekey bundle published")
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <peer>",
		Short: "Chat with a peer; each line of input is one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.kv.Close()

			sessions, err := e.manager()
			if err != nil {
				return err
			}
			defer sessions.Lock()

			transport, err := client.Dial(ctx, e.cfg.Client.ServerURL, userID)
			if err != nil {
				return err
			}
			app := client.NewChatApp(userID, sessions, transport, logger)
			app.Start(ctx)
			defer app.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Chatting with %s, /quit to leave\n", args[0])
			return app.Run(ctx, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [peer]",
		Short: "Print our fingerprint, or the safety number shared with a peer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.kv.Close()

			id, err := e.ids.LoadOrCreate(ctx)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", fingerprint.Fingerprint(id.PublicKey(), []byte(userID)))
				return nil
			}

			sessions, err := e.manager()
			if err != nil {
				return err
			}
			peer, err := sessions.PeerIdentity(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Safety number: %s\n",
				fingerprint.SafetyNumber(id.PublicKey(), []byte(userID), *peer, []byte(args[0])))
			return nil
		},
	}
}
