package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vault-signal/configs"
	"vault-signal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logger = logrus.New()

	configPath string
)

func main() {
	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Run the relay and prekey directory",
		SilenceUsage: true,
		RunE:         run,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	if err := cmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := configs.Load(configPath)
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := server.NewServer(ctx, redis.NewClient(&redis.Options{Addr: cfg.Server.RedisAddress}), logger, registry)
	defer s.Close()

	srv := &http.Server{Addr: cfg.Server.Address, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Relay running on %s", cfg.Server.Address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("Closing server...")
	return nil
}
