package configs

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

var (
	// HKDF info strings, one per derivation so outputs never collide
	X3DHInfo       = []byte("vault-signal/x3dh")
	RootChainInfo  = []byte("vault-signal/root-chain")
	HybridInfo     = []byte("vault-signal/hybrid")
	SealedStoreAAD = []byte("vault-signal/sealed-store")

	PublishKeysPath = "/keys"
	WebSocketPath   = "/ws"
	MetricsPath     = "/metrics"

	// Redis keys

	ClientRatchetKey      = "client:ratchet:%s:%s"
	ServerMessageQueueKey = "server:messages:%s"
	ServerUserBundleKey   = "bundle:%s"
	ServerOneTimeKeysKey  = "oneTimePrekeys:%s"

	EnvPrefix = "VAULT_"
)

const (
	CipherChaCha20Poly1305 = "chacha20poly1305"
	CipherAES256GCM        = "aes256gcm"

	KEMMLKEM768 = "ML-KEM-768"
	KEMXWing    = "X-Wing"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Client  ClientConfig  `toml:"client"`
	Ratchet RatchetConfig `toml:"ratchet"`
	Hybrid  HybridConfig  `toml:"hybrid"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Address      string `toml:"address"`
	RedisAddress string `toml:"redis_address"`
}

type ClientConfig struct {
	ServerURL      string `toml:"server_url"`
	StorePath      string `toml:"store_path"`
	Passphrase     string `toml:"-"`
	OneTimePrekeys int    `toml:"one_time_prekeys"`
}

type RatchetConfig struct {
	// MaxSkip bounds how many message keys a single header may make us derive
	MaxSkip uint32 `toml:"max_skip"`
	// MaxSkippedKeys bounds the skipped-key cache across all epochs
	MaxSkippedKeys int `toml:"max_skipped_keys"`
	// MaxRetiredKeys is how many past receiving ratchet keys are remembered for replay classification
	MaxRetiredKeys int    `toml:"max_retired_keys"`
	Cipher         string `toml:"cipher"`
}

type HybridConfig struct {
	Enabled bool   `toml:"enabled"`
	KEM     string `toml:"kem"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      "localhost:8080",
			RedisAddress: "localhost:6379",
		},
		Client: ClientConfig{
			ServerURL:      "http://localhost:8080",
			StorePath:      "vault-signal.db",
			OneTimePrekeys: 20,
		},
		Ratchet: RatchetConfig{
			MaxSkip:        100,
			MaxSkippedKeys: 1000,
			MaxRetiredKeys: 32,
			Cipher:         CipherChaCha20Poly1305,
		},
		Hybrid: HybridConfig{
			Enabled: true,
			KEM:     KEMMLKEM768,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file at path, the optional .env file in the
// working directory and finally VAULT_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	setString("SERVER_ADDRESS", &c.Server.Address)
	setString("REDIS_ADDRESS", &c.Server.RedisAddress)
	setString("SERVER_URL", &c.Client.ServerURL)
	setString("STORE_PATH", &c.Client.StorePath)
	setString("PASSPHRASE", &c.Client.Passphrase)
	setString("CIPHER", &c.Ratchet.Cipher)
	setString("KEM", &c.Hybrid.KEM)
	setString("LOG_LEVEL", &c.Logging.Level)

	if v, ok := os.LookupEnv(EnvPrefix + "MAX_SKIP"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_SKIP: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Ratchet.MaxSkip = uint32(n)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "HYBRID"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sHYBRID: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Hybrid.Enabled = b
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Ratchet.MaxSkip == 0 {
		return fmt.Errorf("%w: ratchet.max_skip must be positive", ErrInvalidConfig)
	}
	if c.Ratchet.MaxSkippedKeys <= 0 {
		return fmt.Errorf("%w: ratchet.max_skipped_keys must be positive", ErrInvalidConfig)
	}
	if c.Ratchet.MaxRetiredKeys <= 0 {
		return fmt.Errorf("%w: ratchet.max_retired_keys must be positive", ErrInvalidConfig)
	}
	switch c.Ratchet.Cipher {
	case CipherChaCha20Poly1305, CipherAES256GCM:
	default:
		return fmt.Errorf("%w: unknown cipher %q", ErrInvalidConfig, c.Ratchet.Cipher)
	}
	if c.Hybrid.Enabled {
		switch c.Hybrid.KEM {
		case KEMMLKEM768, KEMXWing:
		default:
			return fmt.Errorf("%w: unknown kem %q", ErrInvalidConfig, c.Hybrid.KEM)
		}
	}
	if c.Client.OneTimePrekeys < 0 {
		return fmt.Errorf("%w: client.one_time_prekeys must not be negative", ErrInvalidConfig)
	}
	return nil
}
