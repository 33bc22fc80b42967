package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the operator process configuration. The file carries paths and
// tunables; secrets (wallet keys, HMAC keyring) come exclusively from the
// environment.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	Environment   string `toml:"Environment"`
	StateDir      string `toml:"StateDir"`
	PolicyPath    string `toml:"PolicyPath"`

	LockTimeoutMs int `toml:"LockTimeoutMs"`
	LockStaleMs   int `toml:"LockStaleMs"`

	A2AMaxSkewSec int `toml:"A2AMaxSkewSec"`
}

// Load reads the configuration from the given path, creating a default
// file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":8480"
	}
	if c.StateDir == "" {
		c.StateDir = "./state"
	}
	if c.PolicyPath == "" {
		c.PolicyPath = "./policy.json"
	}
	if c.LockTimeoutMs <= 0 {
		c.LockTimeoutMs = 5000
	}
	if c.LockStaleMs <= 0 {
		c.LockStaleMs = 15000
	}
	if c.A2AMaxSkewSec <= 0 {
		c.A2AMaxSkewSec = 120
	}
}

// LockTimeout returns the configured lock wait bound.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

// LockStale returns the configured lock staleness override.
func (c *Config) LockStale() time.Duration {
	return time.Duration(c.LockStaleMs) * time.Millisecond
}

// A2AMaxSkew returns the configured auth timestamp skew bound.
func (c *Config) A2AMaxSkew() time.Duration {
	return time.Duration(c.A2AMaxSkewSec) * time.Second
}

// StatePath joins a state file name onto the state directory.
func (c *Config) StatePath(name string) string {
	return filepath.Join(c.StateDir, name)
}

// Secrets is everything read from the environment: wallet keys and the A2A
// security settings. Values never round-trip through the config file.
type Secrets struct {
	BasePrivateKey        string
	SolanaPrivateKeyB58   string
	SolanaPrivateKeyJSON  string
	HyperliquidPrivateKey string
	HyperliquidAccount    string

	A2ASecurityMode      string
	A2AKeyring           map[string]string
	A2AAllowUnsignedLive bool
}

// SecretsFromEnv reads the documented environment variables.
func SecretsFromEnv() (*Secrets, error) {
	s := &Secrets{
		BasePrivateKey:        strings.TrimSpace(os.Getenv("BASE_PRIVATE_KEY")),
		SolanaPrivateKeyB58:   strings.TrimSpace(os.Getenv("SOLANA_PRIVATE_KEY_B58")),
		SolanaPrivateKeyJSON:  strings.TrimSpace(os.Getenv("SOLANA_PRIVATE_KEY_JSON")),
		HyperliquidPrivateKey: strings.TrimSpace(os.Getenv("HYPERLIQUID_API_WALLET_PRIVATE_KEY")),
		HyperliquidAccount:    strings.TrimSpace(os.Getenv("HYPERLIQUID_ACCOUNT_ADDRESS")),
		A2ASecurityMode:       strings.TrimSpace(os.Getenv("A2A_SECURITY_MODE")),
	}
	if raw := strings.TrimSpace(os.Getenv("A2A_HMAC_KEYS_JSON")); raw != "" {
		keyring := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &keyring); err != nil {
			return nil, fmt.Errorf("config: A2A_HMAC_KEYS_JSON is not a JSON object: %w", err)
		}
		s.A2AKeyring = keyring
	}
	if raw := strings.TrimSpace(os.Getenv("A2A_ALLOW_UNSIGNED_LIVE")); raw != "" {
		allowed, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("config: A2A_ALLOW_UNSIGNED_LIVE must be a boolean: %w", err)
		}
		s.A2AAllowUnsignedLive = allowed
	}
	return s, nil
}

// SolanaConfigured reports whether either Solana key encoding is present.
func (s *Secrets) SolanaConfigured() bool {
	return s.SolanaPrivateKeyB58 != "" || s.SolanaPrivateKeyJSON != ""
}
