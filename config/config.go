package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the daemon settings.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	NetworkName    string `toml:"NetworkName"`
	MaxEscrows     uint64 `toml:"MaxEscrows"`
	EscrowFee      int64  `toml:"EscrowFee"`
	VaultPrincipal string `toml:"VaultPrincipal"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		RPCAddress:  "127.0.0.1:8645",
		DataDir:     "./aidledger-data",
		NetworkName: "aidledger-local",
		MaxEscrows:  1000,
		EscrowFee:   500,
	}
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if c.MaxEscrows == 0 {
		return fmt.Errorf("config: MaxEscrows must be positive")
	}
	if c.EscrowFee < 0 {
		return fmt.Errorf("config: EscrowFee must not be negative")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	defaults := Default()
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaults.RPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaults.DataDir
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = defaults.NetworkName
	}
	if cfg.MaxEscrows == 0 {
		cfg.MaxEscrows = defaults.MaxEscrows
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
