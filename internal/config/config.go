// Package config loads and persists the worker's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Network selects which Liquid network the worker talks to.
type Network string

const (
	NetworkLiquid        Network = "liquid"
	NetworkLiquidTestnet Network = "liquidtestnet"
	NetworkRegtest       Network = "regtest"
)

// ConfigFileName is the file name written under the data directory.
const ConfigFileName = "config.yaml"

// Config is the full set of settings the worker reads at startup.
type Config struct {
	Network Network `yaml:"network"`

	DataDir string `yaml:"data_dir"`

	// MarketServerURL is the WebSocket endpoint of the upstream market server.
	MarketServerURL string `yaml:"market_server_url"`

	// GatewayListenAddr is the TCP address the client gateway listens on.
	GatewayListenAddr string `yaml:"gateway_listen_addr"`

	// MnemonicFile holds the embedded wallet's BIP-39 mnemonic.
	MnemonicFile string `yaml:"mnemonic_file"`

	// GapLimit overrides the default address gap limit (20) when non-zero.
	GapLimit uint32 `yaml:"gap_limit"`

	// QuoteDeadline bounds how long GetQuote waits for a matching quote
	// notification before aborting with a timeout.
	QuoteDeadline time.Duration `yaml:"quote_deadline"`

	// AssetRegistryPath names a ticker/asset table file. The file is not
	// read: the built-in table is always used, and a warning is logged
	// at startup when this is set.
	AssetRegistryPath string `yaml:"asset_registry_path,omitempty"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	return &Config{
		Network:           NetworkLiquid,
		DataDir:           "~/.pegworker",
		MarketServerURL:   "wss://api.sideswap.io/json-rpc-ws",
		GatewayListenAddr: "127.0.0.1:7777",
		MnemonicFile:      "mnemonic.txt",
		GapLimit:          20,
		QuoteDeadline:     15 * time.Second,
		LogLevel:          "info",
	}
}

// LoadConfig reads config.yaml from dataDir, writing the default
// configuration first if the file does not yet exist.
func LoadConfig(dataDir string) (*Config, error) {
	dataDir = expandPath(dataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	path := ConfigPath(dataDir)

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.DataDir = dataDir
		if err := cfg.Save(dataDir); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.DataDir = dataDir

	return cfg, nil
}

// Save writes the configuration to config.yaml under dataDir.
func (c *Config) Save(dataDir string) error {
	dataDir = expandPath(dataDir)

	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := "# pegworker configuration\n# generated file, edit with the worker stopped\n\n"
	content := append([]byte(header), out...)

	return os.WriteFile(ConfigPath(dataDir), content, 0600)
}

// ConfigPath returns the config file path under dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
