// Package main provides the pegworkerd daemon - a trading/peg
// coordination worker that bridges a client gateway, an embedded
// wallet, and an upstream market server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tyler-smith/go-bip39"

	"github.com/sideswap-go/pegworker/internal/assets"
	"github.com/sideswap-go/pegworker/internal/config"
	"github.com/sideswap-go/pegworker/internal/coordinator"
	"github.com/sideswap-go/pegworker/internal/gateway"
	"github.com/sideswap-go/pegworker/internal/marketws"
	"github.com/sideswap-go/pegworker/internal/storage"
	"github.com/sideswap-go/pegworker/internal/walletport"
	"github.com/sideswap-go/pegworker/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir        = flag.String("data-dir", "~/.pegworker", "Data directory")
		configFile     = flag.String("config", "", "Config file location: config.yaml is read from this path's directory, which also becomes the data directory (default: <data-dir>/config.yaml)")
		gatewayAddr    = flag.String("gateway", "", "Client gateway listen address, overrides config")
		marketURL      = flag.String("market-url", "", "Market server WebSocket URL, overrides config")
		assetTablePath = flag.String("asset-table", "", "Asset registry file, overrides config")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("pegworkerd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = config.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *gatewayAddr != "" {
		cfg.GatewayListenAddr = *gatewayAddr
	}
	if *marketURL != "" {
		cfg.MarketServerURL = *marketURL
	}
	if *assetTablePath != "" {
		cfg.AssetRegistryPath = *assetTablePath
	}
	cfg.LogLevel = *logLevel

	log = logging.New(&logging.Config{
		Level:      cfg.LogLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.ConfigPath(cfg.DataDir), "network", cfg.Network)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(&storage.Config{DataDir: cfg.DataDir})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	log.Info("Storage initialized", "path", cfg.DataDir)

	registryTable, policyTicker := assets.DefaultTable()
	if cfg.AssetRegistryPath != "" {
		log.Warn("asset-registry-path configured but static table loading is not yet implemented, falling back to built-in table", "path", cfg.AssetRegistryPath)
	}
	registry, err := assets.NewRegistry(registryTable, policyTicker)
	if err != nil {
		log.Fatal("Failed to build asset registry", "error", err)
	}
	log.Info("Asset registry initialized", "policy_asset", policyTicker)

	mnemonic, err := loadOrCreateMnemonic(cfg.DataDir, cfg.MnemonicFile, log)
	if err != nil {
		log.Fatal("Failed to load wallet mnemonic", "error", err)
	}

	wallet, err := walletport.NewStub(mnemonic, registry.PolicyAsset())
	if err != nil {
		log.Fatal("Failed to initialize wallet", "error", err)
	}
	defer wallet.Close()
	log.Info("Wallet initialized")

	market := marketws.Dial(cfg.MarketServerURL, log)
	defer market.Close()
	log.Info("Market client dialing", "url", cfg.MarketServerURL)

	gapLimit := cfg.GapLimit
	if gapLimit == 0 {
		gapLimit = 20
	}

	coord, err := coordinator.New(coordinator.Config{
		Store:         store,
		Wallet:        wallet,
		Market:        market,
		Registry:      registry,
		GapLimit:      gapLimit,
		QuoteDeadline: cfg.QuoteDeadline,
		Log:           log.Component("coordinator"),
	})
	if err != nil {
		log.Fatal("Failed to start coordinator", "error", err)
	}
	log.Info("Coordinator started")

	server := gateway.NewServer(cfg.GatewayListenAddr, coord, log.Component("gateway"))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(ctx)
	}()

	printBanner(log, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Shutting down...")
	case err := <-serveErr:
		if err != nil {
			log.Error("Gateway server exited", "error", err)
		}
	}

	cancel()
	coord.Close()
	log.Info("Goodbye!")
}

// loadOrCreateMnemonic reads the wallet mnemonic from <dataDir>/<mnemonicFile>,
// generating and persisting a fresh one on first run.
func loadOrCreateMnemonic(dataDir, mnemonicFile string, log *logging.Logger) (string, error) {
	path := filepath.Join(expandPath(dataDir), mnemonicFile)

	raw, err := os.ReadFile(path)
	if err == nil {
		mnemonic := string(raw)
		if !bip39.IsMnemonicValid(mnemonic) {
			log.Fatal("Stored mnemonic is invalid, refusing to start", "path", path)
		}
		return mnemonic, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, []byte(mnemonic), 0600); err != nil {
		return "", err
	}
	log.Warn("Generated a new wallet mnemonic, back up this file", "path", path)

	return mnemonic, nil
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

func printBanner(log *logging.Logger, cfg *config.Config) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  pegworkerd (%s)", cfg.Network)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Gateway:      ws://%s", cfg.GatewayListenAddr)
	log.Infof("  Market server: %s", cfg.MarketServerURL)
	log.Infof("  Data dir:     %s", expandPath(cfg.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
