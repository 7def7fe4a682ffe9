// Package main implements the anvilchain binary: the site-local event
// integrity service that signs, batches, and anchors industrial audit events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/anvilchain/anvilchain/internal/app"
	"github.com/anvilchain/anvilchain/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		siteID      string
		httpAddr    string
		gatewayURL  string
		debug       bool
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&siteID, "site-id", "", "Site identifier attributed to emitted events")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP API address")
	flag.StringVar(&gatewayURL, "gateway-url", "", "Ledger gateway base URL")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Anvilchain - Industrial Event Integrity and Anchoring\n\n")
		fmt.Fprintf(os.Stderr, "Usage: anvilchain [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  anvilchain --site-id plant-07 --data-dir /data/anvilchain\n")
		fmt.Fprintf(os.Stderr, "  anvilchain --config /etc/anvilchain/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  ANVILCHAIN_SITE_ID             Site identifier\n")
		fmt.Fprintf(os.Stderr, "  ANVILCHAIN_DATA_DIR            Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  ANVILCHAIN_SIGNING_SEED        Seed for the HMAC signing key\n")
		fmt.Fprintf(os.Stderr, "  ANVILCHAIN_HTTP_ADDR           HTTP API address\n")
		fmt.Fprintf(os.Stderr, "  ANVILCHAIN_ANCHOR_GATEWAY_URL  Ledger gateway base URL\n")
		fmt.Fprintf(os.Stderr, "  ANVILCHAIN_MQTT_BROKER         MQTT broker for tag readings\n")
		fmt.Fprintf(os.Stderr, "  ANVILCHAIN_STORAGE_TYPE        Archive storage type (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("anvilchain version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, siteID, httpAddr, gatewayURL)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	printBanner(cfg)

	application, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Run(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line
// flags, lowest to highest priority.
func loadConfig(configFile, dataDir, siteID, httpAddr, gatewayURL string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if siteID != "" {
		cfg.SiteID = siteID
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if gatewayURL != "" {
		cfg.Anchor.GatewayURL = gatewayURL
	}

	return cfg, nil
}

// newLogger builds the process logger.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                      ANVILCHAIN                           ║")
	log.Printf("║      Industrial Event Integrity and Anchoring             ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Site:     %s", cfg.SiteID)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  HTTP:     %s", cfg.HTTP.Addr)
	log.Printf("  Storage:  %s", cfg.Storage.Type)
	if cfg.Anchor.GatewayURL != "" {
		log.Printf("  Ledger:   %s", cfg.Anchor.GatewayURL)
	} else {
		log.Printf("  Ledger:   (disabled)")
	}
	if cfg.MQTT.Enabled {
		log.Printf("  MQTT:     %s (%s)", cfg.MQTT.Broker, cfg.MQTT.Topic)
	}
	log.Printf("  Batch:    max %d events, max age %v", cfg.Batch.MaxBatchSize, cfg.Batch.MaxBatchAge)
	log.Printf("")
}
