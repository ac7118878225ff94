package main

import (
	"flag"
	"fmt"

	"VeriTrail/internal/config"
)

// parseFlags loads the configuration file and applies command-line
// overrides on top of it.
func parseFlags() (*config.Config, error) {
	var (
		configPath = flag.String("config", "", "YAML configuration file (optional)")
		httpAddr   = flag.String("http", "", "HTTP API address (overrides config)")
		dataDir    = flag.String("data", "", "Data directory path (overrides config)")
		logLevel   = flag.String("log-level", "", "Log level: debug, info, warn or error (overrides config)")
		tier       = flag.String("tier", "", "Conformance tier: BRONZE, SILVER or GOLD (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config:\n%w", err)
	}

	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *tier != "" {
		cfg.Anchoring.Tier = *tier
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	return cfg, nil
}
