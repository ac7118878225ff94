package main

import (
	"fmt"
	"os"

	"VeriTrail/internal/config"
	"VeriTrail/internal/logger"
)

func main() {
	logger.Init()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg, err := parseFlags()
	if err != nil {
		return err
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("set log level:\n%w", err)
	}

	svc, err := NewService(cfg)
	if err != nil {
		return fmt.Errorf("create service:\n%w", err)
	}

	printStartupInfo(cfg)

	return svc.Run()
}

// printStartupInfo displays the service configuration at startup.
func printStartupInfo(cfg *config.Config) {
	logger.Info("starting trail service",
		"http", cfg.HTTPAddr,
		"data", cfg.DataDir,
		"algo", cfg.Hashing.Algorithm,
		"chain", cfg.Hashing.Chain,
		"tier", cfg.Anchoring.Tier,
		"anchorInterval", cfg.Anchoring.Interval.Std().String(),
		"primaryTarget", cfg.Anchoring.Primary.Kind,
	)

	if cfg.Anchoring.Fallback != nil {
		logger.Info("fallback anchoring enabled", "target", cfg.Anchoring.Fallback.Kind)
	}
}
