package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Ledger.NetworkVersion == 0 {
		cfg.Ledger.NetworkVersion = 1
	}
	if cfg.Ledger.TransactionTimeout == 0 {
		cfg.Ledger.TransactionTimeout = 5 * time.Minute
	}
	if cfg.Points.RefreshDelay == 0 {
		cfg.Points.RefreshDelay = 10 * time.Minute
	}
	if cfg.Points.PollInterval == 0 {
		cfg.Points.PollInterval = 30 * time.Second
	}
	if cfg.Reconcile.BeforeSequence == 0 {
		cfg.Reconcile.BeforeSequence = 100
	}
	if cfg.Reconcile.MaxRows == 0 {
		cfg.Reconcile.MaxRows = 50_000
	}
	if cfg.Reconcile.Queues == 0 {
		cfg.Reconcile.Queues = 4
	}
	if cfg.Jobs.MaxAttempts == 0 {
		cfg.Jobs.MaxAttempts = 5
	}

	return &cfg, nil
}
