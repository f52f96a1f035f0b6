package config

import (
	"time"

	redisclient "github.com/vietddude/rewarder/internal/infra/redis"
	"github.com/vietddude/rewarder/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Logging   LoggingConfig      `yaml:"logging"`
	Ledger    LedgerConfig       `yaml:"ledger"`
	Points    PointsConfig       `yaml:"points"`
	Reconcile ReconcileConfig    `yaml:"reconcile"`
	Jobs      JobsConfig         `yaml:"jobs"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// LedgerConfig holds upsert engine settings.
type LedgerConfig struct {
	NetworkVersion int `yaml:"network_version"`
	// MinDepositOre is the smallest qualifying deposit in ore; also the
	// point quantum.
	MinDepositOre int64 `yaml:"min_deposit_ore"`
	// TransactionTimeout bounds one upsert transaction.
	TransactionTimeout time.Duration `yaml:"transaction_timeout"`
}

// PointsConfig holds points aggregation settings.
type PointsConfig struct {
	RefreshDelay time.Duration `yaml:"refresh_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ReconcileConfig holds mismatch reconciler settings.
type ReconcileConfig struct {
	BeforeSequence int64         `yaml:"before_sequence"`
	MaxRows        int           `yaml:"max_rows"`
	Queues         int           `yaml:"queues"`
	SweepInterval  time.Duration `yaml:"sweep_interval"` // 0 = job-triggered only
}

// JobsConfig holds worker settings.
type JobsConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}
