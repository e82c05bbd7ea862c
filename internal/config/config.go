package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config represents the treasury service configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Mirror      MirrorConfig      `mapstructure:"mirror"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Repair      RepairConfig      `mapstructure:"repair"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds a single API call, ledger confirmation included
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	// SessionIdle is how long an unused client view cache is kept
	SessionIdle time.Duration `mapstructure:"session_idle"`
}

// DatabaseConfig represents PostgreSQL mirror store configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
	// EnsureSchema creates the mirror tables on startup
	EnsureSchema bool `mapstructure:"ensure_schema"`
}

// RedisConfig represents the Redis change feed and intent journal configuration
type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	JournalTTL time.Duration `mapstructure:"journal_ttl"`
	FeedBuffer int           `mapstructure:"feed_buffer"`
}

// LedgerConfig represents the on-chain ledger connection
type LedgerConfig struct {
	Driver          string `mapstructure:"driver"`
	RPCURL          string `mapstructure:"rpc_url"`
	ContractAddress string `mapstructure:"contract_address"`
	// ChainID of 0 asks the node
	ChainID int64 `mapstructure:"chain_id"`
	// Keys maps account address to hex private key
	Keys            map[string]string `mapstructure:"keys"`
	ConfirmTimeout  time.Duration     `mapstructure:"confirm_timeout"`
	PollInterval    time.Duration     `mapstructure:"poll_interval"`
	MaxGasPriceGwei int64             `mapstructure:"max_gas_price_gwei"`
	GasLimit        uint64            `mapstructure:"gas_limit"`
	// Scale is the number of fractional digits in one base unit
	Scale int32 `mapstructure:"scale"`
}

// MirrorConfig selects the mirror store backend
type MirrorConfig struct {
	Driver       string        `mapstructure:"driver"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig represents the payout authorization topic
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// CoordinatorConfig represents reconciliation coordinator configuration
type CoordinatorConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
	ReconcileWorkers int `mapstructure:"reconcile_workers"`
	ReconcileQueue   int `mapstructure:"reconcile_queue"`
}

// RepairConfig represents mirror repair configuration
type RepairConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RateLimiterConfig represents per-account rate limiting
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

const (
	DriverMemory   = "memory"
	DriverEVM      = "evm"
	DriverPostgres = "postgres"
)

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}

	switch c.Ledger.Driver {
	case DriverMemory:
	case DriverEVM:
		if c.Ledger.RPCURL == "" {
			return errors.New("ledger.rpc_url is required for the evm driver")
		}
		if c.Ledger.ContractAddress == "" {
			return errors.New("ledger.contract_address is required for the evm driver")
		}
		if len(c.Ledger.Keys) == 0 {
			return errors.New("ledger.keys must hold at least one signing key")
		}
	default:
		return fmt.Errorf("ledger.driver must be one of: %s, %s", DriverEVM, DriverMemory)
	}
	if c.Ledger.ConfirmTimeout <= 0 {
		return errors.New("ledger.confirm_timeout must be positive")
	}
	if c.Ledger.Scale < 1 || c.Ledger.Scale > 36 {
		return errors.New("ledger.scale must be between 1 and 36")
	}

	switch c.Mirror.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
	default:
		return fmt.Errorf("mirror.driver must be one of: %s, %s", DriverPostgres, DriverMemory)
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka.topic is required when kafka is enabled")
		}
	}
	if c.Repair.InitialBackoff > c.Repair.MaxBackoff {
		return errors.New("repair.initial_backoff must not exceed repair.max_backoff")
	}
	if c.RateLimiter.Enabled && (c.RateLimiter.RequestsPerSecond <= 0 || c.RateLimiter.Burst <= 0) {
		return errors.New("rate_limiter.requests_per_second and burst must be positive")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if !isValidLogFormat(c.Logging.Format) {
		return errors.New("logging.format must be one of: json, console")
	}
	return nil
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "json", "console":
		return true
	default:
		return false
	}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    90 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  75 * time.Second,
			CORSOrigins:     []string{"*"},
			SessionIdle:     30 * time.Minute,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "treasury_mirror",
			User:           "treasury",
			Password:       "",
			MaxConnections: 20,
			MinConnections: 2,
			EnsureSchema:   true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Host:       "localhost",
			Port:       6379,
			Password:   "",
			DB:         0,
			JournalTTL: 24 * time.Hour,
			FeedBuffer: 256,
		},
		Ledger: LedgerConfig{
			Driver:         DriverMemory,
			ConfirmTimeout: 60 * time.Second,
			PollInterval:   2 * time.Second,
			GasLimit:       300000,
			Scale:          18,
		},
		Mirror: MirrorConfig{
			Driver:       DriverMemory,
			WriteTimeout: 5 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Topic:   "payout.authorized",
		},
		Coordinator: CoordinatorConfig{
			SubscriberBuffer: 64,
			ReconcileWorkers: 8,
			ReconcileQueue:   256,
		},
		Repair: RepairConfig{
			Interval:       5 * time.Second,
			InitialBackoff: time.Second,
			MaxBackoff:     5 * time.Minute,
			AttemptTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}
