package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverMemory, cfg.Ledger.Driver)
	assert.Equal(t, DriverMemory, cfg.Mirror.Driver)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown ledger driver", func(c *Config) { c.Ledger.Driver = "solana" }, "ledger.driver"},
		{"evm without rpc", func(c *Config) { c.Ledger.Driver = DriverEVM }, "ledger.rpc_url"},
		{"evm without keys", func(c *Config) {
			c.Ledger.Driver = DriverEVM
			c.Ledger.RPCURL = "http://localhost:8545"
			c.Ledger.ContractAddress = "0x0000000000000000000000000000000000000001"
		}, "ledger.keys"},
		{"zero confirm timeout", func(c *Config) { c.Ledger.ConfirmTimeout = 0 }, "ledger.confirm_timeout"},
		{"scale out of range", func(c *Config) { c.Ledger.Scale = 40 }, "ledger.scale"},
		{"unknown mirror driver", func(c *Config) { c.Mirror.Driver = "mongo" }, "mirror.driver"},
		{"postgres without host", func(c *Config) {
			c.Mirror.Driver = DriverPostgres
			c.Database.Host = ""
		}, "database.host"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka.brokers"},
		{"backoff inverted", func(c *Config) { c.Repair.InitialBackoff = time.Hour }, "repair.initial_backoff"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9000
ledger:
  driver: memory
  confirm_timeout: 30s
mirror:
  driver: postgres
database:
  host: db.internal
  database: mirror
  user: treasury
coordinator:
  reconcile_workers: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("LEDGER_KEYS", "0xabc=01,0xdef=02")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Ledger.ConfirmTimeout)
	assert.Equal(t, DriverPostgres, cfg.Mirror.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 4, cfg.Coordinator.ReconcileWorkers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, map[string]string{"0xabc": "01", "0xdef": "02"}, cfg.Ledger.Keys)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", "evm")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}
