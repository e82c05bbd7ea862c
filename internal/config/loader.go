package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load loads configuration from an optional .env file, the config file and
// environment variables, in increasing precedence
func Load(configPath string) (*Config, error) {
	// .env is optional; variables already in the environment win
	_ = godotenv.Load()

	// Set defaults
	cfg := DefaultConfig()

	// Set up viper
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Read config file (optional - if file doesn't exist, continue with defaults)
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: Could not read config file %s: %v. Using defaults and environment variables.\n", configPath, err)
	} else {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Override with environment variables (these take precedence)
	applyEnvironmentOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	// Server configuration
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	// Database configuration
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = p
		}
	}
	if dbName := os.Getenv("DATABASE_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}

	// Redis configuration
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
		cfg.Redis.Enabled = true
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			cfg.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}

	// Ledger configuration
	if driver := os.Getenv("LEDGER_DRIVER"); driver != "" {
		cfg.Ledger.Driver = driver
	}
	if rpcURL := os.Getenv("LEDGER_RPC_URL"); rpcURL != "" {
		cfg.Ledger.RPCURL = rpcURL
	}
	if contract := os.Getenv("LEDGER_CONTRACT_ADDRESS"); contract != "" {
		cfg.Ledger.ContractAddress = contract
	}
	if chainID := os.Getenv("LEDGER_CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			cfg.Ledger.ChainID = id
		}
	}
	if timeout := os.Getenv("LEDGER_CONFIRM_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Ledger.ConfirmTimeout = d
		}
	}
	if scale := os.Getenv("LEDGER_SCALE"); scale != "" {
		if v, err := strconv.ParseInt(scale, 10, 32); err == nil {
			cfg.Ledger.Scale = int32(v)
		}
	}
	// LEDGER_KEYS is a comma separated list of address=hexkey pairs
	if keys := os.Getenv("LEDGER_KEYS"); keys != "" {
		cfg.Ledger.Keys = parseKeys(keys)
	}

	// Mirror configuration
	if driver := os.Getenv("MIRROR_DRIVER"); driver != "" {
		cfg.Mirror.Driver = driver
	}

	// Kafka configuration
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
		cfg.Kafka.Enabled = true
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.Kafka.Topic = topic
	}

	// Logging configuration
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range splitList(raw) {
		addr, key, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		keys[strings.TrimSpace(addr)] = strings.TrimSpace(key)
	}
	return keys
}
