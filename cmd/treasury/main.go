// Package main provides the entry point for the treasury service.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/fundquorum/treasury/internal/config"
	"github.com/fundquorum/treasury/internal/health"
	"github.com/fundquorum/treasury/internal/ledger"
	"github.com/fundquorum/treasury/internal/metrics"
	"github.com/fundquorum/treasury/internal/server"
	"github.com/fundquorum/treasury/internal/service"
	"github.com/fundquorum/treasury/internal/store"
	"github.com/fundquorum/treasury/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "./config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting treasury service",
		zap.Int("port", cfg.Server.Port),
		zap.String("ledger_driver", cfg.Ledger.Driver),
		zap.String("mirror_driver", cfg.Mirror.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("kafka", cfg.Kafka.Enabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	m := metrics.NewMetrics()

	checks := make(map[string]health.Pinger)

	// Initialize mirror store
	var mirror store.MirrorStore
	switch cfg.Mirror.Driver {
	case config.DriverPostgres:
		pg, err := store.NewPostgresMirrorStore(
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to initialize mirror store", zap.Error(err))
		}
		if cfg.Database.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				logger.Fatal("Failed to create mirror schema", zap.Error(err))
			}
		}
		mirror = pg
	default:
		logger.Warn("Using in-memory mirror store; state is lost on restart")
		mirror = store.NewMemoryMirrorStore(logger)
	}
	defer mirror.Close()
	checks["mirror_store"] = mirror
	logger.Info("Mirror store initialized")

	// Initialize change feed and intent journal
	var (
		feed    store.ChangeFeed
		journal store.IntentJournal
	)
	if cfg.Redis.Enabled {
		client, err := store.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		feed = store.NewRedisChangeFeed(client, cfg.Redis.FeedBuffer, logger)
		journal = store.NewRedisIntentJournal(client, cfg.Redis.JournalTTL, logger)
	} else {
		feed = store.NewMemoryChangeFeed(cfg.Redis.FeedBuffer)
		journal = store.NewMemoryIntentJournal()
	}
	defer feed.Close()
	defer journal.Close()
	checks["change_feed"] = feed
	checks["intent_journal"] = journal
	logger.Info("Change feed and intent journal initialized")

	// Initialize ledger gateway
	var gateway ledger.Gateway
	switch cfg.Ledger.Driver {
	case config.DriverEVM:
		evmCfg := ledger.EVMConfig{
			ContractAddress: cfg.Ledger.ContractAddress,
			Keys:            cfg.Ledger.Keys,
			ConfirmTimeout:  cfg.Ledger.ConfirmTimeout,
			PollInterval:    cfg.Ledger.PollInterval,
			GasLimit:        cfg.Ledger.GasLimit,
			Scale:           cfg.Ledger.Scale,
		}
		if cfg.Ledger.ChainID != 0 {
			evmCfg.ChainID = big.NewInt(cfg.Ledger.ChainID)
		}
		if cfg.Ledger.MaxGasPriceGwei > 0 {
			evmCfg.MaxGasPrice = new(big.Int).Mul(big.NewInt(cfg.Ledger.MaxGasPriceGwei), big.NewInt(1_000_000_000))
		}
		evm, err := ledger.DialEVM(ctx, cfg.Ledger.RPCURL, evmCfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize ledger gateway", zap.Error(err))
		}
		gateway = evm
	default:
		logger.Warn("Using in-memory ledger; it is not authoritative across restarts")
		gateway = ledger.NewMemoryGatewayWithScale(cfg.Ledger.Scale)
	}
	checks["ledger"] = gateway
	logger.Info("Ledger gateway initialized", zap.String("driver", cfg.Ledger.Driver))

	// Initialize payout publisher
	var payouts service.PayoutPublisher
	if cfg.Kafka.Enabled {
		payouts = service.NewKafkaPayoutPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	} else {
		payouts = service.NewMemoryPayoutPublisher()
	}
	defer payouts.Close()

	// Initialize services
	repair := service.NewMirrorRepairService(feed, service.RepairConfig{
		Interval:       cfg.Repair.Interval,
		InitialBackoff: cfg.Repair.InitialBackoff,
		MaxBackoff:     cfg.Repair.MaxBackoff,
		AttemptTimeout: cfg.Repair.AttemptTimeout,
	}, m, logger)

	coordinator := service.NewCoordinator(
		gateway,
		mirror,
		feed,
		journal,
		repair,
		payouts,
		validation.NewValidatorWithScale(cfg.Ledger.Scale),
		service.CoordinatorConfig{
			ConfirmTimeout:   cfg.Ledger.ConfirmTimeout,
			MirrorTimeout:    cfg.Mirror.WriteTimeout,
			SubscriberBuffer: cfg.Coordinator.SubscriberBuffer,
			ReconcileWorkers: cfg.Coordinator.ReconcileWorkers,
			ReconcileQueue:   cfg.Coordinator.ReconcileQueue,
		},
		m,
		logger,
	)
	if err := coordinator.Start(ctx); err != nil {
		logger.Fatal("Failed to start coordinator", zap.Error(err))
	}
	logger.Info("Coordinator started")

	// Start metrics server
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, prometheus.DefaultGatherer, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// Initialize HTTP server
	healthChecker := health.NewHealthChecker(checks, logger)
	httpServer := server.NewServer(cfg, coordinator, healthChecker, m, logger)
	httpServer.SetupRoutes()
	go httpServer.RunBackground(ctx)

	// Start HTTP server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("Server error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("Shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown metrics server", zap.Error(err))
		}
	}

	cancel()
	coordinator.Stop()

	// Final flush while the stores are still open
	if queued := repair.QueueSize(); queued > 0 {
		repaired := repair.RepairAll(shutdownCtx)
		logger.Info("Flushed mirror repairs", zap.Int("queued", queued), zap.Int("repaired", repaired))
	}
	if pending := repair.QueueSize(); pending > 0 {
		logger.Warn("Mirror repairs still pending at shutdown", zap.Int("pending", pending))
	}

	logger.Info("Treasury service shutdown complete")
}

// initLogger initializes the zap logger.
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stdout"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
