package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/catalog"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/config"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/handler"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/kafka"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/ledger"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/postgres"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/redis"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/reward"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/service"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/websocket"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Optional dotenv file loaded before the config")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup structured logging
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load env file", "path", *envPath, "error", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat, err := catalog.Load(cfg.Game.DataDir)
	if err != nil {
		return err
	}
	logger.Info("catalog loaded", "locations", len(cat.Locations()), "quests", len(cat.Quests()))

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	store, err := redis.NewStore(&cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("connecting to Redis: %w", err)
	}
	defer store.Close()
	logger.Info("connected to Redis")
	ready := []handler.Pinger{store}

	// Initialize PostgreSQL
	var repo *postgres.Repository
	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err = postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connecting to PostgreSQL: %w", err)
		}
		defer repo.Close()
		logger.Info("connected to PostgreSQL")

		// Run database migrations
		if err := repo.RunMigrations(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		ready = append(ready, repo)
	}

	l, err := newLedger(ctx, &cfg.Ledger, logger)
	if err != nil {
		return err
	}
	gateway := ledger.NewGateway(l, cfg.Ledger.ConfirmTimeout, logger)

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize services
	deps := service.ClaimDeps{
		Catalog:     cat,
		Calculator:  reward.NewCalculator(rand.New(rand.NewSource(time.Now().UnixNano()))),
		Cooldowns:   store.Cooldowns(),
		Locks:       store.Locks(),
		Players:     store.Players(),
		Receipts:    store.Receipts(),
		Payer:       gateway,
		Notifier:    wsHub,
		InFlightTTL: gateway.Bound(),
	}
	var history service.History
	if repo != nil {
		deps.Events = repo
		history = repo
	}
	engine := service.NewClaimEngine(deps, &cfg.Game, logger)
	players := service.NewPlayerService(store.Players(), history, wsHub, cfg.Game.MessageMaxAge, logger)

	// Snapshot worker
	var syncWorker *worker.SyncWorker
	if repo != nil {
		syncWorker = worker.NewSyncWorker(store.Players(), repo, &cfg.Sync, logger)

		// Restore records Redis lost since the last snapshot
		if _, err := syncWorker.SyncFromDatabase(ctx); err != nil {
			logger.Warn("failed to restore players from database", "error", err)
		}

		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				return fmt.Errorf("starting sync worker: %w", err)
			}
		}
	}

	// Kafka claim ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, engine, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	opts := handler.Options{Ready: ready}
	if cfg.RateLimit.Enabled {
		opts.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		opts.Burst = cfg.RateLimit.Burst
	}
	httpHandler := handler.NewHandler(engine, players, cat, wsHub, opts, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "ledger", cfg.Ledger.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	logger.Info("shutting down server...")

	// In-flight claims may be waiting on ledger confirmation
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gateway.PayTimeout()+5*time.Second)
	defer shutdownCancel()

	// Stop accepting requests first so claims in flight can finish
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	wsHub.Stop()

	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
		// Final snapshot so the next restore starts from current state
		if _, err := syncWorker.SyncToDatabase(shutdownCtx); err != nil {
			logger.Error("final snapshot failed", "error", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

func newLedger(ctx context.Context, cfg *config.LedgerConfig, logger *slog.Logger) (ledger.Ledger, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory ledger; payouts are not real", "vault_balance", cfg.MemoryBalance)
		return ledger.NewMemoryLedger(cfg.MemoryBalance), nil
	default:
		l, err := ledger.NewSolanaLedger(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing ledger: %w", err)
		}
		return l, nil
	}
}
