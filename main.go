package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/config"
	"github.com/privsense/privsense/pkg/crypto"
	"github.com/privsense/privsense/pkg/database"
	"github.com/privsense/privsense/pkg/detection"
	"github.com/privsense/privsense/pkg/metadata"
	"github.com/privsense/privsense/pkg/notify"
	"github.com/privsense/privsense/pkg/qi"
	"github.com/privsense/privsense/pkg/registry"
	"github.com/privsense/privsense/pkg/repositories"
	"github.com/privsense/privsense/pkg/sampler"
	"github.com/privsense/privsense/pkg/scan"

	// Target database dialects register themselves on import.
	_ "github.com/privsense/privsense/pkg/dialect/postgres"
	_ "github.com/privsense/privsense/pkg/dialect/sqlserver"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("metadata_store", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metadata store pool.
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to metadata store", zap.Error(err))
	}
	defer db.Close()

	// Migrations run through database/sql; golang-migrate needs its own handle.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	migrationDB.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("failed to create credential encryptor", zap.Error(err))
	}

	reg := registry.New(registry.Config{
		MaxHandlesPerConnection: cfg.Registry.MaxHandlesPerConnection,
		AcquireTimeout:          cfg.Registry.HandleAcquireTimeout(),
		PoolMaxConns:            cfg.Registry.PoolMaxConns,
		PoolMinConns:            cfg.Registry.PoolMinConns,
	}, encryptor, logger)
	defer reg.Close()

	strategies := []detection.Strategy{
		detection.NewHeuristicStrategy(),
		detection.NewRegexStrategy(),
		detection.NewNerStrategy(detection.NerStrategyConfig{
			BaseURL:    cfg.Ner.BaseURL,
			MaxSamples: cfg.Ner.MaxSamples,
			Timeout:    cfg.Ner.Timeout(),
			Breaker: detection.CircuitBreakerConfig{
				Threshold:  cfg.Ner.FailureThreshold,
				ResetAfter: cfg.Ner.ResetTimeout(),
			},
		}, logger),
	}

	bus := notify.NewBus(logger)
	orchestrator := scan.New(
		reg,
		metadata.NewExtractor(logger),
		sampler.New(cfg.Sampling.QueryTimeout(), logger),
		detection.NewPipeline(strategies, logger),
		qi.NewAnalyzer(logger),
		repositories.NewScanJobRepository(db),
		repositories.NewScanResultRepository(db),
		bus,
		redisClient,
		scan.Config{
			Workers:              cfg.Orchestrator.Workers,
			MaxQueued:            cfg.Orchestrator.MaxQueued,
			CancellationDeadline: cfg.Orchestrator.CancellationDeadline(),
			DedupWindow:          cfg.Orchestrator.DedupWindow(),
		},
		logger,
	)
	defer orchestrator.Stop()

	// Status events are logged as the built-in observer; external sinks
	// subscribe the same way.
	events, unsubscribe := bus.Subscribe(notify.DefaultBufferSize)
	defer unsubscribe()
	go func() {
		for ev := range events {
			logger.Debug("scan status",
				zap.String("job_id", ev.JobID.String()),
				zap.String("status", string(ev.Status)),
				zap.Int("progress", ev.ProgressPercent))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": cfg.Version,
		})
	})

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting privsense", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
