package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/snackpdf/platform/internal/audit"
	"github.com/snackpdf/platform/internal/config"
	"github.com/snackpdf/platform/internal/database"
	"github.com/snackpdf/platform/internal/ingress"
	"github.com/snackpdf/platform/internal/logging"
	"github.com/snackpdf/platform/internal/monitoring"
	"github.com/snackpdf/platform/internal/policy"
	"github.com/snackpdf/platform/internal/server"
	"github.com/snackpdf/platform/migrations"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(&cfg.Logging, cfg.Server.Env, cfg.Server.Brand)

	log.Info().
		Str("env", cfg.Server.Env).
		Str("brand", cfg.Server.Brand).
		Msg("Starting API server")

	// Initialize database connection
	db, err := database.New(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database.URL, migrations.FS, "."); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Redis backs the gate's usage counters
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid Redis URL")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	counters := policy.NewRedisCounterStore(redisClient)

	// Audit sink with its retention sweeper
	sink := audit.NewSink(db.Pool, cfg.Audit.BufferSize)
	defer sink.Close()

	sweepCtx, stopSweepers := context.WithCancel(context.Background())
	defer stopSweepers()

	auditSweeper := audit.NewSweeper(sink, cfg.Audit.Retention, cfg.Audit.SweepInterval)
	auditSweeper.Start(sweepCtx)
	defer auditSweeper.Stop()

	// Expired upload cleanup
	fileSweeper := ingress.NewSweeper(
		ingress.NewFileStore(db.Pool),
		ingress.NewHTTPBlobStore(&cfg.Storage),
		cfg.Storage.SweepInterval,
	)
	fileSweeper.Start(sweepCtx)
	defer fileSweeper.Stop()

	// Initialize Prometheus metrics
	monitoring.Init()
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}

	// Create and start server
	srv := server.NewAPIServer(cfg, db.Pool, counters, sink)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
