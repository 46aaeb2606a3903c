package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextconvert/assembler/internal/api"
	"github.com/nextconvert/assembler/internal/api/handlers"
	"github.com/nextconvert/assembler/internal/api/websocket"
	"github.com/nextconvert/assembler/internal/modules/jobs"
	"github.com/nextconvert/assembler/internal/shared/config"
	"github.com/nextconvert/assembler/internal/shared/database"
	"github.com/nextconvert/assembler/internal/shared/logging"
	"github.com/nextconvert/assembler/internal/shared/metrics"
	"github.com/nextconvert/assembler/internal/shared/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting assembly API server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()

	storageService, err := storage.NewService(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	conn, err := jobs.RedisConnOpt(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	queue := jobs.NewQueueClient(conn, logger)
	defer queue.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	hub := websocket.NewHub(cfg.AllowedOrigins, m, logger)
	module := jobs.NewModule(jobs.NewPostgresStore(db), queue, hub, logger)

	server := api.NewServer(api.ServerConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
		Redis:          redisClient.Client,
		Checks: map[string]handlers.HealthChecker{
			"postgres": db,
			"redis":    redisClient,
		},
		Storage: storageService,
		WSHub:   hub,
		Jobs:    module,
		Metrics: m,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // downloads stream whole videos
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	// Worker events arrive over Redis and go out through the hub.
	g.Go(func() error {
		return jobs.Relay(gctx, redisClient.Client, hub, logger)
	})

	g.Go(func() error {
		logger.Info("API server listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
