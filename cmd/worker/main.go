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

	"github.com/hibiken/asynq"
	"github.com/nextconvert/assembler/internal/modules/assembly"
	"github.com/nextconvert/assembler/internal/modules/jobs"
	"github.com/nextconvert/assembler/internal/shared/config"
	"github.com/nextconvert/assembler/internal/shared/database"
	"github.com/nextconvert/assembler/internal/shared/logging"
	"github.com/nextconvert/assembler/internal/shared/metrics"
	"github.com/nextconvert/assembler/internal/shared/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	logger.Info("Starting assembly worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Worker failed", zap.Error(err))
	}
	logger.Info("Worker stopped")
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

	m := metrics.New(prometheus.DefaultRegisterer)
	tools := assembly.NewToolchain(cfg, m, logger)

	// A worker without an encoder would fail every task.
	if err := tools.Runner.Available(ctx); err != nil {
		return err
	}
	if err := tools.Prober.Available(); err != nil {
		return err
	}

	pipeline := assembly.FromConfig(cfg, tools, storageService, m, logger)

	handler := jobs.NewHandler(jobs.HandlerConfig{
		Pipeline:        pipeline,
		Store:           jobs.NewPostgresStore(db),
		Storage:         storageService,
		Notifier:        jobs.NewRedisNotifier(redisClient, logger),
		Metrics:         m,
		WorkspaceRoot:   cfg.Assembly.WorkspaceRoot,
		WorkspaceMaxAge: cfg.Assembly.WorkspaceMaxAge,
		Logger:          logger,
	})

	conn, err := jobs.RedisConnOpt(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	srv := asynq.NewServer(conn, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      jobs.Queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("Task failed",
				zap.String("type", task.Type()),
				zap.Error(err),
			)
		}),
	})

	mux := asynq.NewServeMux()
	handler.Register(mux)

	scheduler, err := jobs.NewSweepScheduler(conn, cfg.Assembly.SweepInterval, logger)
	if err != nil {
		return fmt.Errorf("failed to schedule workspace sweep: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
		if err := srv.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		logger.Info("Shutting down worker...")
		srv.Shutdown()
		return nil
	})

	g.Go(func() error {
		if err := scheduler.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		scheduler.Shutdown()
		return nil
	})

	if cfg.WorkerMetricsPort > 0 {
		metricsServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("Worker metrics listening", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
