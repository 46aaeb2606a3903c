package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nextconvert/assembler/internal/modules/assembly"
	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	"github.com/nextconvert/assembler/internal/shared/storage"
	"go.uber.org/zap"
)

// Assembler runs one assembly. *assembly.Pipeline implements it.
type Assembler interface {
	Run(ctx context.Context, req assembly.Request) (*assembly.Result, error)
}

// RunRecorder receives worker metrics. *metrics.Metrics implements it.
type RunRecorder interface {
	RecordRunStarted()
	RecordRunFinished(status string, duration time.Duration)
}

// HandlerConfig contains dependencies for the job handler
type HandlerConfig struct {
	Pipeline        Assembler
	Store           Store
	Storage         *storage.Service
	Notifier        Notifier
	Metrics         RunRecorder
	WorkspaceRoot   string
	WorkspaceMaxAge time.Duration
	Logger          *zap.Logger
}

// Handler handles job task execution
type Handler struct {
	pipeline        Assembler
	store           Store
	storage         *storage.Service
	notifier        Notifier
	metrics         RunRecorder
	workspaceRoot   string
	workspaceMaxAge time.Duration
	logger          *zap.Logger
}

// NewHandler creates a new job handler
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	if cfg.WorkspaceMaxAge <= 0 {
		cfg.WorkspaceMaxAge = 6 * time.Hour
	}
	return &Handler{
		pipeline:        cfg.Pipeline,
		store:           cfg.Store,
		storage:         cfg.Storage,
		notifier:        cfg.Notifier,
		metrics:         cfg.Metrics,
		workspaceRoot:   cfg.WorkspaceRoot,
		workspaceMaxAge: cfg.WorkspaceMaxAge,
		logger:          cfg.Logger,
	}
}

// Register adds the task handlers to mux
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeAssemblyRun, h.HandleAssemble)
	mux.HandleFunc(TypeWorkspaceSweep, h.HandleWorkspaceSweep)
}

// HandleAssemble runs one assembly task and records its outcome
func (h *Handler) HandleAssemble(ctx context.Context, task *asynq.Task) error {
	var payload AssemblyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logger := h.logger.With(zap.String("run_id", payload.RunID))

	run, err := h.store.Get(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run.Terminal() {
		logger.Info("Skipping finished run", zap.String("status", run.Status))
		return nil
	}

	if h.metrics != nil {
		h.metrics.RecordRunStarted()
	}
	start := time.Now()
	status := StatusFailed
	defer func() {
		if h.metrics != nil {
			h.metrics.RecordRunFinished(status, time.Since(start))
		}
	}()

	outDir, err := os.MkdirTemp(h.workspaceRoot, assembly.WorkspacePrefix+payload.RunID+"-out-")
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	ext := payload.Settings.Normalize().Extension()
	gate := newThrottle(500*time.Millisecond, 1)
	persist := newThrottle(5*time.Second, 5)

	res, err := h.pipeline.Run(ctx, assembly.Request{
		RunID:      payload.RunID,
		Scenes:     payload.Scenes,
		Settings:   payload.Settings,
		OutputPath: filepath.Join(outDir, "final"+ext),
		OnProgress: func(p assembly.Progress) {
			if gate.allow(p) && h.notifier != nil {
				h.notifier.BroadcastProgress(p.RunID, string(p.Stage), p.Percent, p.Message)
			}
			if persist.allow(p) {
				if err := h.store.UpdateProgress(context.WithoutCancel(ctx), p.RunID, p.Stage, p.Percent); err != nil {
					logger.Warn("Failed to persist progress", zap.Error(err))
				}
			}
		},
	})
	if err != nil {
		status, err = h.abandon(ctx, payload.RunID, err, errors.Is(err, ffmpeg.ErrUnavailable), logger)
		return err
	}

	info, err := h.storage.StoreFile(ctx, storage.ZoneOutput, payload.RunID+ext, res.OutputPath)
	if err != nil {
		status, err = h.abandon(ctx, payload.RunID, fmt.Errorf("failed to store output: %w", err), true, logger)
		return err
	}

	out := Outcome{
		OutputKey:   info.Path,
		Duration:    res.DurationSeconds,
		MusicSource: res.MusicSource,
		Warnings:    res.Warnings,
	}
	if err := h.store.Complete(context.WithoutCancel(ctx), payload.RunID, out); err != nil {
		if errors.Is(err, ErrRunFinished) {
			status = StatusCancelled
			logger.Info("Run finished elsewhere before completion was recorded")
			return nil
		}
		return fmt.Errorf("failed to record completion: %w", err)
	}
	status = StatusCompleted
	if h.notifier != nil {
		h.notifier.BroadcastCompleted(payload.RunID, info.Path, res.DurationSeconds)
	}

	logger.Info("Assembly run completed",
		zap.String("output_key", info.Path),
		zap.Float64("duration", res.DurationSeconds),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// StatusRetrying labels runs handed back to asynq for another attempt.
const StatusRetrying = "retrying"

// abandon ends an attempt. Retryable errors requeue the run and go back to
// asynq unless the context is done or this was the last attempt; everything
// else is recorded as finished and wrapped in SkipRetry.
func (h *Handler) abandon(ctx context.Context, runID string, runErr error, retryable bool, logger *zap.Logger) (string, error) {
	if retryable && ctx.Err() == nil && !lastAttempt(ctx) {
		if err := h.store.Requeue(context.WithoutCancel(ctx), runID, runErr.Error()); err != nil {
			logger.Error("Failed to requeue run", zap.Error(err))
		}
		logger.Warn("Assembly attempt failed, will retry", zap.Error(runErr))
		return StatusRetrying, runErr
	}
	return h.fail(ctx, runID, runErr, logger), fmt.Errorf("%v: %w", runErr, asynq.SkipRetry)
}

// lastAttempt reports whether asynq will not retry this task again.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}

// fail records a failed or cancelled run and returns the status it chose.
func (h *Handler) fail(ctx context.Context, runID string, runErr error, logger *zap.Logger) string {
	status, message := StatusFailed, runErr.Error()
	if errors.Is(ctx.Err(), context.Canceled) {
		status, message = StatusCancelled, "cancelled"
	}
	if err := h.store.Finish(context.WithoutCancel(ctx), runID, status, message); err != nil {
		logger.Error("Failed to record run failure", zap.Error(err))
	}
	if h.notifier != nil {
		h.notifier.BroadcastFailed(runID, message)
	}
	logger.Error("Assembly run failed", zap.String("status", status), zap.Error(runErr))
	return status
}

// HandleWorkspaceSweep removes stale run workspaces left by crashed workers
func (h *Handler) HandleWorkspaceSweep(ctx context.Context, task *asynq.Task) error {
	removed, err := assembly.SweepWorkspaces(h.workspaceRoot, h.workspaceMaxAge, time.Now())
	h.logger.Info("Swept stale workspaces",
		zap.String("root", h.workspaceRoot),
		zap.Int("removed", removed),
	)
	if err != nil {
		return fmt.Errorf("failed to sweep workspaces: %w", err)
	}
	return nil
}
