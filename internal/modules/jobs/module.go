package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nextconvert/assembler/internal/modules/assembly"
	"go.uber.org/zap"
)

// ErrNotCancellable is returned when cancelling a finished run.
var ErrNotCancellable = errors.New("run cannot be cancelled")

// Enqueuer hands runs to the worker pool. *QueueClient implements it.
type Enqueuer interface {
	EnqueueAssembly(ctx context.Context, payload AssemblyPayload) error
	Cancel(runID string) error
}

// CreateParams describes a submitted run
type CreateParams struct {
	Scenes   []assembly.Scene  `json:"scenes"`
	Settings assembly.Settings `json:"settings"`
	Priority string            `json:"priority,omitempty"`
}

// Validate checks the request the same way the pipeline will, so bad
// submissions fail at the API instead of in the worker.
func (p CreateParams) Validate() error {
	if len(p.Scenes) == 0 {
		return fmt.Errorf("%w: at least one scene is required", assembly.ErrInvalidSettings)
	}
	for _, s := range p.Scenes {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: %v", assembly.ErrInvalidSettings, err)
		}
	}
	return p.Settings.Normalize().Validate()
}

// Module handles run management
type Module struct {
	store    Store
	queue    Enqueuer
	notifier Notifier
	logger   *zap.Logger
}

// NewModule creates a new jobs module. notifier may be nil.
func NewModule(store Store, queue Enqueuer, notifier Notifier, logger *zap.Logger) *Module {
	return &Module{
		store:    store,
		queue:    queue,
		notifier: notifier,
		logger:   logger,
	}
}

// Create validates, records and enqueues a run
func (m *Module) Create(ctx context.Context, params CreateParams) (*Run, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	run := &Run{
		ID:         uuid.New().String(),
		Status:     StatusQueued,
		Stage:      assembly.StateInit,
		SceneCount: len(params.Scenes),
		Scenes:     params.Scenes,
		Settings:   params.Settings.Normalize(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.Create(ctx, run); err != nil {
		return nil, err
	}

	err := m.queue.EnqueueAssembly(ctx, AssemblyPayload{
		RunID:    run.ID,
		Scenes:   run.Scenes,
		Settings: run.Settings,
		Priority: params.Priority,
	})
	if err != nil {
		if ferr := m.store.Finish(ctx, run.ID, StatusFailed, "failed to enqueue"); ferr != nil {
			m.logger.Warn("Failed to mark run as failed", zap.String("run_id", run.ID), zap.Error(ferr))
		}
		return nil, fmt.Errorf("failed to enqueue run: %w", err)
	}

	m.logger.Info("Assembly run created",
		zap.String("run_id", run.ID),
		zap.Int("scenes", run.SceneCount),
		zap.Float64("declared_seconds", assembly.TotalDuration(run.Scenes)),
	)
	return run, nil
}

// Get returns a run by id
func (m *Module) Get(ctx context.Context, id string) (*Run, error) {
	return m.store.Get(ctx, id)
}

// List returns the most recent runs, optionally filtered by status
func (m *Module) List(ctx context.Context, status string) ([]*Run, error) {
	return m.store.List(ctx, status, 50)
}

// Cancel stops a queued or processing run
func (m *Module) Cancel(ctx context.Context, id string) error {
	run, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if run.Terminal() {
		return fmt.Errorf("%w: status is %s", ErrNotCancellable, run.Status)
	}

	if err := m.queue.Cancel(id); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	if err := m.store.Finish(ctx, id, StatusCancelled, "cancelled by user"); err != nil {
		return err
	}

	if m.notifier != nil {
		m.notifier.BroadcastFailed(id, "Run cancelled by user")
	}
	m.logger.Info("Assembly run cancelled", zap.String("run_id", id))
	return nil
}
