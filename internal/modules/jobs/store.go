package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nextconvert/assembler/internal/modules/assembly"
	"github.com/nextconvert/assembler/internal/shared/database"
)

// Run statuses
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

var (
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("assembly run not found")
	// ErrRunFinished is returned when completing a run that was already failed or cancelled.
	ErrRunFinished = errors.New("assembly run already finished")
)

// Run is the persisted record of one assembly run
type Run struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Stage       assembly.State    `json:"stage"`
	Percent     float64           `json:"percent"`
	SceneCount  int               `json:"sceneCount"`
	Scenes      []assembly.Scene  `json:"scenes"`
	Settings    assembly.Settings `json:"settings"`
	OutputKey   string            `json:"outputKey,omitempty"`
	Duration    float64           `json:"durationSeconds,omitempty"`
	MusicSource string            `json:"musicSource,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// Terminal reports whether the run can no longer change.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Outcome is what a successful run leaves behind.
type Outcome struct {
	OutputKey   string
	Duration    float64
	MusicSource string
	Warnings    []string
}

// Store persists run records.
type Store interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, status string, limit int) ([]*Run, error)
	// UpdateProgress moves a queued or processing run to processing.
	UpdateProgress(ctx context.Context, id string, stage assembly.State, percent float64) error
	// Complete records a successful run unless it was failed or cancelled first.
	Complete(ctx context.Context, id string, out Outcome) error
	// Finish records a failed or cancelled run.
	Finish(ctx context.Context, id, status, message string) error
	// Requeue returns an unfinished run to queued ahead of another attempt.
	Requeue(ctx context.Context, id, message string) error
}

// runRequest is the stored request body.
type runRequest struct {
	Scenes   []assembly.Scene  `json:"scenes"`
	Settings assembly.Settings `json:"settings"`
}

// PostgresStore keeps runs in the assembly_runs table
type PostgresStore struct {
	db *database.Postgres
}

// NewPostgresStore creates a store over an open pool
func NewPostgresStore(db *database.Postgres) *PostgresStore {
	return &PostgresStore{db: db}
}

const runColumns = `id, status, stage, percent, scene_count, request, output_key, duration,
	music_source, warnings, error_message, created_at, started_at, completed_at`

func (s *PostgresStore) Create(ctx context.Context, run *Run) error {
	request, err := json.Marshal(runRequest{Scenes: run.Scenes, Settings: run.Settings})
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO assembly_runs (id, status, stage, percent, scene_count, request, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.ID, run.Status, string(run.Stage), run.Percent, run.SceneCount, request, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM assembly_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

func (s *PostgresStore) List(ctx context.Context, status string, limit int) ([]*Run, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+runColumns+` FROM assembly_runs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, stage assembly.State, percent float64) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE assembly_runs
		SET status = $1, stage = $2, percent = GREATEST(percent, $3), started_at = COALESCE(started_at, NOW())
		WHERE id = $4 AND status IN ($5, $1)
	`, StatusProcessing, string(stage), percent, id, StatusQueued)
	return err
}

func (s *PostgresStore) Complete(ctx context.Context, id string, out Outcome) error {
	warnings, err := json.Marshal(out.Warnings)
	if err != nil {
		return err
	}
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE assembly_runs
		SET status = $1, stage = $2, percent = 100, output_key = $3, duration = $4,
		    music_source = $5, warnings = $6, completed_at = NOW()
		WHERE id = $7 AND status NOT IN ($8, $9)
	`, StatusCompleted, string(assembly.StateCompleted), out.OutputKey, out.Duration, nullString(out.MusicSource), warnings, id,
		StatusCancelled, StatusFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrRunFinished
	}
	return nil
}

func (s *PostgresStore) Requeue(ctx context.Context, id, message string) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE assembly_runs
		SET status = $1, stage = $2, percent = 0, error_message = $3
		WHERE id = $4 AND status IN ($1, $5)
	`, StatusQueued, string(assembly.StateInit), message, id, StatusProcessing)
	return err
}

func (s *PostgresStore) Finish(ctx context.Context, id, status, message string) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE assembly_runs
		SET status = $1, stage = $2, error_message = $3, completed_at = NOW()
		WHERE id = $4
	`, status, string(assembly.StateFailed), message, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var stage string
	var request, warnings []byte
	var outputKey, musicSource, errMsg *string
	var duration *float64

	err := row.Scan(
		&run.ID, &run.Status, &stage, &run.Percent, &run.SceneCount, &request, &outputKey, &duration,
		&musicSource, &warnings, &errMsg, &run.CreatedAt, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Stage = assembly.State(stage)
	var req runRequest
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, fmt.Errorf("corrupt request for run %s: %w", run.ID, err)
	}
	run.Scenes, run.Settings = req.Scenes, req.Settings
	if len(warnings) > 0 {
		json.Unmarshal(warnings, &run.Warnings)
	}
	if outputKey != nil {
		run.OutputKey = *outputKey
	}
	if duration != nil {
		run.Duration = *duration
	}
	if musicSource != nil {
		run.MusicSource = *musicSource
	}
	if errMsg != nil {
		run.Error = *errMsg
	}
	return &run, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
