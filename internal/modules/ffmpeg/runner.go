package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Executor runs ffmpeg commands. The pipeline depends on this interface so
// tests can substitute a fake that never spawns a process.
type Executor interface {
	Run(ctx context.Context, cmd *Command, onProgress ProgressFunc) error
}

// Recorder receives per-invocation metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordFFmpegOperation(operation string, success bool, duration time.Duration)
	RecordFFmpegError(operation string, errorType string)
}

// Config configures a Runner.
type Config struct {
	FFmpegPath string
	MaxThreads int           // 0 = let ffmpeg decide
	Timeout    time.Duration // default per-invocation timeout, 0 = none
	KillGrace  time.Duration // SIGTERM to SIGKILL window on cancellation
	Recorder   Recorder
}

// Runner executes commands as child ffmpeg processes.
type Runner struct {
	ffmpegPath string
	maxThreads int
	timeout    time.Duration
	killGrace  time.Duration
	recorder   Recorder
	logger     *zap.Logger
}

// NewRunner creates a runner with the given configuration
func NewRunner(cfg Config, logger *zap.Logger) *Runner {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	return &Runner{
		ffmpegPath: cfg.FFmpegPath,
		maxThreads: cfg.MaxThreads,
		timeout:    cfg.Timeout,
		killGrace:  cfg.KillGrace,
		recorder:   cfg.Recorder,
		logger:     logger,
	}
}

// Available checks that the ffmpeg binary can be executed.
func (r *Runner) Available(ctx context.Context) error {
	if _, err := exec.LookPath(r.ffmpegPath); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, r.ffmpegPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if out, err := exec.CommandContext(ctx, r.ffmpegPath, "-hide_banner", "-version").CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s -version: %v: %s", ErrUnavailable, r.ffmpegPath, err, truncate(string(out), 200))
	}
	return nil
}

// Run executes cmd and blocks until ffmpeg exits. On any failure the output
// file is removed so no partial file is left in place.
func (r *Runner) Run(ctx context.Context, cmd *Command, onProgress ProgressFunc) (err error) {
	if cmd.Output == "" {
		return fmt.Errorf("ffmpeg %s: no output path", cmd.Name)
	}
	if err := os.MkdirAll(filepath.Dir(cmd.Output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = r.timeout
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	args := r.args(cmd)
	r.logger.Debug("Executing FFmpeg",
		zap.String("operation", cmd.Name),
		zap.String("output", cmd.Output),
		zap.Strings("args", args),
	)

	proc := exec.CommandContext(runCtx, r.ffmpegPath, args...)
	proc.Cancel = func() error {
		return proc.Process.Signal(syscall.SIGTERM)
	}
	proc.WaitDelay = r.killGrace

	stderr := newProgressWriter(cmd.ExpectedDuration, onProgress)
	proc.Stderr = stderr

	start := time.Now()
	defer func() {
		r.record(cmd.Name, err, time.Since(start))
	}()

	runErr := proc.Run()
	stderr.Flush()

	if runErr != nil {
		os.Remove(cmd.Output)
		return r.classify(ctx, runCtx, cmd, runErr, stderr.Tail(), timeout)
	}

	info, statErr := os.Stat(cmd.Output)
	if statErr != nil || info.Size() == 0 {
		os.Remove(cmd.Output)
		return fmt.Errorf("ffmpeg %s: %w: %s", cmd.Name, ErrEmptyOutput, cmd.Output)
	}

	r.logger.Debug("FFmpeg completed",
		zap.String("operation", cmd.Name),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("bytes", info.Size()),
	)
	return nil
}

func (r *Runner) classify(parent, runCtx context.Context, cmd *Command, runErr error, tail string, timeout time.Duration) error {
	switch {
	case errors.Is(runErr, exec.ErrNotFound), errors.Is(runErr, os.ErrNotExist), errors.Is(runErr, os.ErrPermission):
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, r.ffmpegPath, runErr)
	case parent.Err() != nil:
		return fmt.Errorf("ffmpeg %s: %w: %w", cmd.Name, ErrCancelled, parent.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("ffmpeg %s: %w after %s", cmd.Name, ErrTimeout, timeout)
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return &ExecError{
		Operation: cmd.Name,
		ExitCode:  exitCode,
		Stderr:    tail,
		Err:       runErr,
	}
}

func (r *Runner) args(cmd *Command) []string {
	args := cmd.Args()
	if r.maxThreads > 0 && !cmd.HasOption("-threads") {
		// -threads is an output option: insert it right before the output path.
		out := args[len(args)-1]
		args = append(args[:len(args)-1], "-threads", strconv.Itoa(r.maxThreads), out)
	}
	return args
}

func (r *Runner) record(operation string, err error, elapsed time.Duration) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordFFmpegOperation(operation, err == nil, elapsed)
	if err != nil {
		r.recorder.RecordFFmpegError(operation, errorType(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
