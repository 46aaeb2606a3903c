// Package ffmpegtest provides a fake ffmpeg executor for tests.
package ffmpegtest

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
)

// Executor records commands and writes a small placeholder output file
// instead of spawning ffmpeg.
type Executor struct {
	mu       sync.Mutex
	commands []*ffmpeg.Command

	// FailOn returns a non-nil error to fail a command; nil means succeed.
	FailOn func(cmd *ffmpeg.Command) error
	// Progress is reported once per command when set.
	Progress []float64
	// Content is written to every output; defaults to "fake".
	Content []byte
	// Before runs ahead of each command, e.g. to block or cancel.
	Before func(ctx context.Context, cmd *ffmpeg.Command)
}

// Run implements ffmpeg.Executor.
func (e *Executor) Run(ctx context.Context, cmd *ffmpeg.Command, onProgress ffmpeg.ProgressFunc) error {
	e.mu.Lock()
	e.commands = append(e.commands, cmd)
	e.mu.Unlock()

	if e.Before != nil {
		e.Before(ctx, cmd)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.FailOn != nil {
		if err := e.FailOn(cmd); err != nil {
			return err
		}
	}

	for _, p := range e.Progress {
		if onProgress != nil {
			onProgress(ffmpeg.Progress{Percent: p})
		}
	}

	content := e.Content
	if content == nil {
		content = []byte("fake")
	}
	if err := os.MkdirAll(filepath.Dir(cmd.Output), 0755); err != nil {
		return err
	}
	return os.WriteFile(cmd.Output, content, 0644)
}

// Commands returns the commands run so far.
func (e *Executor) Commands() []*ffmpeg.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*ffmpeg.Command(nil), e.commands...)
}

// Named returns the commands with the given operation name.
func (e *Executor) Named(name string) []*ffmpeg.Command {
	var out []*ffmpeg.Command
	for _, c := range e.Commands() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
