package ffmpeg

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the ffmpeg binary cannot be located or started at all.
	ErrUnavailable = errors.New("ffmpeg is not available")
	// ErrTimeout means the invocation exceeded its time budget and was terminated.
	ErrTimeout = errors.New("ffmpeg invocation timed out")
	// ErrEmptyOutput means ffmpeg exited successfully but wrote a zero-byte (or no) file.
	ErrEmptyOutput = errors.New("ffmpeg produced an empty output file")
	// ErrCancelled means the caller cancelled the invocation.
	ErrCancelled = errors.New("ffmpeg invocation cancelled")
)

// ExecError is a non-zero ffmpeg exit. Stderr holds the tail of the diagnostic output.
type ExecError struct {
	Operation string
	ExitCode  int
	Stderr    string
	Err       error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("ffmpeg %s failed (exit code %d)", e.Operation, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// errorType classifies an error for metrics labels.
func errorType(err error) string {
	var execErr *ExecError
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrEmptyOutput):
		return "empty_output"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.As(err, &execErr):
		return "exit"
	default:
		return "other"
	}
}
