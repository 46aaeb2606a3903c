package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFFmpeg writes a shell script standing in for the ffmpeg binary. The
// script sees the output path as its last argument in $out.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor a; do out=$a; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

type recordedOp struct {
	operation string
	success   bool
	errType   string
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (f *fakeRecorder) RecordFFmpegOperation(operation string, success bool, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, recordedOp{operation: operation, success: success})
}

func (f *fakeRecorder) RecordFFmpegError(operation string, errorType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, recordedOp{operation: operation, errType: errorType})
}

func TestRunnerSuccess(t *testing.T) {
	bin := fakeFFmpeg(t, `printf 'frame=10 fps=30 time=00:00:01.00 bitrate=N/A speed=1x\r' >&2
printf 'frame=20 fps=30 time=00:00:02.00 bitrate=N/A speed=1x\r' >&2
echo data > "$out"`)
	rec := &fakeRecorder{}
	r := NewRunner(Config{FFmpegPath: bin, Recorder: rec}, zap.NewNop())

	out := filepath.Join(t.TempDir(), "nested", "out.mp4")
	var percents []float64
	err := r.Run(context.Background(), NewCommand("segment", out).WithExpectedDuration(2), func(p Progress) {
		percents = append(percents, p.Percent)
	})

	require.NoError(t, err)
	assert.FileExists(t, out)
	assert.Equal(t, []float64{50, 100}, percents)
	assert.Equal(t, []recordedOp{{operation: "segment", success: true}}, rec.ops)
}

func TestRunnerEmptyOutput(t *testing.T) {
	bin := fakeFFmpeg(t, `: > "$out"`)
	rec := &fakeRecorder{}
	r := NewRunner(Config{FFmpegPath: bin, Recorder: rec}, zap.NewNop())

	out := filepath.Join(t.TempDir(), "out.mp4")
	err := r.Run(context.Background(), NewCommand("concat", out), nil)

	assert.ErrorIs(t, err, ErrEmptyOutput)
	assert.NoFileExists(t, out)
	require.Len(t, rec.ops, 2)
	assert.Equal(t, "empty_output", rec.ops[1].errType)
}

func TestRunnerExitError(t *testing.T) {
	bin := fakeFFmpeg(t, `echo partial > "$out"
echo "Error opening input file missing.png" >&2
exit 1`)
	r := NewRunner(Config{FFmpegPath: bin}, zap.NewNop())

	out := filepath.Join(t.TempDir(), "out.mp4")
	err := r.Run(context.Background(), NewCommand("segment", out), nil)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, execErr.ExitCode)
	assert.Contains(t, execErr.Error(), "missing.png")
	assert.NoFileExists(t, out, "partial output must be removed")
}

func TestRunnerTimeout(t *testing.T) {
	bin := fakeFFmpeg(t, `exec sleep 5`)
	r := NewRunner(Config{FFmpegPath: bin, KillGrace: 500 * time.Millisecond}, zap.NewNop())

	out := filepath.Join(t.TempDir(), "out.mp4")
	start := time.Now()
	err := r.Run(context.Background(), NewCommand("segment", out).WithTimeout(200*time.Millisecond), nil)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, errors.Is(err, ErrCancelled))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunnerCancel(t *testing.T) {
	bin := fakeFFmpeg(t, `exec sleep 5`)
	r := NewRunner(Config{FFmpegPath: bin, KillGrace: 500 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	out := filepath.Join(t.TempDir(), "out.mp4")
	err := r.Run(ctx, NewCommand("segment", out), nil)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunnerUnavailable(t *testing.T) {
	r := NewRunner(Config{FFmpegPath: filepath.Join(t.TempDir(), "no-such-ffmpeg")}, zap.NewNop())

	assert.ErrorIs(t, r.Available(context.Background()), ErrUnavailable)

	err := r.Run(context.Background(), NewCommand("segment", filepath.Join(t.TempDir(), "out.mp4")), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRunnerAddsThreads(t *testing.T) {
	r := NewRunner(Config{MaxThreads: 2}, zap.NewNop())

	args := r.args(NewCommand("segment", "out.mp4").Option("-t", "5"))
	assert.Equal(t, []string{"-t", "5", "-threads", "2", "out.mp4"}, args[len(args)-5:])

	args = r.args(NewCommand("segment", "out.mp4").Option("-threads", "8"))
	assert.Equal(t, []string{"-threads", "8", "out.mp4"}, args[len(args)-3:])
}
