package assembly

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	"github.com/nextconvert/assembler/internal/modules/ffmpeg/ffmpegtest"
	"github.com/nextconvert/assembler/internal/modules/transition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubMerger struct {
	params   []transition.MergeParams
	progress []float64
	err      error
}

func (m *stubMerger) Merge(_ context.Context, p transition.MergeParams) error {
	m.params = append(m.params, p)
	for _, pct := range m.progress {
		p.OnProgress(pct)
	}
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(p.Output, []byte("merged"), 0644)
}

func writeSegments(t *testing.T, dir string, contents ...string) []string {
	t.Helper()
	paths := make([]string, len(contents))
	for i, c := range contents {
		paths[i] = filepath.Join(dir, "segment_"+string(rune('a'+i))+".mp4")
		require.NoError(t, os.WriteFile(paths[i], []byte(c), 0644))
	}
	return paths
}

func TestConcatList(t *testing.T) {
	list := ConcatList([]string{"/w/segment_000.mp4", "/w/it's.mp4"})
	assert.Equal(t, "file '/w/segment_000.mp4'\nfile '/w/it'\\''s.mp4'\n", list)
}

func TestValidateSegmentsNamesOffendingScene(t *testing.T) {
	dir := t.TempDir()
	segs := writeSegments(t, dir, "a", "", "c")

	err := ValidateSegments(segs)
	var concatErr *ConcatenationError
	require.True(t, errors.As(err, &concatErr))
	assert.Equal(t, 1, concatErr.SceneIndex)
	assert.ErrorIs(t, err, ffmpeg.ErrEmptyOutput)

	segs[1] = filepath.Join(dir, "missing.mp4")
	err = ValidateSegments(segs)
	require.True(t, errors.As(err, &concatErr))
	assert.Equal(t, 1, concatErr.SceneIndex)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConcatDirect(t *testing.T) {
	dir := t.TempDir()
	segs := writeSegments(t, dir, "a", "b", "c")
	exec := &ffmpegtest.Executor{Progress: []float64{0, 40, 100}}
	c := NewConcatenator(exec, nil, false, zap.NewNop())

	var seen []float64
	out := filepath.Join(dir, "concat.mp4")
	got, err := c.Concat(context.Background(), ConcatInput{
		Segments:   segs,
		Settings:   Settings{}.Normalize(),
		Output:     out,
		Duration:   15,
		OnProgress: func(p float64) { seen = append(seen, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, out, got)
	assert.Equal(t, []float64{75, 85, 100}, seen)

	cmds := exec.Named("concat")
	require.Len(t, cmds, 1)
	assert.Equal(t, []string{"-f", "concat", "-safe", "0"}, cmds[0].Inputs[0].Options)
	assert.Equal(t, 15.0, cmds[0].ExpectedDuration)
	assert.Contains(t, cmds[0].Args(), "-ar")
	assert.NoFileExists(t, filepath.Join(dir, "concat_list.txt"))
}

func TestConcatDirectFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	segs := writeSegments(t, dir, "a", "b")
	exec := &ffmpegtest.Executor{FailOn: func(*ffmpeg.Command) error { return ffmpeg.ErrTimeout }}
	c := NewConcatenator(exec, nil, false, zap.NewNop())

	out := filepath.Join(dir, "concat.mp4")
	_, err := c.Concat(context.Background(), ConcatInput{Segments: segs, Settings: Settings{}.Normalize(), Output: out})
	var concatErr *ConcatenationError
	require.True(t, errors.As(err, &concatErr))
	assert.Equal(t, -1, concatErr.SceneIndex)
	assert.ErrorIs(t, err, ffmpeg.ErrTimeout)
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, filepath.Join(dir, "concat_list.txt"))
}

func TestConcatMissingSegmentRunsNothing(t *testing.T) {
	dir := t.TempDir()
	segs := writeSegments(t, dir, "a", "b")
	segs = append(segs, filepath.Join(dir, "gone.mp4"))
	exec := &ffmpegtest.Executor{}
	c := NewConcatenator(exec, nil, false, zap.NewNop())

	_, err := c.Concat(context.Background(), ConcatInput{Segments: segs, Settings: Settings{}.Normalize(), Output: filepath.Join(dir, "o.mp4")})
	var concatErr *ConcatenationError
	require.True(t, errors.As(err, &concatErr))
	assert.Equal(t, 2, concatErr.SceneIndex)
	assert.Empty(t, exec.Commands())
}

func TestConcatWithTransitionDelegates(t *testing.T) {
	dir := t.TempDir()
	segs := writeSegments(t, dir, "a", "b")
	merger := &stubMerger{progress: []float64{20, 100}}
	exec := &ffmpegtest.Executor{}
	c := NewConcatenator(exec, merger, false, zap.NewNop())

	s := Settings{Transition: transition.Spec{Kind: transition.Fade, Duration: 0.5}}.Normalize()
	var seen []float64
	_, err := c.Concat(context.Background(), ConcatInput{
		Segments:   segs,
		Settings:   s,
		Output:     filepath.Join(dir, "concat.mp4"),
		OnProgress: func(p float64) { seen = append(seen, p) },
	})
	require.NoError(t, err)

	require.Len(t, merger.params, 1)
	assert.Equal(t, segs, merger.params[0].Segments)
	assert.Equal(t, transition.Fade, merger.params[0].Spec.Kind)
	assert.Equal(t, []float64{80, 100}, seen)
	assert.Empty(t, exec.Commands())
}

func TestConcatSingleSegmentWithTransitionIsDirect(t *testing.T) {
	dir := t.TempDir()
	segs := writeSegments(t, dir, "a")
	merger := &stubMerger{}
	exec := &ffmpegtest.Executor{}
	c := NewConcatenator(exec, merger, false, zap.NewNop())

	s := Settings{Transition: transition.Spec{Kind: transition.Fade}}.Normalize()
	_, err := c.Concat(context.Background(), ConcatInput{Segments: segs, Settings: s, Output: filepath.Join(dir, "o.mp4")})
	require.NoError(t, err)
	assert.Empty(t, merger.params)
	assert.Len(t, exec.Named("concat"), 1)
}
