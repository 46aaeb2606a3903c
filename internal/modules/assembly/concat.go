package assembly

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	"github.com/nextconvert/assembler/internal/modules/transition"
	"go.uber.org/zap"
)

// TransitionMerger merges segments with crossfades.
type TransitionMerger interface {
	Merge(ctx context.Context, p transition.MergeParams) error
}

// Concatenator joins rendered segments in scene order.
type Concatenator struct {
	executor    ffmpeg.Executor
	merger      TransitionMerger
	fastPresets bool
	logger      *zap.Logger
}

// NewConcatenator creates a concatenator.
func NewConcatenator(executor ffmpeg.Executor, merger TransitionMerger, fastPresets bool, logger *zap.Logger) *Concatenator {
	return &Concatenator{
		executor:    executor,
		merger:      merger,
		fastPresets: fastPresets,
		logger:      logger,
	}
}

// ConcatInput describes one concatenation.
type ConcatInput struct {
	Segments []string
	Settings Settings
	Output   string
	// Duration is the expected output length in seconds, used for progress.
	Duration float64
	// OnProgress receives overall run percent within the concatenation band.
	OnProgress func(percent float64)
}

// Concat validates every segment, then concatenates directly or merges with
// transitions. No output is left behind on failure.
func (c *Concatenator) Concat(ctx context.Context, in ConcatInput) (string, error) {
	if len(in.Segments) == 0 {
		return "", &ConcatenationError{SceneIndex: -1, Err: errors.New("no segments to concatenate")}
	}
	if err := ValidateSegments(in.Segments); err != nil {
		return "", err
	}

	report := func(p float64) {
		if in.OnProgress != nil {
			in.OnProgress(bandSegmentEnd + p/4)
		}
	}

	var err error
	if in.Settings.Transition.Kind.Enabled() && len(in.Segments) > 1 {
		err = c.merge(ctx, in, report)
	} else {
		err = c.direct(ctx, in, report)
	}
	if err != nil {
		os.Remove(in.Output)
		return "", &ConcatenationError{SceneIndex: -1, Err: err}
	}
	return in.Output, nil
}

// ValidateSegments fails on the first missing or empty segment.
func ValidateSegments(segments []string) error {
	for i, seg := range segments {
		info, err := os.Stat(seg)
		if err != nil {
			return &ConcatenationError{SceneIndex: i, Segment: seg, Err: fmt.Errorf("segment missing: %w", err)}
		}
		if info.Size() == 0 {
			return &ConcatenationError{SceneIndex: i, Segment: seg, Err: fmt.Errorf("segment is empty: %w", ffmpeg.ErrEmptyOutput)}
		}
	}
	return nil
}

func (c *Concatenator) direct(ctx context.Context, in ConcatInput, report func(float64)) error {
	listPath := filepath.Join(filepath.Dir(in.Output), "concat_list.txt")
	if err := os.WriteFile(listPath, []byte(ConcatList(in.Segments)), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	defer os.Remove(listPath)

	cmd := ffmpeg.NewCommand("concat", in.Output).
		Input(listPath, "-f", "concat", "-safe", "0").
		Map("0:v").
		Map("0:a").
		Encode(in.Settings.Encoding(c.fastPresets)).
		WithExpectedDuration(in.Duration)

	c.logger.Info("Concatenating segments",
		zap.Int("segments", len(in.Segments)),
		zap.String("output", in.Output),
	)

	return c.executor.Run(ctx, cmd, func(p ffmpeg.Progress) { report(p.Percent) })
}

func (c *Concatenator) merge(ctx context.Context, in ConcatInput, report func(float64)) error {
	if c.merger == nil {
		return errors.New("transition merger is not configured")
	}
	return c.merger.Merge(ctx, transition.MergeParams{
		Segments:   in.Segments,
		Spec:       in.Settings.Transition,
		Encoding:   in.Settings.Encoding(c.fastPresets),
		Output:     in.Output,
		OnProgress: report,
	})
}

// ConcatList renders a concat demuxer list of absolute quoted paths.
// A single quote inside a path is written as '\''.
func ConcatList(segments []string) string {
	var b strings.Builder
	for _, seg := range segments {
		if abs, err := filepath.Abs(seg); err == nil {
			seg = abs
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(seg, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}
