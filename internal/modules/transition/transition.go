// Package transition merges rendered segments with crossfade transitions
// (xfade for video, acrossfade for audio).
package transition

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	"github.com/nextconvert/assembler/internal/modules/ffprobe"
	fg "github.com/nextconvert/assembler/internal/modules/filtergraph"
	"go.uber.org/zap"
)

// Kind names a transition. Values match ffmpeg xfade transition names.
type Kind string

const (
	None        Kind = "none"
	Fade        Kind = "fade"
	Dissolve    Kind = "dissolve"
	WipeLeft    Kind = "wipeleft"
	WipeRight   Kind = "wiperight"
	SlideLeft   Kind = "slideleft"
	SlideRight  Kind = "slideright"
	CircleOpen  Kind = "circleopen"
	CircleClose Kind = "circleclose"
)

const (
	DefaultDuration = 1.0
	MaxDuration     = 2.0
)

// Kinds lists every supported transition.
func Kinds() []Kind {
	return []Kind{None, Fade, Dissolve, WipeLeft, WipeRight, SlideLeft, SlideRight, CircleOpen, CircleClose}
}

// Valid reports whether k is a supported transition.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Enabled reports whether k merges segments with an overlap.
func (k Kind) Enabled() bool {
	return k != "" && k != None
}

// Spec is the transition part of a run's settings.
type Spec struct {
	Kind     Kind    `json:"kind" yaml:"kind"`
	Duration float64 `json:"duration" yaml:"duration"`
}

// ClampDuration keeps d within (0, MaxDuration] and no longer than half of
// the shortest scene so consecutive transitions never overlap.
func ClampDuration(d float64, durations []float64) float64 {
	if d <= 0 {
		d = DefaultDuration
	}
	d = math.Min(d, MaxDuration)
	for _, sd := range durations {
		d = math.Min(d, sd/2)
	}
	return round3(d)
}

// BuildGraph chains xfade/acrossfade over the inputs. The merged streams are
// padded at the end (last frame held, silence appended) so the output keeps
// the full sum of scene durations. Returns the graph and that total.
func BuildGraph(durations []float64, spec Spec) (fg.Graph, float64, error) {
	n := len(durations)
	if n < 2 {
		return nil, 0, fmt.Errorf("transitions need at least 2 segments, got %d", n)
	}

	d := ClampDuration(spec.Duration, durations)
	total := 0.0
	for _, sd := range durations {
		total += sd
	}

	var graph fg.Graph
	prevV, prevA := "0:v", "0:a"
	elapsed := durations[0]
	for i := 1; i < n; i++ {
		offset := round3(elapsed - d)
		v, a := "v"+strconv.Itoa(i), "a"+strconv.Itoa(i)

		graph = append(graph,
			fg.Link{
				Inputs: []string{prevV, strconv.Itoa(i) + ":v"},
				Chain: fg.Chain{fg.New("xfade").
					Set("transition", string(spec.Kind)).
					Set("duration", d).
					Set("offset", offset)},
				Outputs: []string{v},
			},
			fg.Link{
				Inputs:  []string{prevA, strconv.Itoa(i) + ":a"},
				Chain:   fg.Chain{fg.New("acrossfade").Set("d", d)},
				Outputs: []string{a},
			},
		)

		prevV, prevA = v, a
		elapsed = elapsed + durations[i] - d
	}

	overlap := round3(float64(n-1) * d)
	graph = append(graph,
		fg.Link{
			Inputs:  []string{prevV},
			Chain:   fg.Chain{fg.New("tpad").Set("stop_mode", "clone").Set("stop_duration", overlap)},
			Outputs: []string{"vout"},
		},
		fg.Link{
			Inputs:  []string{prevA},
			Chain:   fg.Chain{fg.New("apad").Set("whole_dur", round3(total))},
			Outputs: []string{"aout"},
		},
	)

	return graph, round3(total), nil
}

// Merger merges segments with transitions.
type Merger struct {
	executor ffmpeg.Executor
	prober   ffprobe.Prober
	logger   *zap.Logger
}

// NewMerger creates a merger.
func NewMerger(executor ffmpeg.Executor, prober ffprobe.Prober, logger *zap.Logger) *Merger {
	return &Merger{executor: executor, prober: prober, logger: logger}
}

// MergeParams describes one merge.
type MergeParams struct {
	Segments   []string
	Spec       Spec
	Encoding   ffmpeg.Encoding
	Output     string
	OnProgress func(percent float64)
}

// Merge probes every segment and renders the crossfaded output.
func (m *Merger) Merge(ctx context.Context, p MergeParams) error {
	if len(p.Segments) == 0 {
		return fmt.Errorf("no segments to merge")
	}

	durations := make([]float64, len(p.Segments))
	for i, seg := range p.Segments {
		d, err := ffprobe.Duration(ctx, m.prober, seg)
		if err != nil {
			return fmt.Errorf("failed to probe segment %d: %w", i, err)
		}
		durations[i] = d
	}

	cmd := ffmpeg.NewCommand("transition", p.Output)
	for _, seg := range p.Segments {
		cmd.Input(seg)
	}

	total := durations[0]
	if len(p.Segments) > 1 {
		graph, sum, err := BuildGraph(durations, p.Spec)
		if err != nil {
			return err
		}
		total = sum
		cmd.ComplexFilter(graph.String()).Map("[vout]").Map("[aout]")
	}

	cmd.Encode(p.Encoding).
		Option("-t", strconv.FormatFloat(total, 'f', 3, 64)).
		WithExpectedDuration(total)

	m.logger.Info("Merging segments with transitions",
		zap.Int("segments", len(p.Segments)),
		zap.String("transition", string(p.Spec.Kind)),
		zap.Float64("total_duration", total),
	)

	return m.executor.Run(ctx, cmd, func(pr ffmpeg.Progress) {
		if p.OnProgress != nil {
			p.OnProgress(pr.Percent)
		}
	})
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
