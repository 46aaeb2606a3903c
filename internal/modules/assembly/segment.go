package assembly

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/nextconvert/assembler/internal/modules/animation"
	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	"github.com/nextconvert/assembler/internal/modules/ffprobe"
	fg "github.com/nextconvert/assembler/internal/modules/filtergraph"
	"github.com/nextconvert/assembler/internal/modules/subtitle"
	"go.uber.org/zap"
)

// SubtitleGenerator builds the caption chain for one scene.
type SubtitleGenerator interface {
	Filter(p subtitle.Params) fg.Chain
}

// SegmentAssembler renders one scene to an encoded clip.
type SegmentAssembler struct {
	executor    ffmpeg.Executor
	prober      ffprobe.Prober
	subtitles   SubtitleGenerator
	fastPresets bool
	logger      *zap.Logger
}

// NewSegmentAssembler creates an assembler. prober and subtitles may be nil.
func NewSegmentAssembler(executor ffmpeg.Executor, prober ffprobe.Prober, subtitles SubtitleGenerator, fastPresets bool, logger *zap.Logger) *SegmentAssembler {
	return &SegmentAssembler{
		executor:    executor,
		prober:      prober,
		subtitles:   subtitles,
		fastPresets: fastPresets,
		logger:      logger,
	}
}

// SegmentInput describes one scene render.
type SegmentInput struct {
	SceneIndex int
	ImagePath  string
	// AudioPath is optional; the scene is rendered over silence without it.
	AudioPath  string
	Duration   float64
	Narration  string
	Settings   Settings
	Dir        string
	OnProgress func(percent float64)
}

// SegmentPath is the file name a scene renders to inside dir.
func SegmentPath(dir string, sceneIndex int, s Settings) string {
	return filepath.Join(dir, fmt.Sprintf("segment_%03d%s", sceneIndex, s.Extension()))
}

// Render encodes the scene and returns the segment path.
func (a *SegmentAssembler) Render(ctx context.Context, in SegmentInput) (string, error) {
	cmd, err := a.Command(in)
	if err != nil {
		return "", &SegmentRenderError{SceneIndex: in.SceneIndex, Err: err}
	}

	if in.AudioPath != "" && a.prober != nil {
		if d, err := ffprobe.Duration(ctx, a.prober, in.AudioPath); err == nil && d > in.Duration+0.05 {
			a.logger.Warn("Narration is longer than the scene and will be cut at the scene boundary",
				zap.Int("scene", in.SceneIndex),
				zap.Float64("audio_duration", d),
				zap.Float64("scene_duration", in.Duration),
			)
		}
	}

	a.logger.Debug("Rendering segment",
		zap.Int("scene", in.SceneIndex),
		zap.Float64("duration", in.Duration),
		zap.String("command", cmd.String()),
	)

	err = a.executor.Run(ctx, cmd, func(p ffmpeg.Progress) {
		if in.OnProgress != nil {
			in.OnProgress(p.Percent)
		}
	})
	if err != nil {
		return "", &SegmentRenderError{SceneIndex: in.SceneIndex, Err: err}
	}

	a.logger.Info("Segment rendered",
		zap.Int("scene", in.SceneIndex),
		zap.String("path", cmd.Output),
	)
	return cmd.Output, nil
}

// Command builds the encoder invocation for a scene without running it.
func (a *SegmentAssembler) Command(in SegmentInput) (*ffmpeg.Command, error) {
	if in.ImagePath == "" {
		return nil, fmt.Errorf("image path is required")
	}
	if in.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %v", in.Duration)
	}

	s := in.Settings
	vf, err := a.videoChain(in)
	if err != nil {
		return nil, err
	}
	duration := strconv.FormatFloat(in.Duration, 'f', 3, 64)

	cmd := ffmpeg.NewCommand("segment", SegmentPath(in.Dir, in.SceneIndex, s)).
		Input(in.ImagePath, "-loop", "1", "-framerate", strconv.Itoa(s.FrameRate))

	if in.AudioPath != "" {
		cmd.Input(in.AudioPath, "-fflags", "+genpts")
	} else {
		src := fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", s.SampleRate())
		cmd.Input(src, "-f", "lavfi")
	}

	cmd.VideoFilter(vf.String()).
		AudioFilter(fg.Chain{fg.New("apad").Set("whole_dur", in.Duration)}.String()).
		Map("0:v").
		Map("1:a").
		Option("-t", duration).
		Encode(s.Encoding(a.fastPresets)).
		Option("-avoid_negative_ts", "make_zero").
		WithExpectedDuration(in.Duration)

	return cmd, nil
}

// videoChain is fit, pad, animation, captions, then frame rate and pixel
// format normalization. The order is load-bearing.
func (a *SegmentAssembler) videoChain(in SegmentInput) (fg.Chain, error) {
	s := in.Settings
	w, h := s.Dimensions()

	chain := fg.Chain{
		fg.New("scale").
			Set("w", w).
			Set("h", h).
			Set("force_original_aspect_ratio", "decrease"),
		fg.New("pad").
			Set("w", w).
			Set("h", h).
			Set("x", fg.Div(fg.Sub(fg.OutW, fg.InW), fg.Two)).
			Set("y", fg.Div(fg.Sub(fg.OutH, fg.InH), fg.Two)).
			Set("color", "black"),
		fg.New("setsar").Arg(1),
	}

	motion, err := animation.Generate(s.Animation.Type, s.Animation.Intensity, animation.Frame{
		Duration: in.Duration,
		Width:    w,
		Height:   h,
		FPS:      s.FrameRate,
	})
	if err != nil {
		return nil, err
	}
	chain = chain.Then(motion...)

	if a.subtitles != nil && s.Subtitles.Enabled && in.Narration != "" {
		captions := a.subtitles.Filter(subtitle.Params{
			Narration:          in.Narration,
			Settings:           s.Subtitles,
			Width:              w,
			Height:             h,
			Duration:           in.Duration,
			SceneIndex:         in.SceneIndex,
			TransitionsEnabled: s.Transition.Kind.Enabled(),
			TransitionDuration: s.Transition.Duration,
			Orientation:        string(s.Orientation),
		})
		chain = chain.Then(captions...)
	}

	return chain.Then(
		fg.New("fps").Arg(s.FrameRate),
		fg.New("format").Arg("yuv420p"),
	), nil
}
