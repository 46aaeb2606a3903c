package assembly

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	"github.com/nextconvert/assembler/internal/modules/ffprobe"
	fg "github.com/nextconvert/assembler/internal/modules/filtergraph"
	"go.uber.org/zap"
)

// Narration and music weights for the final mix. amix runs with
// normalize=0 so narration keeps its level.
const (
	narrationWeight = 1.0
	musicWeight     = 0.5
)

// MusicMixer lays a background track under a finished video.
type MusicMixer struct {
	executor ffmpeg.Executor
	prober   ffprobe.Prober
	sources  MusicSources
	logger   *zap.Logger
}

// NewMusicMixer creates a mixer. sources.Executor defaults to executor.
func NewMusicMixer(executor ffmpeg.Executor, prober ffprobe.Prober, sources MusicSources, logger *zap.Logger) *MusicMixer {
	if sources.Executor == nil {
		sources.Executor = executor
	}
	return &MusicMixer{executor: executor, prober: prober, sources: sources, logger: logger}
}

// MixInput describes one mix.
type MixInput struct {
	VideoPath string
	Output    string
	Music     MusicSettings
	Settings  Settings
	// Dir holds fetched and generated tracks.
	Dir string
}

// MixResult reports whether music was applied and which tier supplied it.
type MixResult struct {
	Applied bool
	Source  string
}

// Mix writes the video with music to in.Output. With music disabled the
// input is copied unchanged. Failures are *MusicMixError and leave no output.
func (m *MusicMixer) Mix(ctx context.Context, in MixInput) (MixResult, error) {
	if !in.Music.Enabled {
		if err := copyFile(in.VideoPath, in.Output); err != nil {
			return MixResult{}, &MusicMixError{Err: err}
		}
		return MixResult{}, nil
	}

	res, err := m.mix(ctx, in)
	if err != nil {
		os.Remove(in.Output)
		return MixResult{Source: res.Source}, &MusicMixError{Err: err}
	}
	return res, nil
}

func (m *MusicMixer) mix(ctx context.Context, in MixInput) (MixResult, error) {
	target, err := ffprobe.Duration(ctx, m.prober, in.VideoPath)
	if err != nil {
		return MixResult{}, fmt.Errorf("failed to probe video: %w", err)
	}

	track, source, err := ResolveMusic(ctx, m.sources.Chain(in.Music.Source), MusicRequest{
		Settings:   in.Music,
		Duration:   target,
		SampleRate: in.Settings.SampleRate(),
		Dir:        in.Dir,
	})
	if err != nil {
		return MixResult{}, fmt.Errorf("no music source available: %w", err)
	}
	if source == TierSynthesized || source == TierSilence {
		m.logger.Warn("Requested music unavailable, using fallback track",
			zap.String("source", source),
			zap.String("requested", string(in.Music.Source)),
		)
	}

	trackDuration, err := ffprobe.Duration(ctx, m.prober, track)
	if err != nil {
		m.logger.Warn("Failed to probe music track", zap.String("track", track), zap.Error(err))
		trackDuration = 0
	}

	cmd := m.Command(in, track, target, trackDuration)
	m.logger.Info("Mixing background music",
		zap.String("source", source),
		zap.Float64("video_duration", target),
		zap.Float64("track_duration", trackDuration),
	)

	if err := m.executor.Run(ctx, cmd, nil); err != nil {
		return MixResult{Source: source}, err
	}
	return MixResult{Applied: true, Source: source}, nil
}

// Command builds the mix invocation for a resolved track.
func (m *MusicMixer) Command(in MixInput, track string, target, trackDuration float64) *ffmpeg.Command {
	music := in.Music
	span := target - music.StartOffset
	if span <= 0 {
		span = target
	}

	var trackOpts []string
	if loops := LoopCount(music.Loop, trackDuration, span); loops > 0 {
		trackOpts = append(trackOpts, "-stream_loop", strconv.Itoa(loops))
	}

	graph := fg.Graph{
		{Inputs: []string{"1:a"}, Chain: MusicChain(music, span), Outputs: []string{"music"}},
		{
			Inputs: []string{"0:a", "music"},
			Chain: fg.Chain{
				fg.New("amix").
					Set("inputs", 2).
					Set("duration", "first").
					Set("dropout_transition", 0).
					Set("weights", fmt.Sprintf("'%s %s'", trimFloat(narrationWeight), trimFloat(musicWeight))).
					Set("normalize", 0),
			},
			Outputs: []string{"aout"},
		},
	}

	enc := in.Settings.Encoding(false)
	cmd := ffmpeg.NewCommand("music", in.Output).
		Input(in.VideoPath).
		Input(track, trackOpts...).
		ComplexFilter(graph.String()).
		Map("0:v").
		Map("[aout]").
		Option("-c:v", "copy")
	cmd.OutputOptions = append(cmd.OutputOptions, enc.AudioOptions()...)
	cmd.OutputOptions = append(cmd.OutputOptions, enc.ContainerFlags...)
	return cmd.
		Option("-t", strconv.FormatFloat(target, 'f', 3, 64)).
		WithExpectedDuration(target)
}

// LoopCount is the number of extra repetitions needed for a track of
// trackDuration to cover span, or 0 when looping is off or unnecessary.
func LoopCount(loop bool, trackDuration, span float64) int {
	if !loop || trackDuration <= 0 || trackDuration >= span {
		return 0
	}
	return int(math.Ceil(span/trackDuration)) - 1
}

// MusicChain is volume, fade in, fade out, trim, then the start delay.
// span is the time the music plays for after its delay.
func MusicChain(music MusicSettings, span float64) fg.Chain {
	chain := fg.Chain{fg.New("volume").Arg(round3(music.Gain()))}

	if music.FadeIn > 0 {
		chain = append(chain, fg.New("afade").
			Set("t", "in").
			Set("st", 0).
			Set("d", round3(min(music.FadeIn, span))))
	}
	if music.FadeOut > 0 {
		fade := min(music.FadeOut, span)
		chain = append(chain, fg.New("afade").
			Set("t", "out").
			Set("st", round3(max(span-fade, 0))).
			Set("d", round3(fade)))
	}

	chain = append(chain,
		fg.New("atrim").Set("duration", round3(span)),
		fg.New("asetpts").Arg("PTS-STARTPTS"),
	)

	if music.StartOffset > 0 {
		ms := int(math.Round(music.StartOffset * 1000))
		chain = append(chain, fg.New("adelay").Set("delays", ms).Set("all", 1))
	}
	return chain
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
