package assembly

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextconvert/assembler/internal/modules/animation"
	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	"github.com/nextconvert/assembler/internal/modules/ffprobe"
	"github.com/nextconvert/assembler/internal/modules/subtitle"
	"github.com/nextconvert/assembler/internal/modules/transition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// realTools returns a runner and prober backed by the installed binaries, or
// skips the test when they are missing.
func realTools(t *testing.T) (*ffmpeg.Runner, *ffprobe.Client) {
	t.Helper()
	if testing.Short() {
		t.Skip("encoder tests are slow")
	}
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	runner := ffmpeg.NewRunner(ffmpeg.Config{
		FFmpegPath: ffmpegPath,
		MaxThreads: 2,
		Timeout:    2 * time.Minute,
		KillGrace:  2 * time.Second,
	}, zap.NewNop())
	return runner, ffprobe.NewClient(ffprobePath, zap.NewNop())
}

func writeFixtureImage(t *testing.T, runner *ffmpeg.Runner, path string) {
	t.Helper()
	cmd := ffmpeg.NewCommand("fixture", path).
		Input("color=c=steelblue:s=800x600", "-f", "lavfi").
		Option("-frames:v", "1")
	require.NoError(t, runner.Run(context.Background(), cmd, nil))
}

func writeFixtureTone(t *testing.T, runner *ffmpeg.Runner, path string, seconds string) {
	t.Helper()
	cmd := ffmpeg.NewCommand("fixture", path).
		Input("sine=frequency=440:sample_rate=44100", "-f", "lavfi", "-t", seconds)
	require.NoError(t, runner.Run(context.Background(), cmd, nil))
}

func realPipeline(t *testing.T, runner *ffmpeg.Runner, prober *ffprobe.Client, root string) *Pipeline {
	t.Helper()
	return NewPipeline(Config{WorkspaceRoot: root, FastPresets: true}, Deps{
		Executor:  runner,
		Prober:    prober,
		Checker:   runner,
		Subtitles: subtitle.NewGenerator(""),
		Merger:    transition.NewMerger(runner, prober, zap.NewNop()),
		Music:     MusicSources{Executor: runner},
	}, zap.NewNop())
}

func TestRealThreeSceneAssembly(t *testing.T) {
	runner, prober := realTools(t)
	assets := t.TempDir()
	img := filepath.Join(assets, "scene.png")
	writeFixtureImage(t, runner, img)
	voice := filepath.Join(assets, "voice.wav")
	writeFixtureTone(t, runner, voice, "3")

	root := t.TempDir()
	debugRoot := t.TempDir()
	p := NewPipeline(Config{WorkspaceRoot: root, FastPresets: true}, Deps{
		Executor: runner,
		Prober:   prober,
		Checker:  runner,
		Debug:    DebugPolicy{Enabled: true, Sink: DirSink{Root: debugRoot}},
	}, zap.NewNop())

	out := filepath.Join(t.TempDir(), "final.mp4")
	res, err := p.Run(context.Background(), Request{
		RunID: "seed",
		Scenes: []Scene{
			{ID: 1, ImagePath: img, AudioPath: voice, Duration: 5},
			{ID: 2, ImagePath: img, AudioPath: voice, Duration: 4},
			{ID: 3, ImagePath: img, Duration: 6},
		},
		Settings: Settings{
			Resolution: Res1080p,
			FrameRate:  30,
			Format:     FormatMP4,
			Quality:    QualityHigh,
		},
		OutputPath: out,
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.InDelta(t, 15.0, res.DurationSeconds, 0.1)

	require.Len(t, res.DebugPaths, 3)
	for i, want := range []float64{5, 4, 6} {
		probe, err := prober.Probe(context.Background(), res.DebugPaths[i])
		require.NoError(t, err)
		v, ok := probe.FirstStream("video")
		require.True(t, ok)
		a, ok := probe.FirstStream("audio")
		require.True(t, ok)
		assert.Equal(t, 1920, v.Width)
		assert.InDelta(t, want, v.Duration, 1.0/30+0.001, "video duration of segment %d", i)
		assert.InDelta(t, want, a.Duration, 1.0/30+0.03, "audio duration of segment %d", i)
	}

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRealTransitionsAnimationAndMusic(t *testing.T) {
	runner, prober := realTools(t)
	assets := t.TempDir()
	img := filepath.Join(assets, "scene.png")
	writeFixtureImage(t, runner, img)

	out := filepath.Join(t.TempDir(), "final.webm")
	res, err := realPipeline(t, runner, prober, t.TempDir()).Run(context.Background(), Request{
		Scenes: []Scene{
			{ImagePath: img, Duration: 2, Narration: "First: it's a test"},
			{ImagePath: img, Duration: 2, Narration: "Second scene"},
		},
		Settings: Settings{
			Resolution: Res720p,
			Format:     FormatWebM,
			Quality:    QualityStandard,
			Transition: transition.Spec{Kind: transition.Fade, Duration: 0.5},
			Animation:  animation.Settings{Type: animation.SlowZoom, Intensity: animation.Strong},
			Music: MusicSettings{
				Enabled:  true,
				Source:   MusicRemote,
				TrackURL: "http://127.0.0.1:1/unreachable.mp3",
				Volume:   30,
				FadeOut:  1,
			},
		},
		OutputPath: out,
	})
	require.NoError(t, err)
	assert.True(t, res.MusicApplied)
	assert.Equal(t, TierSynthesized, res.MusicSource)
	assert.InDelta(t, 4.0, res.DurationSeconds, 0.15)
}

func TestRealCancellationRemovesWorkspace(t *testing.T) {
	runner, prober := realTools(t)
	assets := t.TempDir()
	img := filepath.Join(assets, "scene.png")
	writeFixtureImage(t, runner, img)

	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once

	res, err := realPipeline(t, runner, prober, root).Run(ctx, Request{
		Scenes: []Scene{{ImagePath: img, Duration: 30}, {ImagePath: img, Duration: 30}},
		Settings: Settings{
			Resolution: Res4K,
			Quality:    QualityUltra,
		},
		OutputPath: filepath.Join(t.TempDir(), "final.mp4"),
		OnProgress: func(p Progress) {
			if p.Stage == StateSegmenting {
				once.Do(func() { time.AfterFunc(500*time.Millisecond, cancel) })
			}
		},
	})
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
