package assembly

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextconvert/assembler/internal/modules/animation"
	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	"github.com/nextconvert/assembler/internal/modules/ffmpeg/ffmpegtest"
	"github.com/nextconvert/assembler/internal/modules/ffprobe/ffprobetest"
	fg "github.com/nextconvert/assembler/internal/modules/filtergraph"
	"github.com/nextconvert/assembler/internal/modules/subtitle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSubtitles struct {
	calls []subtitle.Params
}

func (s *stubSubtitles) Filter(p subtitle.Params) fg.Chain {
	s.calls = append(s.calls, p)
	return fg.Chain{fg.New("drawtext").Set("text", fg.Text(p.Narration))}
}

// indexOf returns the position of the first filter named name in a chain string.
func indexOf(t *testing.T, chain, name string) int {
	t.Helper()
	for i, part := range strings.Split(chain, ",") {
		if strings.HasPrefix(part, name+"=") || part == name {
			return i
		}
	}
	t.Fatalf("filter %s not found in %s", name, chain)
	return -1
}

func TestSegmentCommandBaseChain(t *testing.T) {
	a := NewSegmentAssembler(&ffmpegtest.Executor{}, nil, nil, false, zap.NewNop())

	cmd, err := a.Command(SegmentInput{
		SceneIndex: 2,
		ImagePath:  "/in/a.png",
		AudioPath:  "/in/a.wav",
		Duration:   5,
		Settings:   Settings{}.Normalize(),
		Dir:        "/work/segments",
	})
	require.NoError(t, err)

	assert.Equal(t, "segment", cmd.Name)
	assert.Equal(t, filepath.Join("/work/segments", "segment_002.mp4"), cmd.Output)
	require.Len(t, cmd.VideoFilters, 1)
	assert.Equal(t,
		"scale=w=1920:h=1080:force_original_aspect_ratio=decrease,"+
			"pad=w=1920:h=1080:x='(ow-iw)/2':y='(oh-ih)/2':color=black,"+
			"setsar=1,fps=30,format=yuv420p",
		cmd.VideoFilters[0])
	assert.Equal(t, []string{"apad=whole_dur=5"}, cmd.AudioFilters)
	assert.Equal(t, []string{"0:v", "1:a"}, cmd.Maps)

	args := strings.Join(cmd.Args(), " ")
	assert.Contains(t, args, "-loop 1 -framerate 30 -i /in/a.png")
	assert.Contains(t, args, "-fflags +genpts -i /in/a.wav")
	assert.Contains(t, args, "-t 5.000")
	assert.Contains(t, args, "-avoid_negative_ts make_zero")
	assert.Equal(t, 5.0, cmd.ExpectedDuration)
}

func TestSegmentCommandWithoutAudioUsesSilence(t *testing.T) {
	a := NewSegmentAssembler(&ffmpegtest.Executor{}, nil, nil, false, zap.NewNop())
	cmd, err := a.Command(SegmentInput{ImagePath: "/in/a.png", Duration: 3, Settings: Settings{}.Normalize(), Dir: "/w"})
	require.NoError(t, err)

	require.Len(t, cmd.Inputs, 2)
	assert.Equal(t, "anullsrc=channel_layout=stereo:sample_rate=44100", cmd.Inputs[1].Path)
	assert.Equal(t, []string{"-f", "lavfi"}, cmd.Inputs[1].Options)
}

func TestSegmentFilterOrder(t *testing.T) {
	subs := &stubSubtitles{}
	a := NewSegmentAssembler(&ffmpegtest.Executor{}, nil, subs, false, zap.NewNop())

	s := Settings{
		Animation: animation.Settings{Type: animation.PanLeft, Intensity: animation.Subtle},
		Subtitles: subtitle.Settings{Enabled: true},
	}.Normalize()

	cmd, err := a.Command(SegmentInput{
		ImagePath: "/in/a.png",
		AudioPath: "/in/a.wav",
		Duration:  4,
		Narration: "Hello there",
		Settings:  s,
		Dir:       "/w",
	})
	require.NoError(t, err)
	vf := cmd.VideoFilters[0]

	pad := indexOf(t, vf, "pad")
	crop := indexOf(t, vf, "crop")
	text := indexOf(t, vf, "drawtext")
	fps := indexOf(t, vf, "fps")
	assert.Less(t, indexOf(t, vf, "scale"), pad)
	assert.Less(t, pad, crop)
	assert.Less(t, crop, text)
	assert.Less(t, text, fps)

	require.Len(t, subs.calls, 1)
	assert.Equal(t, 4.0, subs.calls[0].Duration)
	assert.Equal(t, 1920, subs.calls[0].Width)
	assert.Equal(t, "landscape", subs.calls[0].Orientation)
}

func TestSegmentSkipsSubtitlesWithoutNarration(t *testing.T) {
	subs := &stubSubtitles{}
	a := NewSegmentAssembler(&ffmpegtest.Executor{}, nil, subs, false, zap.NewNop())
	s := Settings{Subtitles: subtitle.Settings{Enabled: true}}.Normalize()

	_, err := a.Command(SegmentInput{ImagePath: "/a.png", Duration: 2, Settings: s, Dir: "/w"})
	require.NoError(t, err)
	assert.Empty(t, subs.calls)
}

func TestSegmentRender(t *testing.T) {
	exec := &ffmpegtest.Executor{Progress: []float64{50, 100}}
	prober := &ffprobetest.Prober{Default: 9}
	a := NewSegmentAssembler(exec, prober, nil, true, zap.NewNop())

	var seen []float64
	dir := t.TempDir()
	path, err := a.Render(context.Background(), SegmentInput{
		SceneIndex: 0,
		ImagePath:  "/a.png",
		AudioPath:  "/a.wav",
		Duration:   5,
		Settings:   Settings{}.Normalize(),
		Dir:        dir,
		OnProgress: func(p float64) { seen = append(seen, p) },
	})
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, []float64{50, 100}, seen)
	assert.Contains(t, exec.Commands()[0].Args(), "veryfast")
}

func TestSegmentRenderFailureNamesScene(t *testing.T) {
	exec := &ffmpegtest.Executor{FailOn: func(*ffmpeg.Command) error { return ffmpeg.ErrEmptyOutput }}
	a := NewSegmentAssembler(exec, nil, nil, false, zap.NewNop())

	_, err := a.Render(context.Background(), SegmentInput{
		SceneIndex: 3,
		ImagePath:  "/a.png",
		Duration:   5,
		Settings:   Settings{}.Normalize(),
		Dir:        t.TempDir(),
	})
	var segErr *SegmentRenderError
	require.True(t, errors.As(err, &segErr))
	assert.Equal(t, 3, segErr.SceneIndex)
	assert.ErrorIs(t, err, ffmpeg.ErrEmptyOutput)
	assert.Contains(t, err.Error(), "scene 3")
}

func TestSegmentRejectsBadInput(t *testing.T) {
	a := NewSegmentAssembler(&ffmpegtest.Executor{}, nil, nil, false, zap.NewNop())
	_, err := a.Render(context.Background(), SegmentInput{SceneIndex: 1, ImagePath: "/a.png", Duration: 0, Settings: Settings{}.Normalize()})
	var segErr *SegmentRenderError
	require.True(t, errors.As(err, &segErr))
	assert.Equal(t, 1, segErr.SceneIndex)
}
