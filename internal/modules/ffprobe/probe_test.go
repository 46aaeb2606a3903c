package ffprobe

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleOutput = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080,
     "r_frame_rate": "30/1", "avg_frame_rate": "30000/1001", "duration": "5.000000"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "channels": 2,
     "sample_rate": "44100", "duration": "5.000000"}
  ],
  "format": {"filename": "seg.mp4", "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
             "duration": "5.016000", "size": "204800", "bit_rate": "326000"}
}`

func TestParse(t *testing.T) {
	res, err := Parse([]byte(sampleOutput))
	require.NoError(t, err)

	assert.InDelta(t, 5.016, res.DurationSeconds, 0.0001)
	assert.Equal(t, int64(204800), res.SizeBytes)
	assert.Equal(t, "mov,mp4,m4a,3gp,3g2,mj2", res.FormatName)
	require.Len(t, res.Streams, 2)

	video, ok := res.FirstStream("video")
	require.True(t, ok)
	assert.Equal(t, 1920, video.Width)
	assert.InDelta(t, 29.97, video.FrameRate, 0.01)

	audio, ok := res.FirstStream("audio")
	require.True(t, ok)
	assert.Equal(t, 44100, audio.SampleRate)
	assert.True(t, res.HasAudio())
	assert.True(t, res.HasVideo())
}

func TestParseFallsBackToStreamDuration(t *testing.T) {
	res, err := Parse([]byte(`{"format": {"format_name": "mp3"}, "streams": [{"codec_type": "audio", "duration": "3.5"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 3.5, res.DurationSeconds)
	assert.False(t, res.HasVideo())
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	tests := map[string]float64{
		"30/1":       30,
		"24":         24,
		"0/0":        0,
		"":           0,
		"60/0":       0,
		"abc":        0,
		"60000/1001": 59.94,
	}
	for in, want := range tests {
		assert.InDelta(t, want, parseFrameRate(in), 0.01, in)
	}
}

func TestClientUnavailable(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing-ffprobe"), zap.NewNop())
	assert.ErrorIs(t, c.Available(), ErrUnavailable)
}

func TestClientProbeMissingFile(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	c := NewClient("", zap.NewNop())
	_, err := c.Probe(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))
	assert.Error(t, err)
}
