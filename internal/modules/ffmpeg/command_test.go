package ffmpeg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCommandArgs(t *testing.T) {
	cmd := NewCommand("segment", "/tmp/out.mp4").
		Input("image.png", "-loop", "1", "-framerate", "30").
		Input("voice.mp3").
		VideoFilter("scale=1920:1080").
		VideoFilter("").
		VideoFilter("fps=30").
		AudioFilter("apad=whole_dur=5").
		Option("-t", "5").
		Flag("-shortest")

	assert.Equal(t, []string{
		"-y", "-hide_banner", "-nostdin",
		"-loop", "1", "-framerate", "30", "-i", "image.png",
		"-i", "voice.mp3",
		"-vf", "scale=1920:1080,fps=30",
		"-af", "apad=whole_dur=5",
		"-t", "5", "-shortest",
		"/tmp/out.mp4",
	}, cmd.Args())
}

func TestCommandComplexFilterAndMaps(t *testing.T) {
	cmd := NewCommand("mix", "out.mp4").
		Input("video.mp4").
		Input("music.mp3").
		ComplexFilter("[0:a][1:a]amix=inputs=2[aout]").
		Map("0:v").
		Map("[aout]").
		Option("-c:v", "copy")

	args := cmd.Args()
	assert.Contains(t, args, "-filter_complex")
	assert.Equal(t, []string{"-map", "0:v", "-map", "[aout]", "-c:v", "copy", "out.mp4"}, args[len(args)-7:])
	assert.True(t, cmd.HasOption("-c:v"))
	assert.False(t, cmd.HasOption("-threads"))
}

func TestCommandString(t *testing.T) {
	cmd := NewCommand("concat", "out file.mp4").
		Input("list.txt", "-f", "concat", "-safe", "0").
		VideoFilter("scale=w=1280:h=720,setsar=1")

	s := cmd.String()
	assert.Contains(t, s, "ffmpeg -y")
	assert.Contains(t, s, "'out file.mp4'")
	assert.Contains(t, s, "'scale=w=1280:h=720,setsar=1'")
}

func TestCommandSettings(t *testing.T) {
	cmd := NewCommand("probe", "x.mp4").WithTimeout(time.Minute).WithExpectedDuration(12.5)
	assert.Equal(t, time.Minute, cmd.Timeout)
	assert.Equal(t, 12.5, cmd.ExpectedDuration)
}

func TestEncodingOptions(t *testing.T) {
	tests := []struct {
		name     string
		encoding Encoding
		want     []string
	}{
		{
			name: "h264 with faststart",
			encoding: Encoding{
				VideoCodec: "libx264", CRF: 23, Preset: "medium", PixelFormat: "yuv420p",
				AudioCodec: "aac", AudioBitrate: "192k", SampleRate: 44100, Channels: 2,
				ContainerFlags: []string{"-movflags", "+faststart"},
			},
			want: []string{
				"-c:v", "libx264", "-preset", "medium", "-crf", "23", "-pix_fmt", "yuv420p",
				"-c:a", "aac", "-b:a", "192k", "-ar", "44100", "-ac", "2",
				"-movflags", "+faststart",
			},
		},
		{
			name: "vp9 constant quality",
			encoding: Encoding{
				VideoCodec: "libvpx-vp9", CRF: 31, VideoExtra: []string{"-b:v", "0"},
				AudioCodec: "libopus", SampleRate: 48000, Channels: 2,
			},
			want: []string{
				"-c:v", "libvpx-vp9", "-crf", "31", "-b:v", "0",
				"-c:a", "libopus", "-ar", "48000", "-ac", "2",
			},
		},
		{
			name:     "audio only",
			encoding: Encoding{AudioCodec: "aac"},
			want:     []string{"-c:a", "aac"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.encoding.Options())
		})
	}
}
