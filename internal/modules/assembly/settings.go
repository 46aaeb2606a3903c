package assembly

import (
	"errors"
	"fmt"

	"github.com/nextconvert/assembler/internal/modules/animation"
	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	"github.com/nextconvert/assembler/internal/modules/subtitle"
	"github.com/nextconvert/assembler/internal/modules/transition"
)

// ErrInvalidSettings is wrapped by every settings validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

type Resolution string

const (
	Res720p  Resolution = "720p"
	Res1080p Resolution = "1080p"
	Res1440p Resolution = "1440p"
	Res4K    Resolution = "4K"
)

type Format string

const (
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
)

type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualityUltra    Quality = "ultra"
)

type Orientation string

const (
	Landscape Orientation = "landscape"
	Portrait  Orientation = "portrait"
	Square    Orientation = "square"
)

// MusicSource says where TrackID / TrackURL point.
type MusicSource string

const (
	MusicLocal  MusicSource = "local"
	MusicUpload MusicSource = "upload"
	MusicRemote MusicSource = "remote"
)

// MusicSettings configures the background music stage.
type MusicSettings struct {
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	Source      MusicSource `json:"source" yaml:"source"`
	TrackID     string      `json:"trackId,omitempty" yaml:"trackId"`
	TrackURL    string      `json:"trackUrl,omitempty" yaml:"trackUrl"`
	Volume      float64     `json:"volume" yaml:"volume"` // 0-100
	FadeIn      float64     `json:"fadeIn" yaml:"fadeIn"`
	FadeOut     float64     `json:"fadeOut" yaml:"fadeOut"`
	Loop        bool        `json:"loop" yaml:"loop"`
	StartOffset float64     `json:"startOffset" yaml:"startOffset"`
}

// minMusicVolume is the audible floor applied to the music gain.
const minMusicVolume = 0.1

// Gain returns the linear volume factor, floored at 10%.
func (m MusicSettings) Gain() float64 {
	return max(m.Volume/100, minMusicVolume)
}

// Settings is the immutable configuration of one run.
type Settings struct {
	Resolution  Resolution         `json:"resolution" yaml:"resolution"`
	FrameRate   int                `json:"frameRate" yaml:"frameRate"`
	Format      Format             `json:"format" yaml:"format"`
	Quality     Quality            `json:"quality" yaml:"quality"`
	Orientation Orientation        `json:"orientation" yaml:"orientation"`
	Transition  transition.Spec    `json:"transition" yaml:"transition"`
	Animation   animation.Settings `json:"animation" yaml:"animation"`
	Subtitles   subtitle.Settings  `json:"subtitles" yaml:"subtitles"`
	Music       MusicSettings      `json:"music" yaml:"music"`
}

var baseResolutions = map[Resolution][2]int{
	Res720p:  {1280, 720},
	Res1080p: {1920, 1080},
	Res1440p: {2560, 1440},
	Res4K:    {3840, 2160},
}

type qualityPreset struct {
	h264CRF    int
	h264Preset string
	vp9CRF     int
}

var qualityPresets = map[Quality]qualityPreset{
	QualityStandard: {h264CRF: 28, h264Preset: "veryfast", vp9CRF: 36},
	QualityHigh:     {h264CRF: 23, h264Preset: "medium", vp9CRF: 31},
	QualityUltra:    {h264CRF: 18, h264Preset: "slow", vp9CRF: 24},
}

// Normalize fills unset fields with defaults.
func (s Settings) Normalize() Settings {
	if s.Resolution == "" {
		s.Resolution = Res1080p
	}
	if s.FrameRate == 0 {
		s.FrameRate = 30
	}
	if s.Format == "" {
		s.Format = FormatMP4
	}
	if s.Quality == "" {
		s.Quality = QualityHigh
	}
	if s.Orientation == "" {
		s.Orientation = Landscape
	}
	if s.Transition.Kind == "" {
		s.Transition.Kind = transition.None
	}
	if s.Animation.Type == "" {
		s.Animation.Type = animation.None
	}
	if s.Animation.Type != animation.None && s.Animation.Intensity == "" {
		s.Animation.Intensity = animation.Moderate
	}
	if s.Music.Enabled && s.Music.Source == "" {
		s.Music.Source = MusicLocal
	}
	return s
}

// Validate rejects unknown enum values and inconsistent options.
func (s Settings) Validate() error {
	if _, ok := baseResolutions[s.Resolution]; !ok {
		return invalid("resolution %q", s.Resolution)
	}
	switch s.FrameRate {
	case 24, 30, 60:
	default:
		return invalid("frame rate %d (want 24, 30 or 60)", s.FrameRate)
	}
	if s.Format != FormatMP4 && s.Format != FormatWebM {
		return invalid("format %q", s.Format)
	}
	if _, ok := qualityPresets[s.Quality]; !ok {
		return invalid("quality %q", s.Quality)
	}
	switch s.Orientation {
	case Landscape, Portrait, Square:
	default:
		return invalid("orientation %q", s.Orientation)
	}
	if !s.Transition.Kind.Valid() {
		return invalid("transition %q", s.Transition.Kind)
	}
	if s.Transition.Duration < 0 {
		return invalid("transition duration %v", s.Transition.Duration)
	}
	if err := animation.Validate(s.Animation.Type, s.Animation.Intensity); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return s.Music.validate()
}

func (m MusicSettings) validate() error {
	if !m.Enabled {
		return nil
	}
	switch m.Source {
	case MusicLocal, MusicUpload, MusicRemote:
	default:
		return invalid("music source %q", m.Source)
	}
	if m.TrackID == "" && m.TrackURL == "" {
		return invalid("music is enabled but no trackId or trackUrl is set")
	}
	if m.Source == MusicRemote && m.TrackURL == "" {
		return invalid("remote music requires trackUrl")
	}
	if m.Volume < 0 || m.Volume > 100 {
		return invalid("music volume %v (want 0-100)", m.Volume)
	}
	if m.FadeIn < 0 || m.FadeOut < 0 || m.StartOffset < 0 {
		return invalid("music fades and start offset must not be negative")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSettings, fmt.Sprintf(format, args...))
}

// Dimensions returns the output frame size. Portrait swaps the base
// resolution, square uses its height for both sides.
func (s Settings) Dimensions() (int, int) {
	wh := baseResolutions[s.Resolution]
	w, h := wh[0], wh[1]
	switch s.Orientation {
	case Portrait:
		return h, w
	case Square:
		return h, h
	default:
		return w, h
	}
}

// SampleRate is the audio rate every stage encodes at.
func (s Settings) SampleRate() int {
	if s.Format == FormatWebM {
		return 48000
	}
	return 44100
}

// Extension is the output file extension including the dot.
func (s Settings) Extension() string {
	return "." + string(s.Format)
}

// Encoding maps format and quality to encoder options. fastPresets forces
// the veryfast x264 preset regardless of quality.
func (s Settings) Encoding(fastPresets bool) ffmpeg.Encoding {
	q := qualityPresets[s.Quality]

	if s.Format == FormatWebM {
		return ffmpeg.Encoding{
			VideoCodec:   "libvpx-vp9",
			CRF:          q.vp9CRF,
			VideoExtra:   []string{"-b:v", "0", "-cpu-used", "4", "-row-mt", "1"},
			PixelFormat:  "yuv420p",
			AudioCodec:   "libopus",
			AudioBitrate: "128k",
			SampleRate:   s.SampleRate(),
			Channels:     2,
		}
	}

	preset := q.h264Preset
	if fastPresets {
		preset = "veryfast"
	}
	return ffmpeg.Encoding{
		VideoCodec:     "libx264",
		CRF:            q.h264CRF,
		Preset:         preset,
		PixelFormat:    "yuv420p",
		AudioCodec:     "aac",
		AudioBitrate:   "192k",
		SampleRate:     s.SampleRate(),
		Channels:       2,
		ContainerFlags: []string{"-movflags", "+faststart"},
	}
}
