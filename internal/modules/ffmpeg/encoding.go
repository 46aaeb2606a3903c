package ffmpeg

import "strconv"

// Encoding describes the codec settings shared by every stage of a run.
type Encoding struct {
	VideoCodec  string
	CRF         int
	Preset      string
	PixelFormat string
	// VideoExtra holds codec-specific flags (e.g. "-b:v", "0" for constant quality VP9).
	VideoExtra []string

	AudioCodec   string
	AudioBitrate string
	SampleRate   int
	Channels     int

	// ContainerFlags are muxer options such as "-movflags", "+faststart".
	ContainerFlags []string
}

// Options lowers the encoding to output options.
func (e Encoding) Options() []string {
	var opts []string

	if e.VideoCodec != "" {
		opts = append(opts, "-c:v", e.VideoCodec)
		if e.Preset != "" {
			opts = append(opts, "-preset", e.Preset)
		}
		if e.CRF > 0 {
			opts = append(opts, "-crf", strconv.Itoa(e.CRF))
		}
		opts = append(opts, e.VideoExtra...)
		if e.PixelFormat != "" {
			opts = append(opts, "-pix_fmt", e.PixelFormat)
		}
	}

	opts = append(opts, e.AudioOptions()...)
	opts = append(opts, e.ContainerFlags...)
	return opts
}

// AudioOptions lowers only the audio part; used when video is stream-copied.
func (e Encoding) AudioOptions() []string {
	if e.AudioCodec == "" {
		return nil
	}
	opts := []string{"-c:a", e.AudioCodec}
	if e.AudioBitrate != "" {
		opts = append(opts, "-b:a", e.AudioBitrate)
	}
	if e.SampleRate > 0 {
		opts = append(opts, "-ar", strconv.Itoa(e.SampleRate))
	}
	if e.Channels > 0 {
		opts = append(opts, "-ac", strconv.Itoa(e.Channels))
	}
	return opts
}
