package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable means the ffprobe binary cannot be located.
var ErrUnavailable = errors.New("ffprobe is not available")

// Stream describes one media stream.
type Stream struct {
	Index      int
	Type       string // video, audio, subtitle, data
	Codec      string
	Width      int
	Height     int
	FrameRate  float64
	Duration   float64
	Channels   int
	SampleRate int
}

// Result is the probe collaborator's view of a media file.
type Result struct {
	DurationSeconds float64
	FormatName      string
	SizeBytes       int64
	Streams         []Stream
}

// FirstStream returns the first stream of the given type.
func (r *Result) FirstStream(streamType string) (Stream, bool) {
	for _, s := range r.Streams {
		if s.Type == streamType {
			return s, true
		}
	}
	return Stream{}, false
}

func (r *Result) HasVideo() bool {
	_, ok := r.FirstStream("video")
	return ok
}

func (r *Result) HasAudio() bool {
	_, ok := r.FirstStream("audio")
	return ok
}

// Prober is implemented by anything that can inspect a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (*Result, error)
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format struct {
		Filename   string `json:"filename"`
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		Index        int    `json:"index"`
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width,omitempty"`
		Height       int    `json:"height,omitempty"`
		RFrameRate   string `json:"r_frame_rate,omitempty"`
		AvgFrameRate string `json:"avg_frame_rate,omitempty"`
		Duration     string `json:"duration,omitempty"`
		Channels     int    `json:"channels,omitempty"`
		SampleRate   string `json:"sample_rate,omitempty"`
	} `json:"streams"`
}

// Client runs the ffprobe binary.
type Client struct {
	path    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates an ffprobe client. An empty path means "ffprobe" on PATH.
func NewClient(path string, logger *zap.Logger) *Client {
	if path == "" {
		path = "ffprobe"
	}
	return &Client{path: path, timeout: 30 * time.Second, logger: logger}
}

// Available checks that the ffprobe binary can be located.
func (c *Client) Available() error {
	if _, err := exec.LookPath(c.path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, c.path, err)
	}
	return nil
}

// Probe extracts format and stream metadata from a media file
func (c *Client) Probe(ctx context.Context, path string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, c.path, args...)
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe failed for %s: %s", path, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	result, err := Parse(output)
	if err != nil {
		c.logger.Error("Failed to parse ffprobe output", zap.Error(err), zap.String("path", path))
		return nil, err
	}
	return result, nil
}

// Duration probes path and returns its container duration in seconds.
func Duration(ctx context.Context, p Prober, path string) (float64, error) {
	res, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if res.DurationSeconds <= 0 {
		return 0, fmt.Errorf("no duration reported for %s", path)
	}
	return res.DurationSeconds, nil
}

// Parse decodes ffprobe JSON output.
func Parse(data []byte) (*Result, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(data, &probeData); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	res := &Result{
		FormatName: probeData.Format.FormatName,
	}
	res.DurationSeconds, _ = strconv.ParseFloat(probeData.Format.Duration, 64)
	res.SizeBytes, _ = strconv.ParseInt(probeData.Format.Size, 10, 64)

	for _, s := range probeData.Streams {
		stream := Stream{
			Index:    s.Index,
			Type:     s.CodecType,
			Codec:    s.CodecName,
			Width:    s.Width,
			Height:   s.Height,
			Channels: s.Channels,
		}
		stream.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		stream.SampleRate, _ = strconv.Atoi(s.SampleRate)
		if s.CodecType == "video" {
			stream.FrameRate = parseFrameRate(s.AvgFrameRate)
			if stream.FrameRate == 0 {
				stream.FrameRate = parseFrameRate(s.RFrameRate)
			}
		}
		res.Streams = append(res.Streams, stream)
	}

	// Some containers (raw streams) only report per-stream durations.
	if res.DurationSeconds == 0 {
		for _, s := range res.Streams {
			if s.Duration > res.DurationSeconds {
				res.DurationSeconds = s.Duration
			}
		}
	}

	return res, nil
}

// parseFrameRate parses "30000/1001" or "25" notation.
func parseFrameRate(rate string) float64 {
	if rate == "" || rate == "0/0" {
		return 0
	}
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
