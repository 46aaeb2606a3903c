// Package ffprobetest provides a fake prober for tests.
package ffprobetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/nextconvert/assembler/internal/modules/ffprobe"
)

// Prober answers probes from a table of durations keyed by path.
type Prober struct {
	mu        sync.Mutex
	Durations map[string]float64
	// Default is returned for unknown paths when non-zero.
	Default float64
	Err     error
}

// Set records the duration reported for path.
func (p *Prober) Set(path string, seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Durations == nil {
		p.Durations = map[string]float64{}
	}
	p.Durations[path] = seconds
}

// Probe implements ffprobe.Prober.
func (p *Prober) Probe(_ context.Context, path string) (*ffprobe.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	d, ok := p.Durations[path]
	if !ok {
		d = p.Default
	}
	if d == 0 {
		return nil, fmt.Errorf("no fake duration for %s", path)
	}
	return &ffprobe.Result{
		DurationSeconds: d,
		FormatName:      "mov,mp4,m4a,3gp,3g2,mj2",
		Streams: []ffprobe.Stream{
			{Index: 0, Type: "video", Codec: "h264", Duration: d},
			{Index: 1, Type: "audio", Codec: "aac", Duration: d},
		},
	}, nil
}
