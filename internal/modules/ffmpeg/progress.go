package ffmpeg

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Progress is one status line parsed from ffmpeg's diagnostic output.
type Progress struct {
	Frame    int64
	FPS      float64
	Bitrate  string
	Size     string
	TimeMark time.Duration
	Speed    string
	// Percent is 0 when the expected duration is unknown.
	Percent float64
}

// ProgressFunc receives progress events while a command runs.
type ProgressFunc func(Progress)

var (
	frameRegex   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRegex     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	sizeRegex    = regexp.MustCompile(`L?size=\s*(\S+)`)
	timeRegex    = regexp.MustCompile(`time=\s*(-?)(\d+):(\d+):(\d+(?:\.\d+)?)`)
	bitrateRegex = regexp.MustCompile(`bitrate=\s*(\S+)`)
	speedRegex   = regexp.MustCompile(`speed=\s*(\S+)`)
)

// ParseProgressLine extracts progress fields from a status line.
// Lines without a time= field are not progress lines.
func ParseProgressLine(line string, expectedSeconds float64) (Progress, bool) {
	tm := timeRegex.FindStringSubmatch(line)
	if tm == nil {
		return Progress{}, false
	}

	var p Progress
	hours, _ := strconv.Atoi(tm[2])
	minutes, _ := strconv.Atoi(tm[3])
	seconds, _ := strconv.ParseFloat(tm[4], 64)
	total := float64(hours*3600+minutes*60) + seconds
	if tm[1] == "-" {
		total = 0
	}
	p.TimeMark = time.Duration(total * float64(time.Second))

	if m := frameRegex.FindStringSubmatch(line); m != nil {
		p.Frame, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := fpsRegex.FindStringSubmatch(line); m != nil {
		p.FPS, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := sizeRegex.FindStringSubmatch(line); m != nil {
		p.Size = m[1]
	}
	if m := bitrateRegex.FindStringSubmatch(line); m != nil {
		p.Bitrate = m[1]
	}
	if m := speedRegex.FindStringSubmatch(line); m != nil {
		p.Speed = m[1]
	}

	if expectedSeconds > 0 {
		p.Percent = total / expectedSeconds * 100
		if p.Percent > 100 {
			p.Percent = 100
		}
	}

	return p, true
}

const tailLines = 20

// progressWriter is attached as the process stderr. ffmpeg terminates status
// lines with \r, so both \r and \n end a line.
type progressWriter struct {
	mu         sync.Mutex
	pending    []byte
	tail       []string
	expected   float64
	onProgress ProgressFunc
}

func newProgressWriter(expectedSeconds float64, onProgress ProgressFunc) *progressWriter {
	return &progressWriter{expected: expectedSeconds, onProgress: onProgress}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexAny(w.pending, "\r\n")
		if i < 0 {
			break
		}
		w.handleLine(string(w.pending[:i]))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Flush handles a trailing line without terminator.
func (w *progressWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) > 0 {
		w.handleLine(string(w.pending))
		w.pending = nil
	}
}

func (w *progressWriter) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if p, ok := ParseProgressLine(line, w.expected); ok {
		if w.onProgress != nil {
			w.onProgress(p)
		}
		return
	}

	w.tail = append(w.tail, line)
	if len(w.tail) > tailLines {
		w.tail = w.tail[len(w.tail)-tailLines:]
	}
}

// Tail returns the last non-progress diagnostic lines.
func (w *progressWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.tail, "\n")
}
