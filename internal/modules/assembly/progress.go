package assembly

import (
	"fmt"
	"sync"
)

// State is a pipeline run state. Non-terminal states double as stage names.
type State string

const (
	StateInit          State = "init"
	StateDownloading   State = "downloading"
	StateSegmenting    State = "segmenting"
	StateConcatenating State = "concatenating"
	StateMixingMusic   State = "mixing_music"
	StateFinalizing    State = "finalizing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var allowedTransitions = map[State][]State{
	StateInit:          {StateDownloading},
	StateDownloading:   {StateSegmenting},
	StateSegmenting:    {StateConcatenating},
	StateConcatenating: {StateMixingMusic, StateFinalizing},
	StateMixingMusic:   {StateFinalizing},
	StateFinalizing:    {StateCompleted},
}

// CanTransition reports whether from -> to is allowed. Any non-terminal
// state may fail.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Progress is one staged progress event.
type Progress struct {
	RunID        string  `json:"runId"`
	Stage        State   `json:"stage"`
	CurrentScene *int    `json:"currentScene,omitempty"`
	TotalScenes  int     `json:"totalScenes"`
	Percent      float64 `json:"percent"`
	Message      string  `json:"message"`
}

// ProgressFunc receives progress events. It is called synchronously from
// the run and must not block for long.
type ProgressFunc func(Progress)

// Overall progress bands per stage.
const (
	bandDownloadEnd = 15.0
	bandSegmentEnd  = 75.0
	bandConcatEnd   = 95.0
	bandMusicEnd    = 98.0
)

// tracker owns a run's state and emits monotonic progress.
type tracker struct {
	mu      sync.Mutex
	runID   string
	state   State
	total   int
	percent float64
	sink    ProgressFunc
}

func newTracker(runID string, totalScenes int, sink ProgressFunc) *tracker {
	return &tracker{runID: runID, state: StateInit, total: totalScenes, sink: sink}
}

func (t *tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *tracker) advance(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.state, to) {
		return fmt.Errorf("invalid state transition %s -> %s", t.state, to)
	}
	t.state = to
	return nil
}

// report emits progress for the current stage. Percent never decreases.
func (t *tracker) report(scene int, percent float64, message string) {
	t.mu.Lock()
	if percent < t.percent {
		percent = t.percent
	}
	percent = min(percent, 100)
	t.percent = percent
	p := Progress{
		RunID:       t.runID,
		Stage:       t.state,
		TotalScenes: t.total,
		Percent:     percent,
		Message:     message,
	}
	sink := t.sink
	t.mu.Unlock()

	if scene >= 0 {
		p.CurrentScene = &scene
	}
	if sink != nil {
		sink(p)
	}
}
