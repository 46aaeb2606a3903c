// Package jobstest provides in-memory run storage and queue fakes for tests.
package jobstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nextconvert/assembler/internal/modules/assembly"
	"github.com/nextconvert/assembler/internal/modules/jobs"
)

// Store keeps runs in memory. It implements jobs.Store.
type Store struct {
	mu   sync.Mutex
	runs map[string]*jobs.Run
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{runs: make(map[string]*jobs.Run)}
}

func (s *Store) Create(_ context.Context, run *jobs.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*jobs.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, jobs.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *Store) List(_ context.Context, status string, limit int) ([]*jobs.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*jobs.Run
	for _, run := range s.runs {
		if status == "" || run.Status == status {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateProgress(_ context.Context, id string, stage assembly.State, percent float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return jobs.ErrRunNotFound
	}
	if run.Terminal() {
		return nil
	}
	run.Status = jobs.StatusProcessing
	run.Stage = stage
	run.Percent = max(run.Percent, percent)
	if run.StartedAt == nil {
		now := time.Now()
		run.StartedAt = &now
	}
	return nil
}

func (s *Store) Complete(_ context.Context, id string, out jobs.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return jobs.ErrRunNotFound
	}
	if run.Status == jobs.StatusCancelled || run.Status == jobs.StatusFailed {
		return jobs.ErrRunFinished
	}
	now := time.Now()
	run.Status = jobs.StatusCompleted
	run.Stage = assembly.StateCompleted
	run.Percent = 100
	run.OutputKey = out.OutputKey
	run.Duration = out.Duration
	run.MusicSource = out.MusicSource
	run.Warnings = out.Warnings
	run.CompletedAt = &now
	return nil
}

func (s *Store) Finish(_ context.Context, id, status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return jobs.ErrRunNotFound
	}
	now := time.Now()
	run.Status = status
	run.Stage = assembly.StateFailed
	run.Error = message
	run.CompletedAt = &now
	return nil
}

func (s *Store) Requeue(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return jobs.ErrRunNotFound
	}
	if run.Terminal() {
		return nil
	}
	run.Status = jobs.StatusQueued
	run.Stage = assembly.StateInit
	run.Percent = 0
	run.Error = message
	return nil
}

// Queue records enqueued payloads. It implements jobs.Enqueuer.
type Queue struct {
	mu        sync.Mutex
	Payloads  []jobs.AssemblyPayload
	Cancelled []string
	Err       error
}

func (q *Queue) EnqueueAssembly(_ context.Context, payload jobs.AssemblyPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.Payloads = append(q.Payloads, payload)
	return nil
}

func (q *Queue) Cancel(runID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Cancelled = append(q.Cancelled, runID)
	return nil
}

// Event is one recorded notification.
type Event struct {
	Type    string
	RunID   string
	Stage   string
	Percent float64
	Message string
}

// Notifier records broadcasts. It implements jobs.Notifier.
type Notifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *Notifier) add(ev Event) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *Notifier) BroadcastProgress(runID, stage string, percent float64, message string) {
	n.add(Event{Type: jobs.EventProgress, RunID: runID, Stage: stage, Percent: percent, Message: message})
}

func (n *Notifier) BroadcastCompleted(runID, outputKey string, duration float64) {
	n.add(Event{Type: jobs.EventCompleted, RunID: runID, Message: outputKey})
}

func (n *Notifier) BroadcastFailed(runID, message string) {
	n.add(Event{Type: jobs.EventFailed, RunID: runID, Message: message})
}

// Events returns a copy of everything broadcast so far.
func (n *Notifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

// Types lists the recorded event types in order.
func (n *Notifier) Types() []string {
	var out []string
	for _, ev := range n.Events() {
		out = append(out, ev.Type)
	}
	return out
}
