package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nextconvert/assembler/internal/modules/assembly"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventsChannel carries run events from workers to API servers.
const EventsChannel = "assembly:events"

// Event types, also used as websocket message types.
const (
	EventProgress  = "assembly:progress"
	EventCompleted = "assembly:completed"
	EventFailed    = "assembly:failed"
)

// Notifier delivers run events to whoever is watching. The websocket hub
// implements it on the API side and RedisNotifier on the worker side.
type Notifier interface {
	BroadcastProgress(runID, stage string, percent float64, message string)
	BroadcastCompleted(runID, outputKey string, duration float64)
	BroadcastFailed(runID, message string)
}

// Event is the wire form of a run event.
type Event struct {
	Type      string  `json:"type"`
	RunID     string  `json:"runId"`
	Stage     string  `json:"stage,omitempty"`
	Percent   float64 `json:"percent,omitempty"`
	Message   string  `json:"message,omitempty"`
	OutputKey string  `json:"outputKey,omitempty"`
	Duration  float64 `json:"durationSeconds,omitempty"`
}

// Dispatch forwards one decoded event.
func Dispatch(n Notifier, ev Event) error {
	switch ev.Type {
	case EventProgress:
		n.BroadcastProgress(ev.RunID, ev.Stage, ev.Percent, ev.Message)
	case EventCompleted:
		n.BroadcastCompleted(ev.RunID, ev.OutputKey, ev.Duration)
	case EventFailed:
		n.BroadcastFailed(ev.RunID, ev.Message)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// Publisher is the subset of the Redis wrapper used for fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisNotifier publishes events on EventsChannel. Publishing is best effort.
type RedisNotifier struct {
	pub    Publisher
	logger *zap.Logger
}

// NewRedisNotifier creates a notifier over a Redis publisher
func NewRedisNotifier(pub Publisher, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{pub: pub, logger: logger}
}

func (n *RedisNotifier) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.pub.Publish(ctx, EventsChannel, data); err != nil {
		n.logger.Warn("Failed to publish run event",
			zap.String("run_id", ev.RunID),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}

func (n *RedisNotifier) BroadcastProgress(runID, stage string, percent float64, message string) {
	n.publish(Event{Type: EventProgress, RunID: runID, Stage: stage, Percent: percent, Message: message})
}

func (n *RedisNotifier) BroadcastCompleted(runID, outputKey string, duration float64) {
	n.publish(Event{Type: EventCompleted, RunID: runID, OutputKey: outputKey, Duration: duration})
}

func (n *RedisNotifier) BroadcastFailed(runID, message string) {
	n.publish(Event{Type: EventFailed, RunID: runID, Message: message})
}

// Relay subscribes to EventsChannel and forwards every event to target
// until ctx is done.
func Relay(ctx context.Context, client *redis.Client, target Notifier, logger *zap.Logger) error {
	pubsub := client.Subscribe(ctx, EventsChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", EventsChannel, err)
	}
	logger.Info("Relaying run events", zap.String("channel", EventsChannel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("Dropping malformed run event", zap.Error(err))
				continue
			}
			if err := Dispatch(target, ev); err != nil {
				logger.Warn("Dropping run event", zap.Error(err))
			}
		}
	}
}

// throttle limits how often progress is forwarded. Stage changes and the
// final percent always pass.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	minStep  float64
	last     time.Time
	percent  float64
	stage    assembly.State
	now      func() time.Time
}

func newThrottle(interval time.Duration, minStep float64) *throttle {
	return &throttle{interval: interval, minStep: minStep, percent: -1, now: time.Now}
}

func (t *throttle) allow(p assembly.Progress) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	pass := p.Stage != t.stage ||
		p.Percent >= 100 ||
		p.Percent-t.percent >= t.minStep ||
		now.Sub(t.last) >= t.interval
	if !pass || p.Percent < t.percent {
		return false
	}
	t.last, t.percent, t.stage = now, p.Percent, p.Stage
	return true
}
