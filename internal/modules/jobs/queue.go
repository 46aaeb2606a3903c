package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nextconvert/assembler/internal/modules/assembly"
	"go.uber.org/zap"
)

// Task types
const (
	TypeAssemblyRun    = "assembly:run"
	TypeWorkspaceSweep = "workspace:sweep"
)

// Queue names, highest priority first.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues is the weighted queue table shared by the worker.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// RedisConnOpt accepts either a bare host:port or a redis:// URL.
func RedisConnOpt(addr string) (asynq.RedisConnOpt, error) {
	if strings.Contains(addr, "://") {
		return asynq.ParseRedisURI(addr)
	}
	return asynq.RedisClientOpt{Addr: addr}, nil
}

// AssemblyPayload is the task body of one assembly run
type AssemblyPayload struct {
	RunID    string            `json:"runId"`
	Scenes   []assembly.Scene  `json:"scenes"`
	Settings assembly.Settings `json:"settings"`
	Priority string            `json:"priority,omitempty"`
}

// QueueClient handles job queue operations
type QueueClient struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	logger    *zap.Logger
}

// NewQueueClient creates a new queue client
func NewQueueClient(conn asynq.RedisConnOpt, logger *zap.Logger) *QueueClient {
	return &QueueClient{
		client:    asynq.NewClient(conn),
		inspector: asynq.NewInspector(conn),
		logger:    logger,
	}
}

// Close closes the queue client
func (q *QueueClient) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}

func queueFor(priority string) string {
	switch priority {
	case "high":
		return QueueCritical
	case "low":
		return QueueLow
	default:
		return QueueDefault
	}
}

// EnqueueAssembly queues one run. The asynq task id is the run id so the
// run can be cancelled later without a lookup.
func (q *QueueClient) EnqueueAssembly(ctx context.Context, payload AssemblyPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeAssemblyRun, data)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.TaskID(payload.RunID),
		asynq.MaxRetry(2),
		asynq.Timeout(2*time.Hour),
		asynq.Queue(queueFor(payload.Priority)),
	)
	if err != nil {
		q.logger.Error("Failed to enqueue assembly task", zap.String("run_id", payload.RunID), zap.Error(err))
		return err
	}

	q.logger.Info("Assembly task enqueued",
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
		zap.Int("scenes", len(payload.Scenes)),
	)
	return nil
}

// Cancel stops a running task and removes a pending one. Neither being
// found is not an error; the run may have just finished.
func (q *QueueClient) Cancel(runID string) error {
	if err := q.inspector.CancelProcessing(runID); err != nil {
		q.logger.Debug("Cancel signal not delivered", zap.String("run_id", runID), zap.Error(err))
	}
	for queue := range Queues {
		err := q.inspector.DeleteTask(queue, runID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
			return err
		}
	}
	return nil
}

// NewSweepScheduler registers the periodic workspace sweep. The caller runs
// and shuts down the returned scheduler.
func NewSweepScheduler(conn asynq.RedisConnOpt, every time.Duration, logger *zap.Logger) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(conn, &asynq.SchedulerOpts{
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logger.Warn("Failed to enqueue scheduled task", zap.Error(err))
			}
		},
	})

	_, err := scheduler.Register("@every "+every.String(), asynq.NewTask(TypeWorkspaceSweep, nil),
		asynq.Queue(QueueLow),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return nil, err
	}
	return scheduler, nil
}
