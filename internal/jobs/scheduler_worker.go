package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/mimi6060/hookrelay/internal/domain/webhook"
	"github.com/mimi6060/hookrelay/internal/infrastructure/queue"
	"github.com/rs/zerolog/log"
)

// SchedulerWorker runs the periodic retry scan and pending sweep
type SchedulerWorker struct {
	scheduler *webhook.RetryScheduler
}

// NewSchedulerWorker creates a scheduler worker
func NewSchedulerWorker(scheduler *webhook.RetryScheduler) *SchedulerWorker {
	return &SchedulerWorker{scheduler: scheduler}
}

// RegisterHandlers registers the periodic task handlers
func (w *SchedulerWorker) RegisterHandlers(server *queue.Server) {
	server.HandleFunc(queue.TypeRetryScan, w.HandleRetryScan)
	server.HandleFunc(queue.TypePendingSweep, w.HandlePendingSweep)
}

// HandleRetryScan re-enqueues FAILED messages whose retry is due
func (w *SchedulerWorker) HandleRetryScan(ctx context.Context, task *asynq.Task) error {
	var payload RetryScanPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	start := time.Now()
	enqueued, err := w.scheduler.Tick(ctx)
	if err != nil {
		return err
	}

	log.Debug().
		Int("enqueued", enqueued).
		Dur("duration", time.Since(start)).
		Msg("Retry scan completed")
	return nil
}

// HandlePendingSweep re-enqueues PENDING messages whose publish was lost
func (w *SchedulerWorker) HandlePendingSweep(ctx context.Context, task *asynq.Task) error {
	start := time.Now()
	enqueued, err := w.scheduler.SweepPending(ctx)
	if err != nil {
		return err
	}

	log.Debug().
		Int("enqueued", enqueued).
		Dur("duration", time.Since(start)).
		Msg("Pending sweep completed")
	return nil
}
