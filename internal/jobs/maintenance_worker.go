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

// MaintenanceWorker runs the stuck detector and retention cleanup
type MaintenanceWorker struct {
	maintenance *webhook.Maintenance
}

// NewMaintenanceWorker creates a maintenance worker
func NewMaintenanceWorker(maintenance *webhook.Maintenance) *MaintenanceWorker {
	return &MaintenanceWorker{maintenance: maintenance}
}

// RegisterHandlers registers the periodic task handlers
func (w *MaintenanceWorker) RegisterHandlers(server *queue.Server) {
	server.HandleFunc(queue.TypeStuckScan, w.HandleStuckScan)
	server.HandleFunc(queue.TypeRetention, w.HandleRetention)
}

// HandleStuckScan recovers messages abandoned in PROCESSING
func (w *MaintenanceWorker) HandleStuckScan(ctx context.Context, task *asynq.Task) error {
	var payload StuckScanPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	start := time.Now()
	recovered, err := w.maintenance.RecoverStuck(ctx)
	if err != nil {
		return err
	}

	log.Debug().
		Int("recovered", recovered).
		Dur("duration", time.Since(start)).
		Msg("Stuck scan completed")
	return nil
}

// HandleRetention deletes terminal messages and attempts past retention
func (w *MaintenanceWorker) HandleRetention(ctx context.Context, task *asynq.Task) error {
	var payload RetentionPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	start := time.Now()
	result, err := w.maintenance.Cleanup(ctx)
	if err != nil {
		return err
	}

	log.Debug().
		Int64("delivered", result.DeliveredDeleted).
		Int64("failed", result.FailedDeleted).
		Int64("cancelled", result.CancelledDeleted).
		Int64("attempts", result.AttemptsDeleted).
		Dur("duration", time.Since(start)).
		Msg("Retention pass completed")
	return nil
}
