package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/mimi6060/hookrelay/internal/domain/webhook"
	"github.com/mimi6060/hookrelay/internal/infrastructure/queue"
	"github.com/rs/zerolog/log"
)

// DeliveryWorker consumes envelopes from the webhook topics and drives the
// delivery engine.
type DeliveryWorker struct {
	worker *webhook.Worker
	topics webhook.Topics
}

// NewDeliveryWorker creates the broker consumer for the delivery engine
func NewDeliveryWorker(worker *webhook.Worker, topics webhook.Topics) *DeliveryWorker {
	return &DeliveryWorker{worker: worker, topics: topics}
}

// RegisterHandlers registers the topic handlers
func (w *DeliveryWorker) RegisterHandlers(server *queue.Server) {
	server.HandleFunc(w.topics.Events, w.HandleEvent)
	server.HandleFunc(w.topics.Retries, w.HandleRetry)
	server.HandleFunc(w.topics.Balancing, w.HandleBalancing)
}

// HandleEvent processes an envelope from the events topic
func (w *DeliveryWorker) HandleEvent(ctx context.Context, task *asynq.Task) error {
	env, err := decodeEnvelope(task)
	if err != nil {
		log.Error().Err(err).Str("topic", w.topics.Events).Msg("Dropping malformed envelope")
		return nil
	}
	env.Operation = "process"
	return w.worker.Process(ctx, env)
}

// HandleRetry processes an envelope from the retries topic
func (w *DeliveryWorker) HandleRetry(ctx context.Context, task *asynq.Task) error {
	env, err := decodeEnvelope(task)
	if err != nil {
		log.Error().Err(err).Str("topic", w.topics.Retries).Msg("Dropping malformed envelope")
		return nil
	}
	env.Operation = "retry"
	return w.worker.Process(ctx, env)
}

// HandleBalancing processes an envelope from the balancing topic. The
// operation carried in the envelope decides the retry semantics.
func (w *DeliveryWorker) HandleBalancing(ctx context.Context, task *asynq.Task) error {
	env, err := decodeEnvelope(task)
	if err != nil {
		log.Error().Err(err).Str("topic", w.topics.Balancing).Msg("Dropping malformed envelope")
		return nil
	}
	return w.worker.Process(ctx, env)
}

func decodeEnvelope(task *asynq.Task) (webhook.Envelope, error) {
	var env webhook.Envelope
	if err := json.Unmarshal(task.Payload(), &env); err != nil {
		return env, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.MessageID == "" {
		return env, fmt.Errorf("envelope is missing message_id")
	}
	return env, nil
}
