package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/mimi6060/hookrelay/internal/infrastructure/queue"
	"github.com/mimi6060/hookrelay/internal/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Envelope is the value published to a broker topic. The key is the
// message id; duplicates are tolerated because the delivery worker uses
// state-guarded transitions.
type Envelope struct {
	MessageID  string `json:"message_id"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
	UUID       string `json:"uuid"`
	Operation  string `json:"operation,omitempty"` // "process" | "retry"
	TargetNode string `json:"target_node,omitempty"`
}

// NewEnvelope builds an envelope for a message id
func NewEnvelope(messageID uuid.UUID, operation string) Envelope {
	return Envelope{
		MessageID: messageID.String(),
		Timestamp: time.Now().UTC().UnixMilli(),
		UUID:      uuid.NewString(),
		Operation: operation,
	}
}

// Dispatcher decouples event reception from delivery. Both implementations
// provide at-least-once hand-off; neither deletes a message on failure.
type Dispatcher interface {
	// PublishEvent enqueues a freshly received message for delivery.
	PublishEvent(ctx context.Context, messageID uuid.UUID) error
	// PublishRetry enqueues a message due for another attempt.
	PublishRetry(ctx context.Context, messageID uuid.UUID) error
	// PublishBalancing hands a message to a specific node.
	PublishBalancing(ctx context.Context, messageID uuid.UUID, operation, targetNode string) error
	Close() error
}

// ============================================================================
// Broker mode
// ============================================================================

// Topics names the broker topics used by the dispatcher
type Topics struct {
	Events    string
	Retries   string
	Balancing string
}

// DefaultTopics returns the default topic names
func DefaultTopics() Topics {
	return Topics{
		Events:    "webhook:events",
		Retries:   "webhook:retries",
		Balancing: "webhook:balancing",
	}
}

// BrokerDispatcher publishes envelopes onto broker topics
type BrokerDispatcher struct {
	client      *queue.Client
	topics      Topics
	syncSend    bool
	sendTimeout time.Duration
}

// NewBrokerDispatcher creates a broker-backed dispatcher
func NewBrokerDispatcher(client *queue.Client, topics Topics, syncSend bool, sendTimeout time.Duration) *BrokerDispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &BrokerDispatcher{
		client:      client,
		topics:      topics,
		syncSend:    syncSend,
		sendTimeout: sendTimeout,
	}
}

// PublishEvent publishes onto the events topic
func (d *BrokerDispatcher) PublishEvent(ctx context.Context, messageID uuid.UUID) error {
	return d.publish(ctx, d.topics.Events, NewEnvelope(messageID, "process"))
}

// PublishRetry publishes onto the retries topic
func (d *BrokerDispatcher) PublishRetry(ctx context.Context, messageID uuid.UUID) error {
	return d.publish(ctx, d.topics.Retries, NewEnvelope(messageID, "retry"))
}

// PublishBalancing publishes onto the balancing topic
func (d *BrokerDispatcher) PublishBalancing(ctx context.Context, messageID uuid.UUID, operation, targetNode string) error {
	env := NewEnvelope(messageID, operation)
	env.TargetNode = targetNode
	return d.publish(ctx, d.topics.Balancing, env)
}

func (d *BrokerDispatcher) publish(ctx context.Context, topic string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to encode envelope")
	}
	task := asynq.NewTask(topic, payload)

	if !d.syncSend {
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
			defer cancel()
			if _, err := d.client.EnqueueTask(sendCtx, task); err != nil {
				log.Error().
					Err(err).
					Str("topic", topic).
					Str("message_id", env.MessageID).
					Msg("Async publish failed")
			}
		}()
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if _, err := d.client.EnqueueTask(sendCtx, task); err != nil {
		if sendCtx.Err() != nil {
			return errors.Wrap(errors.ErrPublishTimeout, errors.ErrCodePublishTimeout,
				"Broker publish timed out").WithMessageID(env.MessageID)
		}
		return errors.Wrap(err, errors.ErrCodeTransportUnavailable,
			"Broker publish failed").WithMessageID(env.MessageID)
	}
	return nil
}

// Close releases the broker client
func (d *BrokerDispatcher) Close() error {
	return d.client.Close()
}

// ============================================================================
// Direct mode
// ============================================================================

// DirectDispatcher is a broker-less dispatcher backed by a bounded
// in-process queue. Enqueue on a full queue waits up to the enqueue timeout
// and then fails with an overload error; the message stays in the store.
type DirectDispatcher struct {
	queue   chan Envelope
	done    chan struct{}
	timeout time.Duration
}

// NewDirectDispatcher creates an in-process dispatcher with the given
// queue capacity
func NewDirectDispatcher(maxInFlight int, enqueueTimeout time.Duration) *DirectDispatcher {
	if maxInFlight < 1 {
		maxInFlight = 64
	}
	if enqueueTimeout <= 0 {
		enqueueTimeout = 5 * time.Second
	}
	return &DirectDispatcher{
		queue:   make(chan Envelope, maxInFlight),
		done:    make(chan struct{}),
		timeout: enqueueTimeout,
	}
}

// PublishEvent enqueues the message for the in-process consumers
func (d *DirectDispatcher) PublishEvent(ctx context.Context, messageID uuid.UUID) error {
	return d.offer(ctx, NewEnvelope(messageID, "process"))
}

// PublishRetry enqueues a retry for the in-process consumers
func (d *DirectDispatcher) PublishRetry(ctx context.Context, messageID uuid.UUID) error {
	return d.offer(ctx, NewEnvelope(messageID, "retry"))
}

// PublishBalancing has no distinct semantics without a broker; the
// envelope joins the same queue.
func (d *DirectDispatcher) PublishBalancing(ctx context.Context, messageID uuid.UUID, operation, targetNode string) error {
	env := NewEnvelope(messageID, operation)
	env.TargetNode = targetNode
	return d.offer(ctx, env)
}

func (d *DirectDispatcher) offer(ctx context.Context, env Envelope) error {
	select {
	case <-d.done:
		return errors.Wrap(errors.ErrTransportUnavailable, errors.ErrCodeTransportUnavailable,
			"Dispatcher is shut down").WithMessageID(env.MessageID)
	default:
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case d.queue <- env:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrCodePublishTimeout, "Enqueue cancelled").
			WithMessageID(env.MessageID)
	case <-d.done:
		return errors.Wrap(errors.ErrTransportUnavailable, errors.ErrCodeTransportUnavailable,
			"Dispatcher is shut down").WithMessageID(env.MessageID)
	case <-timer.C:
		return errors.Wrap(errors.ErrTransportUnavailable, errors.ErrCodeOverloaded,
			"Delivery queue is full").WithMessageID(env.MessageID)
	}
}

// Consume runs fn for queued envelopes until the context is cancelled or
// the dispatcher closes. Callers start one goroutine per worker; the queue
// capacity bounds admitted work.
func (d *DirectDispatcher) Consume(ctx context.Context, fn func(context.Context, Envelope)) {
	for {
		select {
		case env := <-d.queue:
			fn(ctx, env)
		case <-ctx.Done():
			return
		case <-d.done:
			// Drain what was admitted before shutdown.
			for {
				select {
				case env := <-d.queue:
					fn(ctx, env)
				default:
					return
				}
			}
		}
	}
}

// Depth reports the current number of queued envelopes
func (d *DirectDispatcher) Depth() int {
	return len(d.queue)
}

// Close stops admission and lets consumers drain
func (d *DirectDispatcher) Close() error {
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	return nil
}
