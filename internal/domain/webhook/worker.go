package webhook

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// retriableStatusCodes are the non-5xx statuses that still warrant a retry.
var retriableStatusCodes = map[int]bool{
	408: true, // Request Timeout
	423: true, // Locked
	425: true, // Too Early
	429: true, // Too Many Requests
	449: true, // Retry With
	503: true, // Service Unavailable
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRetriable
	outcomePermanent
)

// WorkerMetrics receives delivery observations. Implemented by the
// Prometheus layer; a no-op keeps the worker testable without it.
type WorkerMetrics interface {
	ObserveDelivery(webhookName, result string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveDelivery(string, string, time.Duration) {}

// WorkerConfig holds per-node delivery settings
type WorkerConfig struct {
	NodeID                 string
	DestinationURLOverride string
	MaxPayloadLogLen       int
	SlowThreshold          time.Duration
	CriticalThreshold      time.Duration
}

// Worker consumes message ids from the dispatch fabric and performs one
// delivery cycle per envelope. All failures are materialized as a status
// transition; Process never propagates delivery errors to the consumer.
type Worker struct {
	repo    Repository
	sender  *Sender
	cfg     WorkerConfig
	metrics WorkerMetrics
}

// NewWorker creates a delivery worker
func NewWorker(repo Repository, sender *Sender, cfg WorkerConfig, metrics WorkerMetrics) *Worker {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.MaxPayloadLogLen <= 0 {
		cfg.MaxPayloadLogLen = 256
	}
	return &Worker{
		repo:    repo,
		sender:  sender,
		cfg:     cfg,
		metrics: metrics,
	}
}

// Process handles one envelope from the events or retries channel.
func (w *Worker) Process(ctx context.Context, env Envelope) error {
	if env.TargetNode != "" && w.cfg.NodeID != "" && env.TargetNode != w.cfg.NodeID {
		log.Debug().
			Str("message_id", env.MessageID).
			Str("target_node", env.TargetNode).
			Msg("Envelope targeted at another node, skipping")
		return nil
	}

	messageID, err := uuid.Parse(env.MessageID)
	if err != nil {
		log.Error().Str("message_id", env.MessageID).Msg("Dropping envelope with malformed message id")
		return nil
	}

	msg, err := w.repo.GetMessageByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}
	if msg == nil {
		log.Warn().Str("message_id", env.MessageID).Msg("Message not found, dropping")
		return nil
	}

	cfg, err := w.repo.GetConfigByID(ctx, msg.WebhookConfigID)
	if err != nil {
		return fmt.Errorf("failed to load webhook config: %w", err)
	}
	if cfg == nil || !cfg.Active {
		if _, err := w.repo.CancelMessage(ctx, messageID); err != nil {
			return err
		}
		log.Info().
			Str("message_id", env.MessageID).
			Str("webhook", msg.WebhookName).
			Msg("Webhook config missing or inactive, message cancelled")
		w.metrics.ObserveDelivery(msg.WebhookName, "cancelled", 0)
		return nil
	}

	rows, err := w.repo.MarkProcessing(ctx, messageID, w.cfg.NodeID)
	if err != nil {
		return fmt.Errorf("failed to claim message: %w", err)
	}
	if rows == 0 {
		// Another worker owns it, or it already reached a terminal state.
		log.Debug().Str("message_id", env.MessageID).Msg("Lost claim race, dropping")
		return nil
	}

	if env.Operation == "retry" {
		if err := w.repo.IncrementRetryCount(ctx, messageID); err != nil {
			return fmt.Errorf("failed to increment retry count: %w", err)
		}
		msg.RetryCount++
	}

	if msg.RetryCount > cfg.MaxRetries {
		return w.failTerminally(ctx, msg, cfg, "retries exhausted")
	}
	if msg.Expired(cfg.MessageTTL(), time.Now().UTC()) {
		return w.failTerminally(ctx, msg, cfg, "message expired")
	}

	if w.cfg.DestinationURLOverride != "" {
		msg.TargetURL = w.cfg.DestinationURLOverride
	}

	result := w.sender.Send(ctx, msg, nil)
	w.observeDuration(msg, result.Duration)

	attempt := w.buildAttempt(msg, result)
	if err := w.repo.AppendAttempt(ctx, attempt); err != nil {
		log.Error().
			Err(err).
			Str("message_id", msg.ID.String()).
			Int("attempt_number", attempt.AttemptNumber).
			Msg("Failed to record delivery attempt")
	}

	switch w.classify(result) {
	case outcomeDelivered:
		if err := w.repo.MarkDelivered(ctx, msg.ID); err != nil {
			return err
		}
		if err := w.repo.RecordSuccess(ctx, cfg.ID, cfg.Name, result.Duration.Milliseconds()); err != nil {
			log.Error().Err(err).Str("webhook", cfg.Name).Msg("Failed to record success stats")
		}
		w.metrics.ObserveDelivery(cfg.Name, "delivered", result.Duration)
		return nil

	case outcomeRetriable:
		return w.scheduleRetry(ctx, msg, cfg, resultErrorMessage(result), HintForStatus(result.StatusCode))

	default:
		return w.failTerminally(ctx, msg, cfg, resultErrorMessage(result))
	}
}

// scheduleRetry computes the next attempt time, or fails the message
// terminally when the retry budget is spent.
func (w *Worker) scheduleRetry(ctx context.Context, msg *Message, cfg *WebhookConfig, reason string, hint ResponseHint) error {
	if msg.RetryCount >= cfg.MaxRetries {
		return w.failTerminally(ctx, msg, cfg, "retries exhausted: "+reason)
	}

	delay := Delay(cfg.BackoffStrategy, cfg.InitialIntervalS, cfg.BackoffFactor, cfg.MaxIntervalS, msg.RetryCount, hint)
	nextRetry := time.Now().UTC().Add(time.Duration(delay) * time.Second)

	if err := w.repo.MarkFailed(ctx, msg.ID, reason, &nextRetry); err != nil {
		return err
	}

	log.Info().
		Str("message_id", msg.ID.String()).
		Str("webhook", cfg.Name).
		Int("retry_count", msg.RetryCount).
		Int("delay_s", delay).
		Str("reason", reason).
		Msg("Delivery failed, retry scheduled")
	w.metrics.ObserveDelivery(cfg.Name, "retried", 0)
	return nil
}

// failTerminally marks the message FAILED with no next retry and charges
// the failure to the webhook's health stats. Only terminal failures count
// against total_failed; scheduled retries do not.
func (w *Worker) failTerminally(ctx context.Context, msg *Message, cfg *WebhookConfig, reason string) error {
	if err := w.repo.MarkFailed(ctx, msg.ID, reason, nil); err != nil {
		return err
	}
	if err := w.repo.RecordFailure(ctx, cfg.ID, cfg.Name, reason); err != nil {
		log.Error().Err(err).Str("webhook", cfg.Name).Msg("Failed to record failure stats")
	}
	log.Warn().
		Str("message_id", msg.ID.String()).
		Str("webhook", cfg.Name).
		Int("retry_count", msg.RetryCount).
		Str("reason", reason).
		Msg("Delivery failed permanently")
	w.metrics.ObserveDelivery(cfg.Name, "failed", 0)
	return nil
}

// classify maps a send result onto the delivery outcome taxonomy.
func (w *Worker) classify(result *SendResult) outcome {
	if result.Success {
		return outcomeDelivered
	}
	if result.StatusCode != 0 {
		if result.StatusCode >= 500 || retriableStatusCodes[result.StatusCode] {
			return outcomeRetriable
		}
		return outcomePermanent
	}
	if isRetriableError(result.Error) {
		return outcomeRetriable
	}
	return outcomePermanent
}

// isRetriableError reports whether a transport error is worth retrying:
// connection, timeout, DNS and socket failures are; everything else is
// treated as permanent.
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return true
	}
	if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}

// buildAttempt materializes the attempt record for the append-only log
func (w *Worker) buildAttempt(msg *Message, result *SendResult) *DeliveryAttempt {
	attempt := &DeliveryAttempt{
		ID:              uuid.New(),
		MessageID:       msg.ID,
		AttemptNumber:   msg.RetryCount + 1,
		TargetURL:       msg.TargetURL,
		ResponseBody:    result.ResponseBody,
		ResponseHeaders: result.ResponseHeaders,
		DurationMs:      result.Duration.Milliseconds(),
		ProcessingNode:  w.cfg.NodeID,
		AttemptedAt:     time.Now().UTC(),
	}
	if result.StatusCode != 0 {
		code := result.StatusCode
		attempt.StatusCode = &code
	}
	if result.Error != nil {
		attempt.Error = result.Error.Error()
	}
	return attempt
}

// observeDuration flags deliveries that cross the slow/critical thresholds
func (w *Worker) observeDuration(msg *Message, duration time.Duration) {
	switch {
	case w.cfg.CriticalThreshold > 0 && duration > w.cfg.CriticalThreshold:
		log.Error().
			Str("message_id", msg.ID.String()).
			Dur("duration", duration).
			Msg("Delivery exceeded critical execution threshold")
	case w.cfg.SlowThreshold > 0 && duration > w.cfg.SlowThreshold:
		log.Warn().
			Str("message_id", msg.ID.String()).
			Dur("duration", duration).
			Msg("Slow delivery")
	}
}

func resultErrorMessage(result *SendResult) string {
	if result.Error != nil {
		return result.Error.Error()
	}
	return fmt.Sprintf("unexpected status code: %d", result.StatusCode)
}
