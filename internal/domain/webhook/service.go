package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mimi6060/hookrelay/internal/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ServiceConfig holds configuration for the webhook service
type ServiceConfig struct {
	SecretLength     int
	DefaultPolicy    WebhookConfig // retry-policy defaults applied on create
	MaxPayloadLogLen int
}

// DefaultServiceConfig returns the default service configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		SecretLength: 32,
		DefaultPolicy: WebhookConfig{
			MaxRetries:       5,
			BackoffStrategy:  BackoffExponential,
			InitialIntervalS: 60,
			BackoffFactor:    2,
			MaxIntervalS:     3600,
			MaxAgeS:          86400,
		},
		MaxPayloadLogLen: 256,
	}
}

// Service implements the ingestion port and the message/config management
// operations consumed by the HTTP layer.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
	sender     *Sender
	cfg        ServiceConfig
}

// NewService creates a new webhook service
func NewService(repo Repository, dispatcher Dispatcher, sender *Sender, cfg ServiceConfig) *Service {
	if cfg.SecretLength <= 0 {
		cfg.SecretLength = 32
	}
	if cfg.MaxPayloadLogLen <= 0 {
		cfg.MaxPayloadLogLen = 256
	}
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		sender:     sender,
		cfg:        cfg,
	}
}

// ============================================================================
// Ingestion
// ============================================================================

// Receive accepts a validated inbound event for the named webhook, persists
// it as a PENDING message, and hands it to the dispatch fabric. A failed
// enqueue is not an error for the caller: the message stays PENDING and the
// pending sweep re-enqueues it.
func (s *Service) Receive(ctx context.Context, webhookName string, req ReceiveRequest) (*ReceiveResponse, error) {
	cfg, err := s.repo.GetActiveConfigByName(ctx, webhookName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed to resolve webhook").
			WithPhase(errors.PhaseReception).WithWebhook(webhookName)
	}
	if cfg == nil {
		return nil, errors.New(errors.ErrCodeWebhookNotFound, "Webhook not found").
			WithWebhook(webhookName)
	}

	if req.Payload == nil {
		return nil, errors.New(errors.ErrCodeInvalidPayload, "Payload is required").
			WithPhase(errors.PhaseValidation).WithWebhook(webhookName)
	}
	payload, err := CanonicalizeValue(req.Payload)
	if err != nil {
		return nil, err
	}

	if req.Signature != "" {
		ok, err := Verify(payload, req.Signature, []byte(cfg.Secret), cfg.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidSignature, "Signature does not match payload").
				WithPhase(errors.PhaseSignature).WithWebhook(webhookName)
		}
	}

	targetURL := cfg.TargetURL
	if req.TargetURL != "" {
		targetURL = req.TargetURL
	}

	headers := make(map[string]string, len(cfg.Headers)+len(req.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	for k, v := range req.Headers {
		headers[k] = v
	}

	now := time.Now().UTC()
	msg := &Message{
		ID:              uuid.New(),
		WebhookConfigID: cfg.ID,
		WebhookName:     cfg.Name,
		Payload:         string(payload),
		TargetURL:       targetURL,
		Signature:       Sign(payload, []byte(cfg.Secret)),
		Headers:         headers,
		Status:          MessageStatusPending,
		RetryCount:      0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed to persist message").
			WithPhase(errors.PhaseReception).WithWebhook(webhookName)
	}

	log.Debug().
		Str("message_id", msg.ID.String()).
		Str("webhook", cfg.Name).
		Str("payload", truncateForLog(msg.Payload, s.cfg.MaxPayloadLogLen)).
		Msg("Message accepted")

	if err := s.dispatcher.PublishEvent(ctx, msg.ID); err != nil {
		log.Error().
			Err(err).
			Str("message_id", msg.ID.String()).
			Msg("Failed to enqueue message, pending sweep will recover it")
	}

	return &ReceiveResponse{
		MessageID: msg.ID,
		Status:    "pending",
		Timestamp: now.Format(time.RFC3339),
	}, nil
}

// ============================================================================
// Message Operations
// ============================================================================

// GetMessage retrieves a message with its most recent attempts
func (s *Service) GetMessage(ctx context.Context, id uuid.UUID, attemptLimit int) (*MessageResponse, error) {
	msg, err := s.repo.GetMessageByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed to fetch message")
	}
	if msg == nil {
		return nil, errors.New(errors.ErrCodeMessageNotFound, "Message not found").
			WithMessageID(id.String())
	}

	attempts, err := s.repo.GetAttemptsByMessage(ctx, id, attemptLimit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed to fetch delivery attempts")
	}

	resp := msg.ToResponse(attempts)
	return &resp, nil
}

// CancelMessage transitions a non-terminal message to CANCELLED
func (s *Service) CancelMessage(ctx context.Context, id uuid.UUID) error {
	msg, err := s.repo.GetMessageByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to fetch message")
	}
	if msg == nil {
		return errors.New(errors.ErrCodeMessageNotFound, "Message not found").
			WithMessageID(id.String())
	}

	cancelled, err := s.repo.CancelMessage(ctx, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to cancel message")
	}
	if !cancelled {
		return errors.New(errors.ErrCodeMessageTerminal, "Message already reached a terminal state").
			WithMessageID(id.String())
	}

	log.Info().Str("message_id", id.String()).Msg("Message cancelled")
	return nil
}

// RetryMessage re-schedules a FAILED message for immediate retry
func (s *Service) RetryMessage(ctx context.Context, id uuid.UUID) error {
	msg, err := s.repo.GetMessageByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to fetch message")
	}
	if msg == nil {
		return errors.New(errors.ErrCodeMessageNotFound, "Message not found").
			WithMessageID(id.String())
	}
	if msg.Status == MessageStatusDelivered {
		return errors.New(errors.ErrCodeConflict, "Message was already delivered").
			WithMessageID(id.String())
	}

	scheduled, err := s.repo.ScheduleRetryNow(ctx, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to schedule retry").
			WithPhase(errors.PhaseRetryScheduling)
	}
	if !scheduled {
		return errors.New(errors.ErrCodeInvalidStatus, "Only failed messages can be retried").
			WithMessageID(id.String())
	}

	if err := s.dispatcher.PublishRetry(ctx, id); err != nil {
		// The message is due now; the scheduler's next tick picks it up.
		log.Error().Err(err).Str("message_id", id.String()).Msg("Failed to enqueue manual retry")
	}

	log.Info().Str("message_id", id.String()).Msg("Message manually retried")
	return nil
}

// BulkRetry re-schedules a set of failed messages, selected either
// explicitly by id or by a created-at time range.
func (s *Service) BulkRetry(ctx context.Context, req BulkRetryRequest) (int, error) {
	limit := 100
	if req.Limit != nil && *req.Limit > 0 && *req.Limit <= 1000 {
		limit = *req.Limit
	}

	ids := req.MessageIDs
	if len(ids) == 0 {
		hours := 24
		if req.TimeRangeHours != nil && *req.TimeRangeHours > 0 {
			hours = *req.TimeRangeHours
		}
		since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		found, err := s.repo.FindFailedMessages(ctx, since, limit)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeInternal, "Failed to select messages for retry")
		}
		ids = found
	} else if len(ids) > limit {
		ids = ids[:limit]
	}

	retried := 0
	for _, id := range ids {
		scheduled, err := s.repo.ScheduleRetryNow(ctx, id)
		if err != nil || !scheduled {
			continue
		}
		if err := s.dispatcher.PublishRetry(ctx, id); err != nil {
			log.Error().Err(err).Str("message_id", id.String()).Msg("Failed to enqueue bulk retry")
		}
		retried++
	}

	log.Info().Int("retried", retried).Int("selected", len(ids)).Msg("Bulk retry scheduled")
	return retried, nil
}

// SearchMessages retrieves messages matching the filters
func (s *Service) SearchMessages(ctx context.Context, filters SearchFilters, page Page) ([]MessageResponse, int64, error) {
	if filters.Status != "" && !filters.Status.IsValid() {
		return nil, 0, errors.New(errors.ErrCodeInvalidStatus, "Unknown message status")
	}

	messages, total, err := s.repo.SearchMessages(ctx, filters, page)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "Failed to search messages")
	}

	responses := make([]MessageResponse, 0, len(messages))
	for i := range messages {
		responses = append(responses, messages[i].ToResponse(nil))
	}
	return responses, total, nil
}

// ============================================================================
// Webhook Configuration Management
// ============================================================================

// CreateConfig creates a new webhook configuration. The signing secret is
// generated unless the caller provides one, and is only returned here.
func (s *Service) CreateConfig(ctx context.Context, req CreateConfigRequest) (*ConfigCreatedResponse, error) {
	if !NamePattern.MatchString(req.Name) {
		return nil, errors.New(errors.ErrCodeInvalidName,
			"Name must match [A-Za-z0-9_.-]{1,64}")
	}

	existing, err := s.repo.GetConfigByName(ctx, req.Name)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed to check webhook name")
	}
	if existing != nil {
		return nil, errors.New(errors.ErrCodeAlreadyExists, "A webhook with this name already exists").
			WithWebhook(req.Name)
	}

	secret := req.Secret
	if secret == "" {
		secret, err = generateSecret(s.cfg.SecretLength)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed to generate webhook secret")
		}
	}

	defaults := s.cfg.DefaultPolicy
	cfg := &WebhookConfig{
		ID:               uuid.New(),
		Name:             req.Name,
		TargetURL:        req.TargetURL,
		Secret:           secret,
		Active:           true,
		MaxRetries:       defaults.MaxRetries,
		BackoffStrategy:  defaults.BackoffStrategy,
		InitialIntervalS: defaults.InitialIntervalS,
		BackoffFactor:    defaults.BackoffFactor,
		MaxIntervalS:     defaults.MaxIntervalS,
		MaxAgeS:          defaults.MaxAgeS,
		Headers:          req.Headers,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	applyPolicyOverrides(cfg, req)

	if err := validatePolicy(cfg); err != nil {
		return nil, err
	}

	if err := s.repo.CreateConfig(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed to create webhook")
	}

	log.Info().
		Str("webhook_id", cfg.ID.String()).
		Str("name", cfg.Name).
		Str("target_url", cfg.TargetURL).
		Msg("Webhook created")

	return &ConfigCreatedResponse{
		ConfigResponse: cfg.ToResponse(),
		Secret:         secret,
	}, nil
}

// GetConfig retrieves a webhook config by name
func (s *Service) GetConfig(ctx context.Context, name string) (*WebhookConfig, error) {
	cfg, err := s.repo.GetConfigByName(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed to fetch webhook")
	}
	if cfg == nil {
		return nil, errors.New(errors.ErrCodeWebhookNotFound, "Webhook not found").WithWebhook(name)
	}
	return cfg, nil
}

// ListConfigs retrieves webhook configs with pagination
func (s *Service) ListConfigs(ctx context.Context, page Page) ([]WebhookConfig, int64, error) {
	configs, total, err := s.repo.ListConfigs(ctx, page)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "Failed to list webhooks")
	}
	return configs, total, nil
}

// UpdateConfig applies a partial update to a webhook config
func (s *Service) UpdateConfig(ctx context.Context, name string, req UpdateConfigRequest) (*WebhookConfig, error) {
	cfg, err := s.GetConfig(ctx, name)
	if err != nil {
		return nil, err
	}

	if req.TargetURL != nil {
		cfg.TargetURL = *req.TargetURL
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}
	if req.MaxRetries != nil {
		cfg.MaxRetries = *req.MaxRetries
	}
	if req.BackoffStrategy != nil {
		cfg.BackoffStrategy = *req.BackoffStrategy
	}
	if req.InitialIntervalS != nil {
		cfg.InitialIntervalS = *req.InitialIntervalS
	}
	if req.BackoffFactor != nil {
		cfg.BackoffFactor = *req.BackoffFactor
	}
	if req.MaxIntervalS != nil {
		cfg.MaxIntervalS = *req.MaxIntervalS
	}
	if req.MaxAgeS != nil {
		cfg.MaxAgeS = *req.MaxAgeS
	}
	if req.Headers != nil {
		cfg.Headers = req.Headers
	}
	cfg.UpdatedAt = time.Now().UTC()

	if err := validatePolicy(cfg); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateConfig(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed to update webhook")
	}

	log.Info().Str("name", name).Msg("Webhook updated")
	return cfg, nil
}

// DeactivateConfig soft-deletes a webhook: existing messages keep flowing
// through cancellation, new events are rejected.
func (s *Service) DeactivateConfig(ctx context.Context, name string) error {
	cfg, err := s.GetConfig(ctx, name)
	if err != nil {
		return err
	}
	if !cfg.Active {
		return nil
	}

	cfg.Active = false
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateConfig(ctx, cfg); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "Failed to deactivate webhook")
	}

	log.Info().Str("name", name).Msg("Webhook deactivated")
	return nil
}

// RegenerateSecret rotates the signing secret of a webhook
func (s *Service) RegenerateSecret(ctx context.Context, name string) (string, error) {
	cfg, err := s.GetConfig(ctx, name)
	if err != nil {
		return "", err
	}

	secret, err := generateSecret(s.cfg.SecretLength)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "Failed to generate webhook secret")
	}

	cfg.Secret = secret
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateConfig(ctx, cfg); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "Failed to update webhook")
	}

	log.Info().Str("name", name).Msg("Webhook secret regenerated")
	return secret, nil
}

// TestWebhook performs a one-shot synchronous delivery of a test payload
// without persisting a message.
func (s *Service) TestWebhook(ctx context.Context, name string, payload interface{}) (*TestResult, error) {
	cfg, err := s.GetConfig(ctx, name)
	if err != nil {
		return nil, err
	}

	if payload == nil {
		payload = map[string]interface{}{
			"test":      true,
			"message":   "This is a test webhook event",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
	}
	body, err := CanonicalizeValue(payload)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:          uuid.New(),
		WebhookName: cfg.Name,
		Payload:     string(body),
		TargetURL:   cfg.TargetURL,
		Signature:   Sign(body, []byte(cfg.Secret)),
		Headers:     cfg.Headers,
	}

	result := s.sender.Send(ctx, msg, nil)

	testResult := &TestResult{
		Success:      result.Success,
		StatusCode:   result.StatusCode,
		ResponseTime: result.Duration.Milliseconds(),
	}
	if result.Error != nil {
		testResult.Error = result.Error.Error()
	}

	log.Info().
		Str("name", name).
		Bool("success", result.Success).
		Int("status_code", result.StatusCode).
		Msg("Webhook test completed")

	return testResult, nil
}

// ============================================================================
// Helpers
// ============================================================================

func applyPolicyOverrides(cfg *WebhookConfig, req CreateConfigRequest) {
	if req.MaxRetries != nil {
		cfg.MaxRetries = *req.MaxRetries
	}
	if req.BackoffStrategy != nil {
		cfg.BackoffStrategy = *req.BackoffStrategy
	}
	if req.InitialIntervalS != nil {
		cfg.InitialIntervalS = *req.InitialIntervalS
	}
	if req.BackoffFactor != nil {
		cfg.BackoffFactor = *req.BackoffFactor
	}
	if req.MaxIntervalS != nil {
		cfg.MaxIntervalS = *req.MaxIntervalS
	}
	if req.MaxAgeS != nil {
		cfg.MaxAgeS = *req.MaxAgeS
	}
}

func validatePolicy(cfg *WebhookConfig) error {
	if cfg.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "max_retries must be >= 0")
	}
	if !cfg.BackoffStrategy.IsValid() {
		return errors.New(errors.ErrCodeValidation, fmt.Sprintf("unknown backoff strategy %q", cfg.BackoffStrategy))
	}
	if cfg.InitialIntervalS <= 0 {
		return errors.New(errors.ErrCodeValidation, "initial_interval_s must be > 0")
	}
	if cfg.BackoffFactor <= 0 {
		return errors.New(errors.ErrCodeValidation, "backoff_factor must be > 0")
	}
	if cfg.MaxIntervalS < cfg.InitialIntervalS {
		return errors.New(errors.ErrCodeValidation, "max_interval_s must be >= initial_interval_s")
	}
	return nil
}

// generateSecret generates a cryptographically secure random secret
func generateSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(bytes), nil
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
