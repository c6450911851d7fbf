package webhook

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// MessageStatus represents the lifecycle state of a message
type MessageStatus string

const (
	MessageStatusPending    MessageStatus = "PENDING"
	MessageStatusProcessing MessageStatus = "PROCESSING"
	MessageStatusDelivered  MessageStatus = "DELIVERED"
	MessageStatusFailed     MessageStatus = "FAILED"
	MessageStatusCancelled  MessageStatus = "CANCELLED"
)

// IsValid checks if the status is one of the known lifecycle states
func (s MessageStatus) IsValid() bool {
	switch s {
	case MessageStatusPending, MessageStatusProcessing, MessageStatusDelivered,
		MessageStatusFailed, MessageStatusCancelled:
		return true
	}
	return false
}

// BackoffStrategy selects how retry delays grow between attempts
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// IsValid checks if the strategy is a known one
func (b BackoffStrategy) IsValid() bool {
	switch b {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		return true
	}
	return false
}

// NamePattern constrains webhook config names.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

// WebhookConfig represents a webhook destination and its retry policy
type WebhookConfig struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name      string    `json:"name" gorm:"uniqueIndex;not null"`
	TargetURL string    `json:"targetUrl" gorm:"not null"`
	Secret    string    `json:"-" gorm:"not null"` // Never expose in JSON
	Active    bool      `json:"active" gorm:"default:true"`

	// Retry policy
	MaxRetries       int             `json:"maxRetries" gorm:"default:5"`
	BackoffStrategy  BackoffStrategy `json:"backoffStrategy" gorm:"default:'exponential'"`
	InitialIntervalS int             `json:"initialIntervalS" gorm:"default:60"`
	BackoffFactor    float64         `json:"backoffFactor" gorm:"default:2"`
	MaxIntervalS     int             `json:"maxIntervalS" gorm:"default:3600"`
	MaxAgeS          int             `json:"maxAgeS" gorm:"default:86400"`

	Headers map[string]string `json:"headers" gorm:"type:jsonb;serializer:json"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (WebhookConfig) TableName() string {
	return "webhook_configs"
}

// MessageTTL returns the hard age bound for messages of this config
func (w *WebhookConfig) MessageTTL() time.Duration {
	return time.Duration(w.MaxAgeS) * time.Second
}

// Message represents one inbound event persisted until it reaches a
// terminal status
type Message struct {
	ID              uuid.UUID         `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	WebhookConfigID uuid.UUID         `json:"webhookConfigId" gorm:"type:uuid;not null;index:idx_messages_config_created,priority:1"`
	WebhookName     string            `json:"webhookName" gorm:"not null"`
	Payload         string            `json:"payload" gorm:"type:text;not null"`
	TargetURL       string            `json:"targetUrl" gorm:"not null"`
	Signature       string            `json:"signature" gorm:"not null"`
	Headers         map[string]string `json:"headers" gorm:"type:jsonb;serializer:json"`
	Status          MessageStatus     `json:"status" gorm:"default:'PENDING';index:idx_messages_status_retry,priority:1"`
	RetryCount      int               `json:"retryCount" gorm:"default:0"`
	NextRetryAt     *time.Time        `json:"nextRetryAt,omitempty" gorm:"index:idx_messages_status_retry,priority:2"`
	LastError       string            `json:"lastError,omitempty"`
	ProcessingNode  string            `json:"processingNode,omitempty"`
	CreatedAt       time.Time         `json:"createdAt" gorm:"index:idx_messages_config_created,priority:2"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

func (Message) TableName() string {
	return "messages"
}

// IsTerminal reports whether no further delivery will be attempted
func (m *Message) IsTerminal() bool {
	switch m.Status {
	case MessageStatusDelivered, MessageStatusCancelled:
		return true
	case MessageStatusFailed:
		return m.NextRetryAt == nil
	}
	return false
}

// Expired reports whether the message exceeded the config's max age
func (m *Message) Expired(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return m.CreatedAt.Add(maxAge).Before(now)
}

// DeliveryAttempt is one outbound HTTP request for a message, appended to
// an immutable log
type DeliveryAttempt struct {
	ID              uuid.UUID         `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	MessageID       uuid.UUID         `json:"messageId" gorm:"type:uuid;not null;uniqueIndex:idx_attempts_message_number,priority:1"`
	AttemptNumber   int               `json:"attemptNumber" gorm:"not null;uniqueIndex:idx_attempts_message_number,priority:2"`
	TargetURL       string            `json:"targetUrl" gorm:"not null"`
	StatusCode      *int              `json:"statusCode,omitempty"`
	ResponseBody    string            `json:"responseBody,omitempty" gorm:"type:text"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty" gorm:"type:jsonb;serializer:json"`
	DurationMs      int64             `json:"durationMs"`
	Error           string            `json:"error,omitempty"`
	ProcessingNode  string            `json:"processingNode,omitempty"`
	AttemptedAt     time.Time         `json:"attemptedAt"`
}

func (DeliveryAttempt) TableName() string {
	return "delivery_attempts"
}

// ewmaAlpha is the smoothing weight applied to new latency samples.
const ewmaAlpha = 0.3

// WebhookHealthStats aggregates delivery counters per webhook config
type WebhookHealthStats struct {
	WebhookConfigID   uuid.UUID  `json:"webhookConfigId" gorm:"type:uuid;primary_key"`
	WebhookName       string     `json:"webhookName" gorm:"not null"`
	TotalSent         int64      `json:"totalSent" gorm:"default:0"`
	TotalDelivered    int64      `json:"totalDelivered" gorm:"default:0"`
	TotalFailed       int64      `json:"totalFailed" gorm:"default:0"`
	AvgResponseTimeMs float64    `json:"avgResponseTimeMs" gorm:"default:0"`
	LastSuccessAt     *time.Time `json:"lastSuccessAt,omitempty"`
	LastErrorAt       *time.Time `json:"lastErrorAt,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func (WebhookHealthStats) TableName() string {
	return "webhook_health_stats"
}

// SuccessRate returns total_delivered/total_sent as a percentage.
// Undefined (0, false) when nothing was sent yet.
func (s *WebhookHealthStats) SuccessRate() (float64, bool) {
	if s.TotalSent == 0 {
		return 0, false
	}
	return float64(s.TotalDelivered) / float64(s.TotalSent) * 100, true
}

// ============================================================================
// Request DTOs
// ============================================================================

// ReceiveRequest is the inbound event body accepted on POST /webhook/{name}
type ReceiveRequest struct {
	Payload            interface{}       `json:"payload" binding:"required"`
	Headers            map[string]string `json:"headers,omitempty"`
	TargetURL          string            `json:"target_url,omitempty" binding:"omitempty,url"`
	DeliverImmediately bool              `json:"deliver_immediately,omitempty"`

	// Signature carries the sender-provided X-Webhook-Signature header.
	// When set, the payload is verified against the webhook's secret.
	Signature string `json:"-"`
}

// CreateConfigRequest represents the request to create a webhook config
type CreateConfigRequest struct {
	Name             string            `json:"name" binding:"required"`
	TargetURL        string            `json:"target_url" binding:"required,url"`
	Secret           string            `json:"secret,omitempty"`
	MaxRetries       *int              `json:"max_retries,omitempty"`
	BackoffStrategy  *BackoffStrategy  `json:"backoff_strategy,omitempty"`
	InitialIntervalS *int              `json:"initial_interval_s,omitempty"`
	BackoffFactor    *float64          `json:"backoff_factor,omitempty"`
	MaxIntervalS     *int              `json:"max_interval_s,omitempty"`
	MaxAgeS          *int              `json:"max_age_s,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
}

// UpdateConfigRequest represents the request to update a webhook config
type UpdateConfigRequest struct {
	TargetURL        *string           `json:"target_url,omitempty" binding:"omitempty,url"`
	Active           *bool             `json:"active,omitempty"`
	MaxRetries       *int              `json:"max_retries,omitempty"`
	BackoffStrategy  *BackoffStrategy  `json:"backoff_strategy,omitempty"`
	InitialIntervalS *int              `json:"initial_interval_s,omitempty"`
	BackoffFactor    *float64          `json:"backoff_factor,omitempty"`
	MaxIntervalS     *int              `json:"max_interval_s,omitempty"`
	MaxAgeS          *int              `json:"max_age_s,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
}

// BulkRetryRequest selects failed messages to re-schedule
type BulkRetryRequest struct {
	TimeRangeHours *int        `json:"time_range_hours,omitempty"`
	Limit          *int        `json:"limit,omitempty"`
	MessageIDs     []uuid.UUID `json:"message_ids,omitempty"`
	DestinationURL string      `json:"destination_url,omitempty"`
}

// SearchFilters narrows message searches
type SearchFilters struct {
	WebhookName string
	Status      MessageStatus
	Since       *time.Time
	Until       *time.Time
}

// Page is a pagination request
type Page struct {
	Number  int
	PerPage int
}

// Offset returns the row offset for the page
func (p Page) Offset() int {
	n := p.Number
	if n < 1 {
		n = 1
	}
	return (n - 1) * p.Size()
}

// Size returns the clamped page size
func (p Page) Size() int {
	if p.PerPage < 1 || p.PerPage > 100 {
		return 20
	}
	return p.PerPage
}

// ============================================================================
// Response DTOs
// ============================================================================

// ReceiveResponse acknowledges an accepted inbound event
type ReceiveResponse struct {
	MessageID uuid.UUID `json:"message_id"`
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp"`
}

// MessageResponse is the API view of a message with its recent attempts
type MessageResponse struct {
	ID          uuid.UUID                 `json:"id"`
	WebhookName string                    `json:"webhookName"`
	TargetURL   string                    `json:"targetUrl"`
	Payload     string                    `json:"payload"`
	Status      MessageStatus             `json:"status"`
	RetryCount  int                       `json:"retryCount"`
	NextRetryAt *string                   `json:"nextRetryAt,omitempty"`
	LastError   string                    `json:"lastError,omitempty"`
	CreatedAt   string                    `json:"createdAt"`
	UpdatedAt   string                    `json:"updatedAt"`
	Attempts    []DeliveryAttemptResponse `json:"attempts,omitempty"`
}

// ToResponse converts a Message to its API view
func (m *Message) ToResponse(attempts []DeliveryAttempt) MessageResponse {
	var nextRetryAt *string
	if m.NextRetryAt != nil {
		t := m.NextRetryAt.Format(time.RFC3339)
		nextRetryAt = &t
	}

	resp := MessageResponse{
		ID:          m.ID,
		WebhookName: m.WebhookName,
		TargetURL:   m.TargetURL,
		Payload:     m.Payload,
		Status:      m.Status,
		RetryCount:  m.RetryCount,
		NextRetryAt: nextRetryAt,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   m.UpdatedAt.Format(time.RFC3339),
	}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, a.ToResponse())
	}
	return resp
}

// DeliveryAttemptResponse is the API view of one attempt
type DeliveryAttemptResponse struct {
	ID            uuid.UUID `json:"id"`
	AttemptNumber int       `json:"attemptNumber"`
	TargetURL     string    `json:"targetUrl"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	DurationMs    int64     `json:"durationMs"`
	Error         string    `json:"error,omitempty"`
	AttemptedAt   string    `json:"attemptedAt"`
}

// ToResponse converts a DeliveryAttempt to its API view
func (a *DeliveryAttempt) ToResponse() DeliveryAttemptResponse {
	return DeliveryAttemptResponse{
		ID:            a.ID,
		AttemptNumber: a.AttemptNumber,
		TargetURL:     a.TargetURL,
		StatusCode:    a.StatusCode,
		DurationMs:    a.DurationMs,
		Error:         a.Error,
		AttemptedAt:   a.AttemptedAt.Format(time.RFC3339),
	}
}

// ConfigResponse is the API view of a webhook config
type ConfigResponse struct {
	ID               uuid.UUID         `json:"id"`
	Name             string            `json:"name"`
	TargetURL        string            `json:"targetUrl"`
	Active           bool              `json:"active"`
	MaxRetries       int               `json:"maxRetries"`
	BackoffStrategy  BackoffStrategy   `json:"backoffStrategy"`
	InitialIntervalS int               `json:"initialIntervalS"`
	BackoffFactor    float64           `json:"backoffFactor"`
	MaxIntervalS     int               `json:"maxIntervalS"`
	MaxAgeS          int               `json:"maxAgeS"`
	Headers          map[string]string `json:"headers,omitempty"`
	CreatedAt        string            `json:"createdAt"`
	UpdatedAt        string            `json:"updatedAt"`
}

// ToResponse converts a WebhookConfig to its API view
func (w *WebhookConfig) ToResponse() ConfigResponse {
	return ConfigResponse{
		ID:               w.ID,
		Name:             w.Name,
		TargetURL:        w.TargetURL,
		Active:           w.Active,
		MaxRetries:       w.MaxRetries,
		BackoffStrategy:  w.BackoffStrategy,
		InitialIntervalS: w.InitialIntervalS,
		BackoffFactor:    w.BackoffFactor,
		MaxIntervalS:     w.MaxIntervalS,
		MaxAgeS:          w.MaxAgeS,
		Headers:          w.Headers,
		CreatedAt:        w.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        w.UpdatedAt.Format(time.RFC3339),
	}
}

// ConfigCreatedResponse includes the secret (only returned on creation)
type ConfigCreatedResponse struct {
	ConfigResponse
	Secret string `json:"secret"` // Only shown once on creation!
}

// TestResult represents the result of a one-shot test delivery
type TestResult struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"statusCode,omitempty"`
	ResponseTime int64  `json:"responseTime"` // milliseconds
	Error        string `json:"error,omitempty"`
}

// HealthStatsResponse is the API view of per-webhook health counters
type HealthStatsResponse struct {
	WebhookName       string   `json:"webhookName"`
	TotalSent         int64    `json:"totalSent"`
	TotalDelivered    int64    `json:"totalDelivered"`
	TotalFailed       int64    `json:"totalFailed"`
	SuccessRate       *float64 `json:"successRate,omitempty"`
	AvgResponseTimeMs float64  `json:"avgResponseTimeMs"`
	LastSuccessAt     *string  `json:"lastSuccessAt,omitempty"`
	LastErrorAt       *string  `json:"lastErrorAt,omitempty"`
	LastError         string   `json:"lastError,omitempty"`
	Unhealthy         bool     `json:"unhealthy"`
}

// ToResponse converts stats to the API view, classifying health against
// the given thresholds
func (s *WebhookHealthStats) ToResponse(minSent int64, minRate float64) HealthStatsResponse {
	resp := HealthStatsResponse{
		WebhookName:       s.WebhookName,
		TotalSent:         s.TotalSent,
		TotalDelivered:    s.TotalDelivered,
		TotalFailed:       s.TotalFailed,
		AvgResponseTimeMs: s.AvgResponseTimeMs,
		LastError:         s.LastError,
	}
	if rate, ok := s.SuccessRate(); ok {
		resp.SuccessRate = &rate
	}
	if s.LastSuccessAt != nil {
		t := s.LastSuccessAt.Format(time.RFC3339)
		resp.LastSuccessAt = &t
	}
	if s.LastErrorAt != nil {
		t := s.LastErrorAt.Format(time.RFC3339)
		resp.LastErrorAt = &t
	}
	resp.Unhealthy = s.IsUnhealthy(minSent, minRate)
	return resp
}

// IsUnhealthy classifies the webhook against minimum-volume and
// minimum-success-rate thresholds
func (s *WebhookHealthStats) IsUnhealthy(minSent int64, minRate float64) bool {
	rate, ok := s.SuccessRate()
	if !ok || s.TotalSent < minSent {
		return false
	}
	return rate < minRate
}
