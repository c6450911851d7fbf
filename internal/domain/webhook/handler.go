package webhook

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mimi6060/hookrelay/internal/pkg/errors"
	"github.com/mimi6060/hookrelay/internal/pkg/response"
)

// Handler exposes the ingestion and management HTTP surface
type Handler struct {
	service *Service
	health  *HealthMonitor
}

// NewHandler creates a new webhook handler
func NewHandler(service *Service, health *HealthMonitor) *Handler {
	return &Handler{service: service, health: health}
}

// RegisterRoutes mounts the webhook routes on the router
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhook/:name", h.Receive)

	r.GET("/messages", h.SearchMessages)
	r.GET("/messages/:id", h.GetMessage)
	r.POST("/messages/:id/cancel", h.CancelMessage)
	r.POST("/messages/:id/retry", h.RetryMessage)
	r.POST("/messages/bulk-retry", h.BulkRetry)

	r.POST("/webhooks", h.CreateConfig)
	r.GET("/webhooks", h.ListConfigs)
	r.GET("/webhooks/:name", h.GetConfig)
	r.PUT("/webhooks/:name", h.UpdateConfig)
	r.DELETE("/webhooks/:name", h.DeactivateConfig)
	r.POST("/webhooks/:name/test", h.TestWebhook)
	r.POST("/webhooks/:name/regenerate-secret", h.RegenerateSecret)
	r.GET("/webhooks/:name/stats", h.WebhookStats)

	r.GET("/health", h.ServiceHealth)
	r.GET("/health/webhooks", h.WebhooksHealth)
}

// Receive accepts an inbound event for the named webhook
func (h *Handler) Receive(c *gin.Context) {
	var req ReceiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, errors.ErrCodeInvalidPayload, "Invalid request body", err.Error())
		return
	}
	req.Signature = c.GetHeader("X-Webhook-Signature")

	resp, err := h.service.Receive(c.Request.Context(), c.Param("name"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, resp)
}

// GetMessage returns a message with its recent attempts
func (h *Handler) GetMessage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, errors.ErrCodeInvalidInput, "Invalid message id", nil)
		return
	}

	limit := 10
	if raw := c.Query("attempts"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	msg, err := h.service.GetMessage(c.Request.Context(), id, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msg)
}

// CancelMessage cancels a non-terminal message
func (h *Handler) CancelMessage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, errors.ErrCodeInvalidInput, "Invalid message id", nil)
		return
	}

	if err := h.service.CancelMessage(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message_id": id, "status": string(MessageStatusCancelled)})
}

// RetryMessage re-schedules a failed message immediately
func (h *Handler) RetryMessage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, errors.ErrCodeInvalidInput, "Invalid message id", nil)
		return
	}

	if err := h.service.RetryMessage(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"message_id": id, "status": "retry_scheduled"})
}

// BulkRetry re-schedules a batch of failed messages
func (h *Handler) BulkRetry(c *gin.Context) {
	var req BulkRetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, errors.ErrCodeInvalidInput, "Invalid request body", err.Error())
		return
	}

	retried, err := h.service.BulkRetry(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"retried": retried})
}

// SearchMessages lists messages matching query filters
func (h *Handler) SearchMessages(c *gin.Context) {
	filters := SearchFilters{
		WebhookName: c.Query("webhook"),
		Status:      MessageStatus(c.Query("status")),
	}
	if raw := c.Query("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.Since = &t
		}
	}
	if raw := c.Query("until"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.Until = &t
		}
	}

	page := pageFromQuery(c)
	messages, total, err := h.service.SearchMessages(c.Request.Context(), filters, page)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OKWithMeta(c, messages, &response.Meta{
		Total:   total,
		Page:    page.Number,
		PerPage: page.Size(),
	})
}

// CreateConfig creates a webhook configuration
func (h *Handler) CreateConfig(c *gin.Context) {
	var req CreateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, errors.ErrCodeInvalidInput, "Invalid request body", err.Error())
		return
	}

	created, err := h.service.CreateConfig(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// ListConfigs lists webhook configurations
func (h *Handler) ListConfigs(c *gin.Context) {
	page := pageFromQuery(c)
	configs, total, err := h.service.ListConfigs(c.Request.Context(), page)
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]ConfigResponse, 0, len(configs))
	for i := range configs {
		views = append(views, configs[i].ToResponse())
	}
	response.OKWithMeta(c, views, &response.Meta{
		Total:   total,
		Page:    page.Number,
		PerPage: page.Size(),
	})
}

// GetConfig returns one webhook configuration
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.service.GetConfig(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, cfg.ToResponse())
}

// UpdateConfig applies a partial update to a webhook configuration
func (h *Handler) UpdateConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, errors.ErrCodeInvalidInput, "Invalid request body", err.Error())
		return
	}

	cfg, err := h.service.UpdateConfig(c.Request.Context(), c.Param("name"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, cfg.ToResponse())
}

// DeactivateConfig soft-deletes a webhook configuration
func (h *Handler) DeactivateConfig(c *gin.Context) {
	if err := h.service.DeactivateConfig(c.Request.Context(), c.Param("name")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// TestWebhook performs a one-shot synchronous test delivery
func (h *Handler) TestWebhook(c *gin.Context) {
	var body struct {
		Payload interface{} `json:"payload,omitempty"`
	}
	// An empty body is fine: a default test payload is used.
	_ = c.ShouldBindJSON(&body)

	result, err := h.service.TestWebhook(c.Request.Context(), c.Param("name"), body.Payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// RegenerateSecret rotates the signing secret
func (h *Handler) RegenerateSecret(c *gin.Context) {
	secret, err := h.service.RegenerateSecret(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"secret": secret})
}

// WebhookStats returns the health counters for one webhook
func (h *Handler) WebhookStats(c *gin.Context) {
	cfg, err := h.service.GetConfig(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}

	stats, err := h.health.WebhookHealth(c.Request.Context(), cfg.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if stats == nil {
		// No deliveries yet: report empty counters rather than a 404.
		empty := (&WebhookHealthStats{WebhookConfigID: cfg.ID, WebhookName: cfg.Name}).
			ToResponse(0, 0)
		response.OK(c, empty)
		return
	}
	response.OK(c, stats)
}

// ServiceHealth reports the overall service status
func (h *Handler) ServiceHealth(c *gin.Context) {
	report := h.health.ServiceHealth(c.Request.Context())
	status := 200
	if report.Status == ServiceUnhealthy {
		status = 503
	}
	c.JSON(status, report)
}

// WebhooksHealth lists per-webhook health stats
func (h *Handler) WebhooksHealth(c *gin.Context) {
	stats, err := h.health.ListWebhookHealth(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

func pageFromQuery(c *gin.Context) Page {
	page := Page{Number: 1, PerPage: 20}
	if raw := c.Query("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page.Number = parsed
		}
	}
	if raw := c.Query("per_page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			page.PerPage = parsed
		}
	}
	return page
}
