package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ServiceStatus is the coarse health classification of the whole service
type ServiceStatus string

const (
	ServiceHealthy   ServiceStatus = "healthy"
	ServiceDegraded  ServiceStatus = "degraded"
	ServiceUnhealthy ServiceStatus = "unhealthy"
)

// BrokerProbe checks whether the dispatch broker is reachable
type BrokerProbe interface {
	Ping(ctx context.Context) error
}

// HealthMonitorConfig holds the classification thresholds
type HealthMonitorConfig struct {
	MinSent         int64
	MinSuccessRate  float64
	PendingWarnAt   int64
	DirectMode      bool
}

// DefaultHealthMonitorConfig returns the default thresholds
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		MinSent:        5,
		MinSuccessRate: 80.0,
		PendingWarnAt:  1000,
	}
}

// HealthMonitor aggregates per-webhook and service-level health. All
// counters live in the store; this component only reads and classifies.
type HealthMonitor struct {
	repo   Repository
	broker BrokerProbe
	cfg    HealthMonitorConfig
}

// NewHealthMonitor creates a health monitor. broker may be nil in direct
// mode.
func NewHealthMonitor(repo Repository, broker BrokerProbe, cfg HealthMonitorConfig) *HealthMonitor {
	if cfg.MinSent <= 0 {
		cfg.MinSent = 5
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = 80.0
	}
	if cfg.PendingWarnAt <= 0 {
		cfg.PendingWarnAt = 1000
	}
	return &HealthMonitor{repo: repo, broker: broker, cfg: cfg}
}

// WebhookHealth returns the stats view for one config
func (h *HealthMonitor) WebhookHealth(ctx context.Context, configID uuid.UUID) (*HealthStatsResponse, error) {
	stats, err := h.repo.GetHealthStats(ctx, configID)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, nil
	}
	resp := stats.ToResponse(h.cfg.MinSent, h.cfg.MinSuccessRate)
	return &resp, nil
}

// ListWebhookHealth returns the stats view for every known config
func (h *HealthMonitor) ListWebhookHealth(ctx context.Context) ([]HealthStatsResponse, error) {
	stats, err := h.repo.ListHealthStats(ctx)
	if err != nil {
		return nil, err
	}
	responses := make([]HealthStatsResponse, 0, len(stats))
	for i := range stats {
		responses = append(responses, stats[i].ToResponse(h.cfg.MinSent, h.cfg.MinSuccessRate))
	}
	return responses, nil
}

// ServiceHealthReport is the service-level health summary
type ServiceHealthReport struct {
	Status            ServiceStatus `json:"status"`
	PendingMessages   int64         `json:"pendingMessages"`
	UnhealthyWebhooks int           `json:"unhealthyWebhooks"`
	BrokerAvailable   *bool         `json:"brokerAvailable,omitempty"`
	Timestamp         string        `json:"timestamp"`
}

// ServiceHealth derives the overall status from the pending backlog, the
// unhealthy-webhook count, and broker availability in broker mode.
func (h *HealthMonitor) ServiceHealth(ctx context.Context) ServiceHealthReport {
	report := ServiceHealthReport{
		Status:    ServiceHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	pending, err := h.repo.CountMessagesByStatus(ctx, MessageStatusPending)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count pending messages")
		report.Status = ServiceDegraded
	}
	report.PendingMessages = pending

	stats, err := h.repo.ListHealthStats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list health stats")
		report.Status = ServiceDegraded
	}
	for i := range stats {
		if stats[i].IsUnhealthy(h.cfg.MinSent, h.cfg.MinSuccessRate) {
			report.UnhealthyWebhooks++
		}
	}

	if !h.cfg.DirectMode && h.broker != nil {
		available := h.broker.Ping(ctx) == nil
		report.BrokerAvailable = &available
		if !available {
			report.Status = ServiceUnhealthy
			return report
		}
	}

	if report.UnhealthyWebhooks > 0 || pending > h.cfg.PendingWarnAt {
		if report.Status == ServiceHealthy {
			report.Status = ServiceDegraded
		}
	}
	return report
}
