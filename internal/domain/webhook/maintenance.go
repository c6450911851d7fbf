package webhook

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// MaintenanceConfig controls stuck-message recovery and retention cleanup
type MaintenanceConfig struct {
	StuckThreshold      time.Duration
	StuckRetryOffset    time.Duration
	CleanupEnabled      bool
	DeliveredRetention  time.Duration
	FailedRetention     time.Duration
	CancelledRetention  time.Duration
	AttemptsRetention   time.Duration
	CleanupBatchSize    int
}

// DefaultMaintenanceConfig returns the default maintenance configuration
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		StuckThreshold:     30 * time.Minute,
		StuckRetryOffset:   5 * time.Minute,
		CleanupEnabled:     true,
		DeliveredRetention: 7 * 24 * time.Hour,
		FailedRetention:    30 * 24 * time.Hour,
		CancelledRetention: 7 * 24 * time.Hour,
		AttemptsRetention:  30 * 24 * time.Hour,
		CleanupBatchSize:   500,
	}
}

// Maintenance recovers abandoned messages and enforces retention.
type Maintenance struct {
	repo Repository
	cfg  MaintenanceConfig
}

// NewMaintenance creates the maintenance component
func NewMaintenance(repo Repository, cfg MaintenanceConfig) *Maintenance {
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 30 * time.Minute
	}
	if cfg.StuckRetryOffset <= 0 {
		cfg.StuckRetryOffset = 5 * time.Minute
	}
	if cfg.CleanupBatchSize <= 0 {
		cfg.CleanupBatchSize = 500
	}
	return &Maintenance{repo: repo, cfg: cfg}
}

// RecoverStuck resets messages abandoned in PROCESSING by a crashed
// worker: they become FAILED with a near-future retry so the scheduler
// re-enqueues them.
func (m *Maintenance) RecoverStuck(ctx context.Context) (int, error) {
	threshold := time.Now().UTC().Add(-m.cfg.StuckThreshold)
	ids, err := m.repo.FindStuckMessages(ctx, threshold)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		nextRetry := time.Now().UTC().Add(m.cfg.StuckRetryOffset)
		if err := m.repo.MarkFailed(ctx, id, "recovered from stuck", &nextRetry); err != nil {
			log.Error().
				Err(err).
				Str("message_id", id.String()).
				Msg("Failed to recover stuck message")
			continue
		}
		recovered++
	}

	if recovered > 0 {
		log.Warn().
			Int("recovered", recovered).
			Dur("threshold", m.cfg.StuckThreshold).
			Msg("Recovered stuck messages")
	}
	return recovered, nil
}

// CleanupResult summarizes one retention pass
type CleanupResult struct {
	DeliveredDeleted int64
	FailedDeleted    int64
	CancelledDeleted int64
	AttemptsDeleted  int64
}

// Cleanup deletes terminal messages and attempts past their retention.
// Deletes run in batches so a large backlog never holds one long
// transaction.
func (m *Maintenance) Cleanup(ctx context.Context) (*CleanupResult, error) {
	if !m.cfg.CleanupEnabled {
		log.Debug().Msg("Cleanup disabled, skipping")
		return &CleanupResult{}, nil
	}

	now := time.Now().UTC()
	result := &CleanupResult{}
	start := time.Now()

	var err error
	result.DeliveredDeleted, err = m.repo.DeleteOldMessages(ctx,
		now.Add(-m.cfg.DeliveredRetention), []MessageStatus{MessageStatusDelivered}, m.cfg.CleanupBatchSize)
	if err != nil {
		return result, err
	}

	result.FailedDeleted, err = m.repo.DeleteOldMessages(ctx,
		now.Add(-m.cfg.FailedRetention), []MessageStatus{MessageStatusFailed}, m.cfg.CleanupBatchSize)
	if err != nil {
		return result, err
	}

	result.CancelledDeleted, err = m.repo.DeleteOldMessages(ctx,
		now.Add(-m.cfg.CancelledRetention), []MessageStatus{MessageStatusCancelled}, m.cfg.CleanupBatchSize)
	if err != nil {
		return result, err
	}

	result.AttemptsDeleted, err = m.repo.DeleteOldAttempts(ctx,
		now.Add(-m.cfg.AttemptsRetention), m.cfg.CleanupBatchSize)
	if err != nil {
		return result, err
	}

	total := result.DeliveredDeleted + result.FailedDeleted + result.CancelledDeleted + result.AttemptsDeleted
	if total > 0 {
		log.Info().
			Int64("delivered", result.DeliveredDeleted).
			Int64("failed", result.FailedDeleted).
			Int64("cancelled", result.CancelledDeleted).
			Int64("attempts", result.AttemptsDeleted).
			Dur("duration", time.Since(start)).
			Msg("Retention cleanup completed")
	}
	return result, nil
}
