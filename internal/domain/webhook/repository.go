package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the atomic persistence operations of the delivery
// engine. Status transitions are conditional updates. MarkProcessing and
// CancelMessage report through their rows-changed result whether the
// transition took place; MarkDelivered and MarkFailed return no such result,
// and an update whose status guard does not match changes nothing and
// returns no error.
type Repository interface {
	// Webhook configuration operations
	GetConfigByID(ctx context.Context, id uuid.UUID) (*WebhookConfig, error)
	GetActiveConfigByName(ctx context.Context, name string) (*WebhookConfig, error)
	GetConfigByName(ctx context.Context, name string) (*WebhookConfig, error)
	ListConfigs(ctx context.Context, page Page) ([]WebhookConfig, int64, error)
	CreateConfig(ctx context.Context, cfg *WebhookConfig) error
	UpdateConfig(ctx context.Context, cfg *WebhookConfig) error

	// Message lifecycle
	InsertMessage(ctx context.Context, msg *Message) error
	GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, node string) (int64, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string, nextRetry *time.Time) error
	IncrementRetryCount(ctx context.Context, id uuid.UUID) error
	CancelMessage(ctx context.Context, id uuid.UUID) (bool, error)
	ScheduleRetryNow(ctx context.Context, id uuid.UUID) (bool, error)

	// Queries
	FindMessagesForRetry(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	FindPendingMessages(ctx context.Context, limit int) ([]uuid.UUID, error)
	FindStuckMessages(ctx context.Context, threshold time.Time) ([]uuid.UUID, error)
	FindFailedMessages(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
	SearchMessages(ctx context.Context, filters SearchFilters, page Page) ([]Message, int64, error)
	CountMessagesByStatus(ctx context.Context, status MessageStatus) (int64, error)

	// Delivery attempt log
	AppendAttempt(ctx context.Context, attempt *DeliveryAttempt) error
	GetAttemptsByMessage(ctx context.Context, messageID uuid.UUID, limit int) ([]DeliveryAttempt, error)

	// Health statistics
	RecordSuccess(ctx context.Context, configID uuid.UUID, webhookName string, latencyMs int64) error
	RecordFailure(ctx context.Context, configID uuid.UUID, webhookName, reason string) error
	GetHealthStats(ctx context.Context, configID uuid.UUID) (*WebhookHealthStats, error)
	ListHealthStats(ctx context.Context) ([]WebhookHealthStats, error)

	// Retention
	DeleteOldMessages(ctx context.Context, cutoff time.Time, statuses []MessageStatus, batchSize int) (int64, error)
	DeleteOldAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new webhook repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// ============================================================================
// Webhook Configuration Operations
// ============================================================================

// GetConfigByID retrieves a webhook config by ID
func (r *repository) GetConfigByID(ctx context.Context, id uuid.UUID) (*WebhookConfig, error) {
	var cfg WebhookConfig
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get webhook config: %w", err)
	}
	return &cfg, nil
}

// GetActiveConfigByName retrieves an active webhook config by its unique name
func (r *repository) GetActiveConfigByName(ctx context.Context, name string) (*WebhookConfig, error) {
	var cfg WebhookConfig
	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		Where("active = ?", true).
		First(&cfg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get webhook config: %w", err)
	}
	return &cfg, nil
}

// GetConfigByName retrieves a webhook config by name regardless of active flag
func (r *repository) GetConfigByName(ctx context.Context, name string) (*WebhookConfig, error) {
	var cfg WebhookConfig
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&cfg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get webhook config: %w", err)
	}
	return &cfg, nil
}

// ListConfigs retrieves webhook configs with pagination
func (r *repository) ListConfigs(ctx context.Context, page Page) ([]WebhookConfig, int64, error) {
	var configs []WebhookConfig
	var total int64

	query := r.db.WithContext(ctx).Model(&WebhookConfig{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count webhook configs: %w", err)
	}

	err := query.Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Size()).
		Find(&configs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list webhook configs: %w", err)
	}
	return configs, total, nil
}

// CreateConfig creates a new webhook config
func (r *repository) CreateConfig(ctx context.Context, cfg *WebhookConfig) error {
	return r.db.WithContext(ctx).Create(cfg).Error
}

// UpdateConfig updates an existing webhook config
func (r *repository) UpdateConfig(ctx context.Context, cfg *WebhookConfig) error {
	return r.db.WithContext(ctx).Save(cfg).Error
}

// ============================================================================
// Message Lifecycle
// ============================================================================

// InsertMessage persists a new PENDING message
func (r *repository) InsertMessage(ctx context.Context, msg *Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// GetMessageByID retrieves a message by ID
func (r *repository) GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	var msg Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// MarkProcessing transitions a message to PROCESSING. Only one of any
// number of concurrent callers sees rowsChanged=1: the update is guarded
// on the message still being PENDING or FAILED-due-for-retry.
func (r *repository) MarkProcessing(ctx context.Context, id uuid.UUID, node string) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Where("status = ? OR (status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)",
			MessageStatusPending, MessageStatusFailed, now).
		Updates(map[string]interface{}{
			"status":          MessageStatusProcessing,
			"next_retry_at":   nil,
			"processing_node": node,
			"updated_at":      now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark message processing: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// MarkDelivered finalizes a successful delivery. Guarded on PROCESSING so
// a concurrent cancellation is never overwritten.
func (r *repository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Where("status = ?", MessageStatusProcessing).
		Updates(map[string]interface{}{
			"status":        MessageStatusDelivered,
			"next_retry_at": nil,
			"last_error":    "",
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark message delivered: %w", result.Error)
	}
	return nil
}

// MarkFailed records a failure. A nil nextRetry makes the failure terminal;
// otherwise the message stays eligible for the retry scheduler. Guarded on
// PROCESSING for the same reason as MarkDelivered.
func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string, nextRetry *time.Time) error {
	result := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Where("status = ?", MessageStatusProcessing).
		Updates(map[string]interface{}{
			"status":        MessageStatusFailed,
			"next_retry_at": nextRetry,
			"last_error":    errorMsg,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark message failed: %w", result.Error)
	}
	return nil
}

// IncrementRetryCount bumps the retry counter of a message
func (r *repository) IncrementRetryCount(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to increment retry count: %w", result.Error)
	}
	return nil
}

// CancelMessage transitions any non-terminal message to CANCELLED and
// reports whether it mutated anything.
func (r *repository) CancelMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Where("status IN ? OR (status = ? AND next_retry_at IS NOT NULL)",
			[]MessageStatus{MessageStatusPending, MessageStatusProcessing}, MessageStatusFailed).
		Updates(map[string]interface{}{
			"status":        MessageStatusCancelled,
			"next_retry_at": nil,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to cancel message: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ScheduleRetryNow makes a FAILED message immediately due for the retry
// scheduler. Used by the manual retry operations.
func (r *repository) ScheduleRetryNow(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Where("status = ?", MessageStatusFailed).
		Updates(map[string]interface{}{
			"next_retry_at": now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to schedule retry: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ============================================================================
// Queries
// ============================================================================

// FindMessagesForRetry returns FAILED messages whose retry is due, oldest
// first
func (r *repository) FindMessagesForRetry(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("status = ?", MessageStatusFailed).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now).
		Order("next_retry_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find messages for retry: %w", err)
	}
	return ids, nil
}

// FindPendingMessages returns PENDING messages, oldest first. Used by the
// startup sweep to recover messages whose enqueue was lost.
func (r *repository) FindPendingMessages(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("status = ?", MessageStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find pending messages: %w", err)
	}
	return ids, nil
}

// FindStuckMessages returns PROCESSING messages untouched since threshold
func (r *repository) FindStuckMessages(ctx context.Context, threshold time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("status = ?", MessageStatusProcessing).
		Where("updated_at < ?", threshold).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck messages: %w", err)
	}
	return ids, nil
}

// FindFailedMessages returns FAILED messages created since the given time,
// both those with a scheduled retry and terminal ones. Used by bulk retry.
func (r *repository) FindFailedMessages(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("status = ?", MessageStatusFailed).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find failed messages: %w", err)
	}
	return ids, nil
}

// SearchMessages retrieves messages matching the filters with pagination
func (r *repository) SearchMessages(ctx context.Context, filters SearchFilters, page Page) ([]Message, int64, error) {
	var messages []Message
	var total int64

	query := r.db.WithContext(ctx).Model(&Message{})
	if filters.WebhookName != "" {
		query = query.Where("webhook_name = ?", filters.WebhookName)
	}
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at < ?", *filters.Until)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	err := query.Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Size()).
		Find(&messages).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search messages: %w", err)
	}
	return messages, total, nil
}

// CountMessagesByStatus counts messages in a given status
func (r *repository) CountMessagesByStatus(ctx context.Context, status MessageStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("status = ?", status).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// ============================================================================
// Delivery Attempt Log
// ============================================================================

// AppendAttempt records one outbound attempt. The (message_id,
// attempt_number) unique index rejects duplicates.
func (r *repository) AppendAttempt(ctx context.Context, attempt *DeliveryAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

// GetAttemptsByMessage retrieves the most recent attempts for a message (up
// to limit), ordered most recent last
func (r *repository) GetAttemptsByMessage(ctx context.Context, messageID uuid.UUID, limit int) ([]DeliveryAttempt, error) {
	var attempts []DeliveryAttempt
	query := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("attempt_number DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get delivery attempts: %w", err)
	}
	for i, j := 0, len(attempts)-1; i < j; i, j = i+1, j-1 {
		attempts[i], attempts[j] = attempts[j], attempts[i]
	}
	return attempts, nil
}

// ============================================================================
// Health Statistics
// ============================================================================

// RecordSuccess atomically bumps the delivered counters and folds the
// latency sample into the EWMA. The stats row is created lazily on first
// use.
func (r *repository) RecordSuccess(ctx context.Context, configID uuid.UUID, webhookName string, latencyMs int64) error {
	now := time.Now().UTC()
	update := func() (int64, error) {
		result := r.db.WithContext(ctx).Model(&WebhookHealthStats{}).
			Where("webhook_config_id = ?", configID).
			Updates(map[string]interface{}{
				"total_sent":      gorm.Expr("total_sent + 1"),
				"total_delivered": gorm.Expr("total_delivered + 1"),
				"avg_response_time_ms": gorm.Expr(
					"CASE WHEN avg_response_time_ms = 0 THEN ? ELSE avg_response_time_ms * ? + ? * ? END",
					float64(latencyMs), 1-ewmaAlpha, ewmaAlpha, float64(latencyMs)),
				"last_success_at": now,
				"updated_at":      now,
			})
		return result.RowsAffected, result.Error
	}

	rows, err := update()
	if err != nil {
		return fmt.Errorf("failed to record success: %w", err)
	}
	if rows == 0 {
		if err := r.ensureStatsRow(ctx, configID, webhookName); err != nil {
			return err
		}
		if _, err := update(); err != nil {
			return fmt.Errorf("failed to record success: %w", err)
		}
	}
	return nil
}

// RecordFailure atomically bumps the failure counters
func (r *repository) RecordFailure(ctx context.Context, configID uuid.UUID, webhookName, reason string) error {
	now := time.Now().UTC()
	update := func() (int64, error) {
		result := r.db.WithContext(ctx).Model(&WebhookHealthStats{}).
			Where("webhook_config_id = ?", configID).
			Updates(map[string]interface{}{
				"total_sent":    gorm.Expr("total_sent + 1"),
				"total_failed":  gorm.Expr("total_failed + 1"),
				"last_error_at": now,
				"last_error":    reason,
				"updated_at":    now,
			})
		return result.RowsAffected, result.Error
	}

	rows, err := update()
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	if rows == 0 {
		if err := r.ensureStatsRow(ctx, configID, webhookName); err != nil {
			return err
		}
		if _, err := update(); err != nil {
			return fmt.Errorf("failed to record failure: %w", err)
		}
	}
	return nil
}

// ensureStatsRow inserts an empty stats row, tolerating a concurrent insert
func (r *repository) ensureStatsRow(ctx context.Context, configID uuid.UUID, webhookName string) error {
	stats := &WebhookHealthStats{
		WebhookConfigID: configID,
		WebhookName:     webhookName,
		UpdatedAt:       time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Create(stats).Error
	if err != nil {
		// Another worker created the row first; the retried update will land.
		var existing WebhookHealthStats
		if lookupErr := r.db.WithContext(ctx).
			Where("webhook_config_id = ?", configID).
			First(&existing).Error; lookupErr == nil {
			return nil
		}
		return fmt.Errorf("failed to create health stats row: %w", err)
	}
	return nil
}

// GetHealthStats retrieves the stats row for a config
func (r *repository) GetHealthStats(ctx context.Context, configID uuid.UUID) (*WebhookHealthStats, error) {
	var stats WebhookHealthStats
	err := r.db.WithContext(ctx).Where("webhook_config_id = ?", configID).First(&stats).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get health stats: %w", err)
	}
	return &stats, nil
}

// ListHealthStats retrieves all stats rows
func (r *repository) ListHealthStats(ctx context.Context) ([]WebhookHealthStats, error) {
	var stats []WebhookHealthStats
	err := r.db.WithContext(ctx).Order("webhook_name ASC").Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list health stats: %w", err)
	}
	return stats, nil
}

// ============================================================================
// Retention
// ============================================================================

// DeleteOldMessages deletes messages in the given terminal statuses older
// than cutoff, in batches, and returns the number of rows removed.
func (r *repository) DeleteOldMessages(ctx context.Context, cutoff time.Time, statuses []MessageStatus, batchSize int) (int64, error) {
	if batchSize < 1 {
		batchSize = 500
	}
	var total int64
	for {
		result := r.db.WithContext(ctx).
			Where("id IN (?)", r.db.Model(&Message{}).
				Select("id").
				Where("status IN ?", statuses).
				Where("created_at < ?", cutoff).
				Limit(batchSize)).
			Delete(&Message{})
		if result.Error != nil {
			return total, fmt.Errorf("failed to delete old messages: %w", result.Error)
		}
		total += result.RowsAffected
		if result.RowsAffected < int64(batchSize) {
			return total, nil
		}
	}
}

// DeleteOldAttempts deletes attempt records older than cutoff in batches
func (r *repository) DeleteOldAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize < 1 {
		batchSize = 500
	}
	var total int64
	for {
		result := r.db.WithContext(ctx).
			Where("id IN (?)", r.db.Model(&DeliveryAttempt{}).
				Select("id").
				Where("attempted_at < ?", cutoff).
				Limit(batchSize)).
			Delete(&DeliveryAttempt{})
		if result.Error != nil {
			return total, fmt.Errorf("failed to delete old attempts: %w", result.Error)
		}
		total += result.RowsAffected
		if result.RowsAffected < int64(batchSize) {
			return total, nil
		}
	}
}
