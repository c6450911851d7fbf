package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

// Ensure MockRepository implements Repository interface
var _ Repository = (*MockRepository)(nil)

func NewMockRepository() *MockRepository {
	return &MockRepository{}
}

func (m *MockRepository) GetConfigByID(ctx context.Context, id uuid.UUID) (*WebhookConfig, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*WebhookConfig), args.Error(1)
}

func (m *MockRepository) GetActiveConfigByName(ctx context.Context, name string) (*WebhookConfig, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*WebhookConfig), args.Error(1)
}

func (m *MockRepository) GetConfigByName(ctx context.Context, name string) (*WebhookConfig, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*WebhookConfig), args.Error(1)
}

func (m *MockRepository) ListConfigs(ctx context.Context, page Page) ([]WebhookConfig, int64, error) {
	args := m.Called(ctx, page)
	return args.Get(0).([]WebhookConfig), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) CreateConfig(ctx context.Context, cfg *WebhookConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockRepository) UpdateConfig(ctx context.Context, cfg *WebhookConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockRepository) InsertMessage(ctx context.Context, msg *Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockRepository) GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Message), args.Error(1)
}

func (m *MockRepository) MarkProcessing(ctx context.Context, id uuid.UUID, node string) (int64, error) {
	args := m.Called(ctx, id, node)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string, nextRetry *time.Time) error {
	args := m.Called(ctx, id, errorMsg, nextRetry)
	return args.Error(0)
}

func (m *MockRepository) IncrementRetryCount(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) CancelMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ScheduleRetryNow(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) FindMessagesForRetry(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockRepository) FindPendingMessages(ctx context.Context, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockRepository) FindStuckMessages(ctx context.Context, threshold time.Time) ([]uuid.UUID, error) {
	args := m.Called(ctx, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockRepository) FindFailedMessages(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockRepository) SearchMessages(ctx context.Context, filters SearchFilters, page Page) ([]Message, int64, error) {
	args := m.Called(ctx, filters, page)
	return args.Get(0).([]Message), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) CountMessagesByStatus(ctx context.Context, status MessageStatus) (int64, error) {
	args := m.Called(ctx, status)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) AppendAttempt(ctx context.Context, attempt *DeliveryAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockRepository) GetAttemptsByMessage(ctx context.Context, messageID uuid.UUID, limit int) ([]DeliveryAttempt, error) {
	args := m.Called(ctx, messageID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]DeliveryAttempt), args.Error(1)
}

func (m *MockRepository) RecordSuccess(ctx context.Context, configID uuid.UUID, webhookName string, latencyMs int64) error {
	args := m.Called(ctx, configID, webhookName, latencyMs)
	return args.Error(0)
}

func (m *MockRepository) RecordFailure(ctx context.Context, configID uuid.UUID, webhookName, reason string) error {
	args := m.Called(ctx, configID, webhookName, reason)
	return args.Error(0)
}

func (m *MockRepository) GetHealthStats(ctx context.Context, configID uuid.UUID) (*WebhookHealthStats, error) {
	args := m.Called(ctx, configID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*WebhookHealthStats), args.Error(1)
}

func (m *MockRepository) ListHealthStats(ctx context.Context) ([]WebhookHealthStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]WebhookHealthStats), args.Error(1)
}

func (m *MockRepository) DeleteOldMessages(ctx context.Context, cutoff time.Time, statuses []MessageStatus, batchSize int) (int64, error) {
	args := m.Called(ctx, cutoff, statuses, batchSize)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) DeleteOldAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	args := m.Called(ctx, cutoff, batchSize)
	return args.Get(0).(int64), args.Error(1)
}
