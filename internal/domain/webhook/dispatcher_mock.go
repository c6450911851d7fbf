package webhook

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockDispatcher is a mock implementation of the Dispatcher interface
type MockDispatcher struct {
	mock.Mock
}

// Ensure MockDispatcher implements Dispatcher interface
var _ Dispatcher = (*MockDispatcher)(nil)

func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{}
}

func (m *MockDispatcher) PublishEvent(ctx context.Context, messageID uuid.UUID) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MockDispatcher) PublishRetry(ctx context.Context, messageID uuid.UUID) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MockDispatcher) PublishBalancing(ctx context.Context, messageID uuid.UUID, operation, targetNode string) error {
	args := m.Called(ctx, messageID, operation, targetNode)
	return args.Error(0)
}

func (m *MockDispatcher) Close() error {
	args := m.Called()
	return args.Error(0)
}
