package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/mimi6060/hookrelay/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestService(repo Repository, dispatcher Dispatcher) *Service {
	return NewService(repo, dispatcher, testSender(), DefaultServiceConfig())
}

func TestService_Receive(t *testing.T) {
	cfg := testConfig()

	t.Run("accepts event and enqueues it", func(t *testing.T) {
		repo := NewMockRepository()
		dispatcher := NewMockDispatcher()

		var inserted *Message
		repo.On("GetActiveConfigByName", mock.Anything, "orders").Return(cfg, nil)
		repo.On("InsertMessage", mock.Anything, mock.MatchedBy(func(m *Message) bool {
			inserted = m
			return m.Status == MessageStatusPending && m.RetryCount == 0
		})).Return(nil)
		dispatcher.On("PublishEvent", mock.Anything, mock.AnythingOfType("uuid.UUID")).Return(nil)

		service := newTestService(repo, dispatcher)
		resp, err := service.Receive(context.Background(), "orders", ReceiveRequest{
			Payload: map[string]interface{}{"a": 1},
		})

		require.NoError(t, err)
		assert.Equal(t, "pending", resp.Status)
		require.NotNil(t, inserted)
		assert.Equal(t, resp.MessageID, inserted.ID)
		assert.Equal(t, `{"a":1}`, inserted.Payload)
		assert.Equal(t, Sign([]byte(`{"a":1}`), []byte(cfg.Secret)), inserted.Signature)
		assert.Equal(t, cfg.TargetURL, inserted.TargetURL)
		dispatcher.AssertExpectations(t)
	})

	t.Run("unknown webhook", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("GetActiveConfigByName", mock.Anything, "ghost").Return(nil, nil)

		service := newTestService(repo, NewMockDispatcher())
		_, err := service.Receive(context.Background(), "ghost", ReceiveRequest{
			Payload: map[string]interface{}{"a": 1},
		})

		require.Error(t, err)
		appErr := apperrors.FromError(err)
		assert.Equal(t, apperrors.ErrCodeWebhookNotFound, appErr.Code)
	})

	t.Run("nil payload rejected", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("GetActiveConfigByName", mock.Anything, "orders").Return(cfg, nil)

		service := newTestService(repo, NewMockDispatcher())
		_, err := service.Receive(context.Background(), "orders", ReceiveRequest{})

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidPayload, apperrors.FromError(err).Code)
	})

	t.Run("request target_url overrides config", func(t *testing.T) {
		repo := NewMockRepository()
		dispatcher := NewMockDispatcher()
		repo.On("GetActiveConfigByName", mock.Anything, "orders").Return(cfg, nil)
		repo.On("InsertMessage", mock.Anything, mock.MatchedBy(func(m *Message) bool {
			return m.TargetURL == "https://other.example.com/hook"
		})).Return(nil)
		dispatcher.On("PublishEvent", mock.Anything, mock.Anything).Return(nil)

		service := newTestService(repo, dispatcher)
		_, err := service.Receive(context.Background(), "orders", ReceiveRequest{
			Payload:   map[string]interface{}{"a": 1},
			TargetURL: "https://other.example.com/hook",
		})
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("verifies a provided signature", func(t *testing.T) {
		repo := NewMockRepository()
		dispatcher := NewMockDispatcher()
		repo.On("GetActiveConfigByName", mock.Anything, "orders").Return(cfg, nil)
		repo.On("InsertMessage", mock.Anything, mock.Anything).Return(nil)
		dispatcher.On("PublishEvent", mock.Anything, mock.Anything).Return(nil)

		service := newTestService(repo, dispatcher)
		_, err := service.Receive(context.Background(), "orders", ReceiveRequest{
			Payload:   map[string]interface{}{"a": 1},
			Signature: Sign([]byte(`{"a":1}`), []byte(cfg.Secret)),
		})
		require.NoError(t, err)
	})

	t.Run("rejects a mismatched signature", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("GetActiveConfigByName", mock.Anything, "orders").Return(cfg, nil)

		service := newTestService(repo, NewMockDispatcher())
		_, err := service.Receive(context.Background(), "orders", ReceiveRequest{
			Payload:   map[string]interface{}{"a": 1},
			Signature: Sign([]byte(`{"a":1}`), []byte("wrong-secret")),
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidSignature, apperrors.FromError(err).Code)
		repo.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
	})

	t.Run("publish failure still accepts the message", func(t *testing.T) {
		repo := NewMockRepository()
		dispatcher := NewMockDispatcher()
		repo.On("GetActiveConfigByName", mock.Anything, "orders").Return(cfg, nil)
		repo.On("InsertMessage", mock.Anything, mock.Anything).Return(nil)
		dispatcher.On("PublishEvent", mock.Anything, mock.Anything).
			Return(apperrors.ErrTransportUnavailable)

		service := newTestService(repo, dispatcher)
		resp, err := service.Receive(context.Background(), "orders", ReceiveRequest{
			Payload: map[string]interface{}{"a": 1},
		})

		require.NoError(t, err)
		assert.Equal(t, "pending", resp.Status)
	})
}

func TestService_CancelMessage(t *testing.T) {
	id := uuid.New()

	t.Run("cancels a waiting message", func(t *testing.T) {
		nextRetry := time.Now().UTC().Add(30 * time.Second)
		repo := NewMockRepository()
		repo.On("GetMessageByID", mock.Anything, id).Return(&Message{
			ID:          id,
			Status:      MessageStatusFailed,
			NextRetryAt: &nextRetry,
		}, nil)
		repo.On("CancelMessage", mock.Anything, id).Return(true, nil)

		service := newTestService(repo, NewMockDispatcher())
		require.NoError(t, service.CancelMessage(context.Background(), id))
		repo.AssertExpectations(t)
	})

	t.Run("terminal message cannot be cancelled", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("GetMessageByID", mock.Anything, id).Return(&Message{
			ID:     id,
			Status: MessageStatusDelivered,
		}, nil)
		repo.On("CancelMessage", mock.Anything, id).Return(false, nil)

		service := newTestService(repo, NewMockDispatcher())
		err := service.CancelMessage(context.Background(), id)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeMessageTerminal, apperrors.FromError(err).Code)
	})

	t.Run("missing message", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("GetMessageByID", mock.Anything, id).Return(nil, nil)

		service := newTestService(repo, NewMockDispatcher())
		err := service.CancelMessage(context.Background(), id)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeMessageNotFound, apperrors.FromError(err).Code)
	})
}

func TestService_RetryMessage(t *testing.T) {
	id := uuid.New()

	t.Run("re-schedules a failed message", func(t *testing.T) {
		repo := NewMockRepository()
		dispatcher := NewMockDispatcher()
		repo.On("GetMessageByID", mock.Anything, id).Return(&Message{
			ID:     id,
			Status: MessageStatusFailed,
		}, nil)
		repo.On("ScheduleRetryNow", mock.Anything, id).Return(true, nil)
		dispatcher.On("PublishRetry", mock.Anything, id).Return(nil)

		service := newTestService(repo, dispatcher)
		require.NoError(t, service.RetryMessage(context.Background(), id))
		dispatcher.AssertExpectations(t)
	})

	t.Run("delivered message is not replayed", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("GetMessageByID", mock.Anything, id).Return(&Message{
			ID:     id,
			Status: MessageStatusDelivered,
		}, nil)

		service := newTestService(repo, NewMockDispatcher())
		err := service.RetryMessage(context.Background(), id)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeConflict, apperrors.FromError(err).Code)
	})
}

func TestService_BulkRetry(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	t.Run("by time range", func(t *testing.T) {
		repo := NewMockRepository()
		dispatcher := NewMockDispatcher()
		repo.On("FindFailedMessages", mock.Anything, mock.Anything, 100).Return(ids, nil)
		for _, id := range ids {
			repo.On("ScheduleRetryNow", mock.Anything, id).Return(true, nil)
			dispatcher.On("PublishRetry", mock.Anything, id).Return(nil)
		}

		service := newTestService(repo, dispatcher)
		retried, err := service.BulkRetry(context.Background(), BulkRetryRequest{})
		require.NoError(t, err)
		assert.Equal(t, 3, retried)
	})

	t.Run("explicit ids, races tolerated", func(t *testing.T) {
		repo := NewMockRepository()
		dispatcher := NewMockDispatcher()
		repo.On("ScheduleRetryNow", mock.Anything, ids[0]).Return(true, nil)
		repo.On("ScheduleRetryNow", mock.Anything, ids[1]).Return(false, nil) // no longer FAILED
		dispatcher.On("PublishRetry", mock.Anything, ids[0]).Return(nil)

		service := newTestService(repo, dispatcher)
		retried, err := service.BulkRetry(context.Background(), BulkRetryRequest{
			MessageIDs: ids[:2],
		})
		require.NoError(t, err)
		assert.Equal(t, 1, retried)
	})
}

func TestService_CreateConfig(t *testing.T) {
	t.Run("creates with generated secret", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("GetConfigByName", mock.Anything, "orders").Return(nil, nil)
		repo.On("CreateConfig", mock.Anything, mock.MatchedBy(func(cfg *WebhookConfig) bool {
			return cfg.Name == "orders" && cfg.Active && cfg.Secret != ""
		})).Return(nil)

		service := newTestService(repo, NewMockDispatcher())
		created, err := service.CreateConfig(context.Background(), CreateConfigRequest{
			Name:      "orders",
			TargetURL: "https://example.com/hook",
		})

		require.NoError(t, err)
		assert.Contains(t, created.Secret, "whsec_")
		assert.Equal(t, BackoffExponential, created.BackoffStrategy)
	})

	t.Run("rejects invalid name", func(t *testing.T) {
		service := newTestService(NewMockRepository(), NewMockDispatcher())
		_, err := service.CreateConfig(context.Background(), CreateConfigRequest{
			Name:      "bad name!",
			TargetURL: "https://example.com/hook",
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidName, apperrors.FromError(err).Code)
	})

	t.Run("duplicate name", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("GetConfigByName", mock.Anything, "orders").Return(testConfig(), nil)

		service := newTestService(repo, NewMockDispatcher())
		_, err := service.CreateConfig(context.Background(), CreateConfigRequest{
			Name:      "orders",
			TargetURL: "https://example.com/hook",
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeAlreadyExists, apperrors.FromError(err).Code)
	})

	t.Run("rejects inverted interval bounds", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("GetConfigByName", mock.Anything, "orders").Return(nil, nil)

		initial := 600
		max := 60
		service := newTestService(repo, NewMockDispatcher())
		_, err := service.CreateConfig(context.Background(), CreateConfigRequest{
			Name:             "orders",
			TargetURL:        "https://example.com/hook",
			InitialIntervalS: &initial,
			MaxIntervalS:     &max,
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.FromError(err).Code)
	})
}

func TestService_DeactivateConfig(t *testing.T) {
	cfg := testConfig()
	repo := NewMockRepository()
	repo.On("GetConfigByName", mock.Anything, "orders").Return(cfg, nil)
	repo.On("UpdateConfig", mock.Anything, mock.MatchedBy(func(c *WebhookConfig) bool {
		return !c.Active
	})).Return(nil)

	service := newTestService(repo, NewMockDispatcher())
	require.NoError(t, service.DeactivateConfig(context.Background(), "orders"))
	repo.AssertExpectations(t)
}
