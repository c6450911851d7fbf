package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMaintenance_RecoverStuck(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	before := time.Now().UTC()

	repo := NewMockRepository()
	repo.On("FindStuckMessages", mock.Anything, mock.MatchedBy(func(threshold time.Time) bool {
		// threshold ~ now - 30m
		return threshold.Before(before.Add(-29 * time.Minute))
	})).Return(ids, nil)
	for _, id := range ids {
		repo.On("MarkFailed", mock.Anything, id, "recovered from stuck",
			mock.MatchedBy(func(nextRetry *time.Time) bool {
				// next retry ~ now + 5m
				return nextRetry != nil && nextRetry.After(before.Add(4*time.Minute))
			})).Return(nil)
	}

	maintenance := NewMaintenance(repo, DefaultMaintenanceConfig())
	recovered, err := maintenance.RecoverStuck(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, recovered)
	repo.AssertExpectations(t)
}

func TestMaintenance_Cleanup(t *testing.T) {
	t.Run("deletes per status with configured retention", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("DeleteOldMessages", mock.Anything, mock.Anything,
			[]MessageStatus{MessageStatusDelivered}, 500).Return(int64(10), nil)
		repo.On("DeleteOldMessages", mock.Anything, mock.Anything,
			[]MessageStatus{MessageStatusFailed}, 500).Return(int64(4), nil)
		repo.On("DeleteOldMessages", mock.Anything, mock.Anything,
			[]MessageStatus{MessageStatusCancelled}, 500).Return(int64(1), nil)
		repo.On("DeleteOldAttempts", mock.Anything, mock.Anything, 500).Return(int64(25), nil)

		maintenance := NewMaintenance(repo, DefaultMaintenanceConfig())
		result, err := maintenance.Cleanup(context.Background())

		require.NoError(t, err)
		assert.Equal(t, int64(10), result.DeliveredDeleted)
		assert.Equal(t, int64(4), result.FailedDeleted)
		assert.Equal(t, int64(1), result.CancelledDeleted)
		assert.Equal(t, int64(25), result.AttemptsDeleted)
	})

	t.Run("disabled cleanup is a no-op", func(t *testing.T) {
		repo := NewMockRepository()
		cfg := DefaultMaintenanceConfig()
		cfg.CleanupEnabled = false

		maintenance := NewMaintenance(repo, cfg)
		result, err := maintenance.Cleanup(context.Background())

		require.NoError(t, err)
		assert.Zero(t, result.DeliveredDeleted)
		repo.AssertNotCalled(t, "DeleteOldMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
