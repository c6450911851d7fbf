package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRetryScheduler_Tick(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	t.Run("enqueues all due messages", func(t *testing.T) {
		repo := NewMockRepository()
		dispatcher := NewMockDispatcher()
		repo.On("FindMessagesForRetry", mock.Anything, mock.Anything, 50).Return(ids, nil)
		for _, id := range ids {
			dispatcher.On("PublishRetry", mock.Anything, id).Return(nil)
		}

		scheduler := NewRetryScheduler(repo, dispatcher, DefaultRetrySchedulerConfig())
		enqueued, err := scheduler.Tick(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 3, enqueued)
		dispatcher.AssertExpectations(t)
	})

	t.Run("continues past individual publish failures", func(t *testing.T) {
		repo := NewMockRepository()
		dispatcher := NewMockDispatcher()
		repo.On("FindMessagesForRetry", mock.Anything, mock.Anything, 50).Return(ids, nil)
		dispatcher.On("PublishRetry", mock.Anything, ids[0]).Return(nil)
		dispatcher.On("PublishRetry", mock.Anything, ids[1]).Return(errors.New("broker down"))
		dispatcher.On("PublishRetry", mock.Anything, ids[2]).Return(nil)

		scheduler := NewRetryScheduler(repo, dispatcher, DefaultRetrySchedulerConfig())
		enqueued, err := scheduler.Tick(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 2, enqueued)
	})

	t.Run("propagates query errors", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("FindMessagesForRetry", mock.Anything, mock.Anything, 50).
			Return(nil, errors.New("db down"))

		scheduler := NewRetryScheduler(repo, NewMockDispatcher(), DefaultRetrySchedulerConfig())
		_, err := scheduler.Tick(context.Background())
		assert.Error(t, err)
	})
}

func TestRetryScheduler_SweepPending(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	repo := NewMockRepository()
	dispatcher := NewMockDispatcher()
	repo.On("FindPendingMessages", mock.Anything, 50).Return(ids, nil)
	for _, id := range ids {
		dispatcher.On("PublishEvent", mock.Anything, id).Return(nil)
	}

	scheduler := NewRetryScheduler(repo, dispatcher, DefaultRetrySchedulerConfig())
	enqueued, err := scheduler.SweepPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)
	dispatcher.AssertExpectations(t)
}

func TestRetryScheduler_Run_StopsOnCancel(t *testing.T) {
	repo := NewMockRepository()
	dispatcher := NewMockDispatcher()
	repo.On("FindMessagesForRetry", mock.Anything, mock.Anything, mock.Anything).
		Return([]uuid.UUID{}, nil).Maybe()

	scheduler := NewRetryScheduler(repo, dispatcher, RetrySchedulerConfig{
		Interval:  10 * time.Millisecond,
		BatchSize: 10,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}
