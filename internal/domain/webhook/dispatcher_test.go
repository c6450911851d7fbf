package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/mimi6060/hookrelay/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectDispatcher_DeliversToConsumer(t *testing.T) {
	dispatcher := NewDirectDispatcher(8, time.Second)
	defer dispatcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := make(map[string]string)
	done := make(chan struct{})

	go dispatcher.Consume(ctx, func(ctx context.Context, env Envelope) {
		mu.Lock()
		received[env.MessageID] = env.Operation
		if len(received) == 2 {
			close(done)
		}
		mu.Unlock()
	})

	eventID := uuid.New()
	retryID := uuid.New()
	require.NoError(t, dispatcher.PublishEvent(ctx, eventID))
	require.NoError(t, dispatcher.PublishRetry(ctx, retryID))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not receive envelopes")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "process", received[eventID.String()])
	assert.Equal(t, "retry", received[retryID.String()])
}

func TestDirectDispatcher_OverloadFailsFast(t *testing.T) {
	dispatcher := NewDirectDispatcher(1, 20*time.Millisecond)
	defer dispatcher.Close()

	ctx := context.Background()
	require.NoError(t, dispatcher.PublishEvent(ctx, uuid.New()))

	// No consumer: the second publish must time out with an overload error.
	err := dispatcher.PublishEvent(ctx, uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeOverloaded, apperrors.FromError(err).Code)
}

func TestDirectDispatcher_ClosedRejectsPublish(t *testing.T) {
	dispatcher := NewDirectDispatcher(4, time.Second)
	require.NoError(t, dispatcher.Close())

	err := dispatcher.PublishEvent(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTransportUnavailable, apperrors.FromError(err).Code)
}

func TestNewEnvelope(t *testing.T) {
	id := uuid.New()
	env := NewEnvelope(id, "process")

	assert.Equal(t, id.String(), env.MessageID)
	assert.Equal(t, "process", env.Operation)
	assert.NotEmpty(t, env.UUID)
	assert.InDelta(t, time.Now().UTC().UnixMilli(), env.Timestamp, 5000)
}
