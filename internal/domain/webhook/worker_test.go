package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testSender() *Sender {
	cfg := DefaultSenderConfig()
	cfg.AllowInsecure = true
	cfg.ConnectTimeout = 2 * time.Second
	cfg.ReadTimeout = 2 * time.Second
	return NewSender(cfg)
}

func testConfig() *WebhookConfig {
	return &WebhookConfig{
		ID:               uuid.New(),
		Name:             "orders",
		TargetURL:        "http://example.invalid/hook",
		Secret:           "s",
		Active:           true,
		MaxRetries:       3,
		BackoffStrategy:  BackoffExponential,
		InitialIntervalS: 1,
		BackoffFactor:    2,
		MaxIntervalS:     3600,
		MaxAgeS:          86400,
	}
}

func testMessage(cfg *WebhookConfig, target string) *Message {
	payload := []byte(`{"a":1}`)
	return &Message{
		ID:              uuid.New(),
		WebhookConfigID: cfg.ID,
		WebhookName:     cfg.Name,
		Payload:         string(payload),
		TargetURL:       target,
		Signature:       Sign(payload, []byte(cfg.Secret)),
		Status:          MessageStatusPending,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
}

func TestWorker_Process_Delivered(t *testing.T) {
	var gotSignature, gotID, gotRetryCount string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotID = r.Header.Get("X-Webhook-ID")
		gotRetryCount = r.Header.Get("X-Webhook-Retry-Count")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig()
	msg := testMessage(cfg, server.URL)

	repo := NewMockRepository()
	repo.On("GetMessageByID", mock.Anything, msg.ID).Return(msg, nil)
	repo.On("GetConfigByID", mock.Anything, cfg.ID).Return(cfg, nil)
	repo.On("MarkProcessing", mock.Anything, msg.ID, "node-1").Return(int64(1), nil)
	repo.On("AppendAttempt", mock.Anything, mock.MatchedBy(func(a *DeliveryAttempt) bool {
		return a.AttemptNumber == 1 && a.StatusCode != nil && *a.StatusCode == 200
	})).Return(nil)
	repo.On("MarkDelivered", mock.Anything, msg.ID).Return(nil)
	repo.On("RecordSuccess", mock.Anything, cfg.ID, cfg.Name, mock.AnythingOfType("int64")).Return(nil)

	worker := NewWorker(repo, testSender(), WorkerConfig{NodeID: "node-1"}, nil)
	err := worker.Process(context.Background(), NewEnvelope(msg.ID, "process"))

	require.NoError(t, err)
	assert.Equal(t, msg.Signature, gotSignature)
	assert.True(t, strings.HasPrefix(gotSignature, "sha256="))
	assert.Equal(t, msg.ID.String(), gotID)
	assert.Empty(t, gotRetryCount, "first attempt must not carry a retry-count header")
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "RecordFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_Process_RetriableStatusSchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig()
	msg := testMessage(cfg, server.URL)
	before := time.Now().UTC()

	repo := NewMockRepository()
	repo.On("GetMessageByID", mock.Anything, msg.ID).Return(msg, nil)
	repo.On("GetConfigByID", mock.Anything, cfg.ID).Return(cfg, nil)
	repo.On("MarkProcessing", mock.Anything, msg.ID, mock.Anything).Return(int64(1), nil)
	repo.On("AppendAttempt", mock.Anything, mock.MatchedBy(func(a *DeliveryAttempt) bool {
		return a.StatusCode != nil && *a.StatusCode == 503
	})).Return(nil)
	repo.On("MarkFailed", mock.Anything, msg.ID, mock.MatchedBy(func(reason string) bool {
		return strings.Contains(reason, "503")
	}), mock.MatchedBy(func(nextRetry *time.Time) bool {
		return nextRetry != nil && nextRetry.After(before)
	})).Return(nil)

	worker := NewWorker(repo, testSender(), WorkerConfig{}, nil)
	err := worker.Process(context.Background(), NewEnvelope(msg.ID, "process"))

	require.NoError(t, err)
	repo.AssertExpectations(t)
	// Scheduled retries are not terminal failures.
	repo.AssertNotCalled(t, "RecordFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_Process_Permanent4xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	cfg := testConfig()
	msg := testMessage(cfg, server.URL)

	repo := NewMockRepository()
	repo.On("GetMessageByID", mock.Anything, msg.ID).Return(msg, nil)
	repo.On("GetConfigByID", mock.Anything, cfg.ID).Return(cfg, nil)
	repo.On("MarkProcessing", mock.Anything, msg.ID, mock.Anything).Return(int64(1), nil)
	repo.On("AppendAttempt", mock.Anything, mock.Anything).Return(nil)
	repo.On("MarkFailed", mock.Anything, msg.ID, mock.MatchedBy(func(reason string) bool {
		return strings.Contains(reason, "400")
	}), (*time.Time)(nil)).Return(nil)
	repo.On("RecordFailure", mock.Anything, cfg.ID, cfg.Name, mock.MatchedBy(func(reason string) bool {
		return strings.Contains(reason, "400")
	})).Return(nil)

	worker := NewWorker(repo, testSender(), WorkerConfig{}, nil)
	err := worker.Process(context.Background(), NewEnvelope(msg.ID, "process"))

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestWorker_Process_ExhaustionIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxRetries = 2
	msg := testMessage(cfg, server.URL)
	msg.RetryCount = 2 // last permitted attempt

	repo := NewMockRepository()
	repo.On("GetMessageByID", mock.Anything, msg.ID).Return(msg, nil)
	repo.On("GetConfigByID", mock.Anything, cfg.ID).Return(cfg, nil)
	repo.On("MarkProcessing", mock.Anything, msg.ID, mock.Anything).Return(int64(1), nil)
	repo.On("AppendAttempt", mock.Anything, mock.MatchedBy(func(a *DeliveryAttempt) bool {
		return a.AttemptNumber == 3
	})).Return(nil)
	repo.On("MarkFailed", mock.Anything, msg.ID, mock.MatchedBy(func(reason string) bool {
		return strings.Contains(reason, "exhausted")
	}), (*time.Time)(nil)).Return(nil)
	repo.On("RecordFailure", mock.Anything, cfg.ID, cfg.Name, mock.Anything).Return(nil)

	worker := NewWorker(repo, testSender(), WorkerConfig{}, nil)
	err := worker.Process(context.Background(), NewEnvelope(msg.ID, "process"))

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestWorker_Process_RetryBudgetOverrunSkipsSend(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	msg := testMessage(cfg, "http://example.invalid/hook")
	msg.RetryCount = 1 // becomes 2 after the retry-channel increment

	repo := NewMockRepository()
	repo.On("GetMessageByID", mock.Anything, msg.ID).Return(msg, nil)
	repo.On("GetConfigByID", mock.Anything, cfg.ID).Return(cfg, nil)
	repo.On("MarkProcessing", mock.Anything, msg.ID, mock.Anything).Return(int64(1), nil)
	repo.On("IncrementRetryCount", mock.Anything, msg.ID).Return(nil)
	repo.On("MarkFailed", mock.Anything, msg.ID, "retries exhausted", (*time.Time)(nil)).Return(nil)
	repo.On("RecordFailure", mock.Anything, cfg.ID, cfg.Name, "retries exhausted").Return(nil)

	worker := NewWorker(repo, testSender(), WorkerConfig{}, nil)
	err := worker.Process(context.Background(), NewEnvelope(msg.ID, "retry"))

	require.NoError(t, err)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "AppendAttempt", mock.Anything, mock.Anything)
}

func TestWorker_Process_ExpiredMessage(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAgeS = 60
	msg := testMessage(cfg, "http://example.invalid/hook")
	msg.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

	repo := NewMockRepository()
	repo.On("GetMessageByID", mock.Anything, msg.ID).Return(msg, nil)
	repo.On("GetConfigByID", mock.Anything, cfg.ID).Return(cfg, nil)
	repo.On("MarkProcessing", mock.Anything, msg.ID, mock.Anything).Return(int64(1), nil)
	repo.On("MarkFailed", mock.Anything, msg.ID, "message expired", (*time.Time)(nil)).Return(nil)
	repo.On("RecordFailure", mock.Anything, cfg.ID, cfg.Name, "message expired").Return(nil)

	worker := NewWorker(repo, testSender(), WorkerConfig{}, nil)
	err := worker.Process(context.Background(), NewEnvelope(msg.ID, "process"))

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestWorker_Process_InactiveConfigCancels(t *testing.T) {
	cfg := testConfig()
	cfg.Active = false
	msg := testMessage(cfg, "http://example.invalid/hook")

	repo := NewMockRepository()
	repo.On("GetMessageByID", mock.Anything, msg.ID).Return(msg, nil)
	repo.On("GetConfigByID", mock.Anything, cfg.ID).Return(cfg, nil)
	repo.On("CancelMessage", mock.Anything, msg.ID).Return(true, nil)

	worker := NewWorker(repo, testSender(), WorkerConfig{}, nil)
	err := worker.Process(context.Background(), NewEnvelope(msg.ID, "process"))

	require.NoError(t, err)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_Process_LostClaimRaceDrops(t *testing.T) {
	cfg := testConfig()
	msg := testMessage(cfg, "http://example.invalid/hook")

	repo := NewMockRepository()
	repo.On("GetMessageByID", mock.Anything, msg.ID).Return(msg, nil)
	repo.On("GetConfigByID", mock.Anything, cfg.ID).Return(cfg, nil)
	repo.On("MarkProcessing", mock.Anything, msg.ID, mock.Anything).Return(int64(0), nil)

	worker := NewWorker(repo, testSender(), WorkerConfig{}, nil)
	err := worker.Process(context.Background(), NewEnvelope(msg.ID, "process"))

	require.NoError(t, err)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "AppendAttempt", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything)
}

func TestWorker_Process_MissingMessageDrops(t *testing.T) {
	id := uuid.New()
	repo := NewMockRepository()
	repo.On("GetMessageByID", mock.Anything, id).Return(nil, nil)

	worker := NewWorker(repo, testSender(), WorkerConfig{}, nil)
	err := worker.Process(context.Background(), NewEnvelope(id, "process"))

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestWorker_Process_ConnectionErrorSchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close() // refuse connections from now on

	cfg := testConfig()
	msg := testMessage(cfg, target)

	repo := NewMockRepository()
	repo.On("GetMessageByID", mock.Anything, msg.ID).Return(msg, nil)
	repo.On("GetConfigByID", mock.Anything, cfg.ID).Return(cfg, nil)
	repo.On("MarkProcessing", mock.Anything, msg.ID, mock.Anything).Return(int64(1), nil)
	repo.On("AppendAttempt", mock.Anything, mock.MatchedBy(func(a *DeliveryAttempt) bool {
		return a.StatusCode == nil && a.Error != ""
	})).Return(nil)
	repo.On("MarkFailed", mock.Anything, msg.ID, mock.Anything, mock.MatchedBy(func(nextRetry *time.Time) bool {
		return nextRetry != nil
	})).Return(nil)

	worker := NewWorker(repo, testSender(), WorkerConfig{}, nil)
	err := worker.Process(context.Background(), NewEnvelope(msg.ID, "process"))

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestWorker_Process_TargetedAtOtherNodeSkips(t *testing.T) {
	repo := NewMockRepository()
	worker := NewWorker(repo, testSender(), WorkerConfig{NodeID: "node-a"}, nil)

	env := NewEnvelope(uuid.New(), "process")
	env.TargetNode = "node-b"
	err := worker.Process(context.Background(), env)

	require.NoError(t, err)
	repo.AssertNotCalled(t, "GetMessageByID", mock.Anything, mock.Anything)
}

func TestIsRetriableError(t *testing.T) {
	assert.False(t, isRetriableError(nil))
	assert.False(t, isRetriableError(errors.New("schema validation failed")))
	assert.True(t, isRetriableError(context.DeadlineExceeded))
	assert.True(t, isRetriableError(&net.DNSError{Err: "no such host", Name: "example.invalid"}))
	assert.True(t, isRetriableError(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))
}
