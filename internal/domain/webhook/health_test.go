package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	err error
}

func (p *fakeProbe) Ping(ctx context.Context) error {
	return p.err
}

func TestWebhookHealthStats_SuccessRate(t *testing.T) {
	stats := &WebhookHealthStats{}
	_, ok := stats.SuccessRate()
	assert.False(t, ok, "rate is undefined with no sends")

	stats.TotalSent = 10
	stats.TotalDelivered = 8
	rate, ok := stats.SuccessRate()
	require.True(t, ok)
	assert.InDelta(t, 80.0, rate, 0.001)
}

func TestWebhookHealthStats_IsUnhealthy(t *testing.T) {
	tests := []struct {
		name      string
		sent      int64
		delivered int64
		want      bool
	}{
		{"below minimum volume", 4, 0, false},
		{"healthy above threshold", 10, 9, false},
		{"exactly at threshold", 10, 8, false},
		{"unhealthy below threshold", 10, 7, true},
		{"all failing", 20, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := &WebhookHealthStats{
				TotalSent:      tt.sent,
				TotalDelivered: tt.delivered,
				TotalFailed:    tt.sent - tt.delivered,
			}
			assert.Equal(t, tt.want, stats.IsUnhealthy(5, 80.0))
		})
	}
}

func TestHealthMonitor_ServiceHealth(t *testing.T) {
	healthyStats := WebhookHealthStats{WebhookName: "a", TotalSent: 10, TotalDelivered: 10}
	sickStats := WebhookHealthStats{WebhookName: "b", TotalSent: 10, TotalDelivered: 2, TotalFailed: 8}

	t.Run("healthy", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("CountMessagesByStatus", mock.Anything, MessageStatusPending).Return(int64(3), nil)
		repo.On("ListHealthStats", mock.Anything).Return([]WebhookHealthStats{healthyStats}, nil)

		monitor := NewHealthMonitor(repo, &fakeProbe{}, DefaultHealthMonitorConfig())
		report := monitor.ServiceHealth(context.Background())

		assert.Equal(t, ServiceHealthy, report.Status)
		assert.Equal(t, int64(3), report.PendingMessages)
		require.NotNil(t, report.BrokerAvailable)
		assert.True(t, *report.BrokerAvailable)
	})

	t.Run("degraded by unhealthy webhook", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("CountMessagesByStatus", mock.Anything, MessageStatusPending).Return(int64(0), nil)
		repo.On("ListHealthStats", mock.Anything).Return([]WebhookHealthStats{healthyStats, sickStats}, nil)

		monitor := NewHealthMonitor(repo, &fakeProbe{}, DefaultHealthMonitorConfig())
		report := monitor.ServiceHealth(context.Background())

		assert.Equal(t, ServiceDegraded, report.Status)
		assert.Equal(t, 1, report.UnhealthyWebhooks)
	})

	t.Run("degraded by pending backlog", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("CountMessagesByStatus", mock.Anything, MessageStatusPending).Return(int64(5000), nil)
		repo.On("ListHealthStats", mock.Anything).Return([]WebhookHealthStats{}, nil)

		monitor := NewHealthMonitor(repo, &fakeProbe{}, DefaultHealthMonitorConfig())
		report := monitor.ServiceHealth(context.Background())

		assert.Equal(t, ServiceDegraded, report.Status)
	})

	t.Run("unhealthy when broker is down in broker mode", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("CountMessagesByStatus", mock.Anything, MessageStatusPending).Return(int64(0), nil)
		repo.On("ListHealthStats", mock.Anything).Return([]WebhookHealthStats{}, nil)

		monitor := NewHealthMonitor(repo, &fakeProbe{err: errors.New("redis down")}, DefaultHealthMonitorConfig())
		report := monitor.ServiceHealth(context.Background())

		assert.Equal(t, ServiceUnhealthy, report.Status)
		require.NotNil(t, report.BrokerAvailable)
		assert.False(t, *report.BrokerAvailable)
	})

	t.Run("direct mode skips broker probe", func(t *testing.T) {
		repo := NewMockRepository()
		repo.On("CountMessagesByStatus", mock.Anything, MessageStatusPending).Return(int64(0), nil)
		repo.On("ListHealthStats", mock.Anything).Return([]WebhookHealthStats{}, nil)

		cfg := DefaultHealthMonitorConfig()
		cfg.DirectMode = true
		monitor := NewHealthMonitor(repo, nil, cfg)
		report := monitor.ServiceHealth(context.Background())

		assert.Equal(t, ServiceHealthy, report.Status)
		assert.Nil(t, report.BrokerAvailable)
	})
}
