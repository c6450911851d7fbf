package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Connect opens a Redis connection and verifies it with a ping
func Connect(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("Connected to Redis")
	return client, nil
}

// BrokerProbe adapts a Redis client to the health monitor's probe
type BrokerProbe struct {
	client *redis.Client
}

// NewBrokerProbe creates a probe over the broker's Redis connection
func NewBrokerProbe(client *redis.Client) *BrokerProbe {
	return &BrokerProbe{client: client}
}

// Ping checks broker availability
func (p *BrokerProbe) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
