package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Latency int64  `json:"latency_ms"`
	Message string `json:"message,omitempty"`
}

// HealthReport represents the overall health of the process
type HealthReport struct {
	Status     Status            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version"`
	Components []ComponentHealth `json:"components"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) ComponentHealth
}

// HealthChecker aggregates multiple health checks
type HealthChecker struct {
	version  string
	checkers []Checker
	mu       sync.RWMutex
}

// NewHealthChecker creates a new HealthChecker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:  version,
		checkers: make([]Checker, 0),
	}
}

// Register adds a new health checker
func (h *HealthChecker) Register(checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

// Check performs all registered health checks
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	report := HealthReport{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC(),
		Version:    h.version,
		Components: make([]ComponentHealth, 0, len(h.checkers)),
	}

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(h.checkers))

	for _, checker := range h.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			results <- c.Check(ctx)
		}(checker)
	}

	wg.Wait()
	close(results)

	for result := range results {
		report.Components = append(report.Components, result)
		if result.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
		} else if result.Status == StatusDegraded && report.Status != StatusUnhealthy {
			report.Status = StatusDegraded
		}
	}

	return report
}

// DatabaseChecker checks PostgreSQL health
type DatabaseChecker struct {
	db *gorm.DB
}

// NewDatabaseChecker creates a new DatabaseChecker
func NewDatabaseChecker(db *gorm.DB) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "postgres"
}

func (c *DatabaseChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	health := ComponentHealth{Name: c.Name(), Status: StatusHealthy}

	sqlDB, err := c.db.DB()
	if err != nil {
		health.Status = StatusUnhealthy
		health.Message = err.Error()
		health.Latency = time.Since(start).Milliseconds()
		return health
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(checkCtx); err != nil {
		health.Status = StatusUnhealthy
		health.Message = err.Error()
	}
	health.Latency = time.Since(start).Milliseconds()
	return health
}

// RedisChecker checks broker/Redis health
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new RedisChecker
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string {
	return "redis"
}

func (c *RedisChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	health := ComponentHealth{Name: c.Name(), Status: StatusHealthy}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(checkCtx).Err(); err != nil {
		health.Status = StatusUnhealthy
		health.Message = err.Error()
	}
	health.Latency = time.Since(start).Milliseconds()
	return health
}
