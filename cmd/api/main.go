package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mimi6060/hookrelay/internal/config"
	"github.com/mimi6060/hookrelay/internal/domain/webhook"
	"github.com/mimi6060/hookrelay/internal/infrastructure/cache"
	"github.com/mimi6060/hookrelay/internal/infrastructure/database"
	"github.com/mimi6060/hookrelay/internal/infrastructure/logging"
	"github.com/mimi6060/hookrelay/internal/infrastructure/metrics"
	"github.com/mimi6060/hookrelay/internal/infrastructure/queue"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: "hookrelay-api",
		Version:     version,
	})

	log.Info().Str("environment", cfg.Environment).Msg("Starting Hookrelay API...")

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	repo := webhook.NewRepository(db)
	m := metrics.NewMetrics("hookrelay")

	sender := webhook.NewSender(webhook.SenderConfig{
		ConnectTimeout: time.Duration(cfg.ConnectionTimeoutMs) * time.Millisecond,
		ReadTimeout:    time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
		MaxResponseLen: cfg.MaxResponseLogLength,
		AllowInsecure:  cfg.AllowInsecureTargets,
		UserAgent:      "Hookrelay/" + version,
	})
	defer sender.Close()

	topics := webhook.Topics{
		Events:    cfg.WebhookEventsTopic,
		Retries:   cfg.WebhookRetriesTopic,
		Balancing: cfg.WebhookBalancingTopic,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dispatcher webhook.Dispatcher
	var brokerProbe webhook.BrokerProbe

	if cfg.DirectMode {
		direct := webhook.NewDirectDispatcher(cfg.MaxInFlight,
			time.Duration(cfg.ProducerSendTimeoutMs)*time.Millisecond)
		dispatcher = direct
		startDirectMode(ctx, cfg, repo, sender, direct, m)
	} else {
		rdb, err := cache.Connect(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		brokerProbe = cache.NewBrokerProbe(rdb)

		client, err := queue.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create broker client")
		}
		dispatcher = webhook.NewBrokerDispatcher(client, topics,
			cfg.ProducerSyncSend, time.Duration(cfg.ProducerSendTimeoutMs)*time.Millisecond)
	}
	defer dispatcher.Close()

	service := webhook.NewService(repo, dispatcher, sender, webhook.ServiceConfig{
		SecretLength:     32,
		DefaultPolicy:    webhook.DefaultServiceConfig().DefaultPolicy,
		MaxPayloadLogLen: cfg.MaxPayloadLogLength,
	})

	healthMonitor := webhook.NewHealthMonitor(repo, brokerProbe, webhook.HealthMonitorConfig{
		MinSent:        int64(cfg.HealthMinSent),
		MinSuccessRate: cfg.HealthMinSuccessRate,
		DirectMode:     cfg.DirectMode,
	})

	handler := webhook.NewHandler(service, healthMonitor)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logging.GinLogger(), logging.GinRecovery())
	handler.RegisterRoutes(router.Group("/api/v1"))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	go observeBacklog(ctx, repo, m)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Shutdown complete")
}

// startDirectMode runs the delivery engine inside the API process: the
// in-process queue consumers, the retry scheduler, and maintenance.
func startDirectMode(ctx context.Context, cfg *config.Config, repo webhook.Repository,
	sender *webhook.Sender, direct *webhook.DirectDispatcher, m *metrics.Metrics) {

	worker := webhook.NewWorker(repo, sender, webhook.WorkerConfig{
		NodeID:                 cfg.NodeIdentifier,
		DestinationURLOverride: cfg.DestinationURLOverride,
		MaxPayloadLogLen:       cfg.MaxPayloadLogLength,
		SlowThreshold:          time.Duration(cfg.SlowExecutionThresholdMs) * time.Millisecond,
		CriticalThreshold:      time.Duration(cfg.CriticalExecutionThresholdMs) * time.Millisecond,
	}, m)

	for i := 0; i < cfg.WorkerConcurrency; i++ {
		go direct.Consume(ctx, func(ctx context.Context, env webhook.Envelope) {
			if err := worker.Process(ctx, env); err != nil {
				log.Error().Err(err).Str("message_id", env.MessageID).Msg("Delivery cycle failed")
			}
		})
	}

	scheduler := webhook.NewRetryScheduler(repo, direct, webhook.RetrySchedulerConfig{
		Interval:  time.Duration(cfg.RetrySchedulerIntervalMs) * time.Millisecond,
		BatchSize: cfg.RetryBatchSize,
	})
	go scheduler.Run(ctx)

	// Startup recovery: re-enqueue messages left PENDING by a lost publish.
	go func() {
		if _, err := scheduler.SweepPending(ctx); err != nil {
			log.Error().Err(err).Msg("Startup pending sweep failed")
		}
	}()

	maintenance := webhook.NewMaintenance(repo, webhook.MaintenanceConfig{
		StuckThreshold:     time.Duration(cfg.StuckThresholdMin) * time.Minute,
		StuckRetryOffset:   time.Duration(cfg.StuckNextRetryOffsetMin) * time.Minute,
		CleanupEnabled:     cfg.CleanupEnabled,
		DeliveredRetention: time.Duration(cfg.DeliveredRetentionDays) * 24 * time.Hour,
		FailedRetention:    time.Duration(cfg.FailedRetentionDays) * 24 * time.Hour,
		CancelledRetention: time.Duration(cfg.CancelledRetentionDays) * 24 * time.Hour,
		AttemptsRetention:  time.Duration(cfg.AttemptsRetentionDays) * 24 * time.Hour,
		CleanupBatchSize:   cfg.CleanBatchSize,
	})
	go runMaintenanceLoops(ctx, cfg, maintenance)

	log.Info().Int("workers", cfg.WorkerConcurrency).Msg("Direct mode delivery engine started")
}

func runMaintenanceLoops(ctx context.Context, cfg *config.Config, maintenance *webhook.Maintenance) {
	stuckTicker := time.NewTicker(time.Duration(cfg.StuckDetectorIntervalMin) * time.Minute)
	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer stuckTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stuckTicker.C:
			if _, err := maintenance.RecoverStuck(ctx); err != nil {
				log.Error().Err(err).Msg("Stuck recovery failed")
			}
		case <-cleanupTicker.C:
			if _, err := maintenance.Cleanup(ctx); err != nil {
				log.Error().Err(err).Msg("Retention cleanup failed")
			}
		}
	}
}

// observeBacklog refreshes the backlog gauges on a slow cadence
func observeBacklog(ctx context.Context, repo webhook.Repository, m *metrics.Metrics) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pending, err := repo.CountMessagesByStatus(ctx, webhook.MessageStatusPending); err == nil {
				m.MessagesPending.Set(float64(pending))
			}
			if failed, err := repo.CountMessagesByStatus(ctx, webhook.MessageStatusFailed); err == nil {
				m.RetryQueueDepth.Set(float64(failed))
			}
		}
	}
}
