package main

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/mimi6060/hookrelay/internal/config"
	"github.com/mimi6060/hookrelay/internal/domain/webhook"
	"github.com/mimi6060/hookrelay/internal/infrastructure/database"
	"github.com/mimi6060/hookrelay/internal/infrastructure/logging"
	"github.com/mimi6060/hookrelay/internal/infrastructure/metrics"
	"github.com/mimi6060/hookrelay/internal/infrastructure/queue"
	"github.com/mimi6060/hookrelay/internal/jobs"
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
		ServiceName: "hookrelay-worker",
		Version:     version,
	})

	if cfg.DirectMode {
		log.Fatal().Msg("The worker process is only used in broker mode; in direct mode the API process delivers")
	}

	log.Info().Str("environment", cfg.Environment).Msg("Starting Hookrelay Worker...")

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	repo := webhook.NewRepository(db)
	m := metrics.NewMetrics("hookrelay_worker")

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

	// The scheduler publishes retries back through the broker.
	client, err := queue.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create broker client")
	}
	defer client.Close()
	dispatcher := webhook.NewBrokerDispatcher(client, topics,
		cfg.ProducerSyncSend, time.Duration(cfg.ProducerSendTimeoutMs)*time.Millisecond)

	deliveryWorker := webhook.NewWorker(repo, sender, webhook.WorkerConfig{
		NodeID:                 cfg.NodeIdentifier,
		DestinationURLOverride: cfg.DestinationURLOverride,
		MaxPayloadLogLen:       cfg.MaxPayloadLogLength,
		SlowThreshold:          time.Duration(cfg.SlowExecutionThresholdMs) * time.Millisecond,
		CriticalThreshold:      time.Duration(cfg.CriticalExecutionThresholdMs) * time.Millisecond,
	}, m)

	retryScheduler := webhook.NewRetryScheduler(repo, dispatcher, webhook.RetrySchedulerConfig{
		Interval:  time.Duration(cfg.RetrySchedulerIntervalMs) * time.Millisecond,
		BatchSize: cfg.RetryBatchSize,
	})

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

	server, err := queue.NewServer(queue.ServerConfig{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.WorkerConcurrency,
		LogLevel:    logLevel(cfg.Environment),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create asynq server")
	}

	log.Info().Msg("Registering job handlers...")
	jobs.NewDeliveryWorker(deliveryWorker, topics).RegisterHandlers(server)
	jobs.NewSchedulerWorker(retryScheduler).RegisterHandlers(server)
	jobs.NewMaintenanceWorker(maintenance).RegisterHandlers(server)

	scheduler, err := queue.NewScheduler(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	registerPeriodicTasks(scheduler, cfg)

	go func() {
		log.Info().Msg("Starting scheduler...")
		if err := scheduler.Run(); err != nil {
			log.Error().Err(err).Msg("Scheduler error")
		}
	}()

	// Blocks until SIGINT/SIGTERM, then drains in-flight tasks.
	log.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("Starting worker server...")
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("Worker server failed")
	}
}

// registerPeriodicTasks wires the retry scan, pending sweep, stuck scan,
// and retention cleanup onto the broker's cron scheduler.
func registerPeriodicTasks(scheduler *queue.Scheduler, cfg *config.Config) {
	retryEvery := cfg.RetrySchedulerIntervalMs / 1000
	if retryEvery < 1 {
		retryEvery = 1
	}

	periodic := []struct {
		spec  string
		task  *asynq.Task
		queue string
	}{
		{fmt.Sprintf("@every %ds", retryEvery), asynq.NewTask(queue.TypeRetryScan, nil), queue.QueueCritical},
		{"@every 5m", asynq.NewTask(queue.TypePendingSweep, nil), queue.QueueDefault},
		{fmt.Sprintf("@every %dm", cfg.StuckDetectorIntervalMin), asynq.NewTask(queue.TypeStuckScan, nil), queue.QueueDefault},
		{"0 3 * * *", asynq.NewTask(queue.TypeRetention, nil), queue.QueueLow},
	}

	for _, p := range periodic {
		if _, err := scheduler.RegisterPeriodicTask(p.spec, p.task, asynq.Queue(p.queue)); err != nil {
			log.Fatal().Err(err).Str("task", p.task.Type()).Msg("Failed to register periodic task")
		}
	}
}

func logLevel(environment string) asynq.LogLevel {
	if environment == "production" {
		return asynq.WarnLevel
	}
	return asynq.InfoLevel
}
