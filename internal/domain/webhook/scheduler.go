package webhook

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RetrySchedulerConfig controls the periodic retry scan
type RetrySchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultRetrySchedulerConfig returns the default scheduler configuration
func DefaultRetrySchedulerConfig() RetrySchedulerConfig {
	return RetrySchedulerConfig{
		Interval:  60 * time.Second,
		BatchSize: 50,
	}
}

// RetryScheduler periodically re-enqueues FAILED messages whose retry is
// due. Ticks are best effort: overlapping ticks and duplicate publishes
// are tolerated because the delivery worker claims messages with a
// state-guarded transition.
type RetryScheduler struct {
	repo       Repository
	dispatcher Dispatcher
	cfg        RetrySchedulerConfig
}

// NewRetryScheduler creates a retry scheduler
func NewRetryScheduler(repo Repository, dispatcher Dispatcher, cfg RetrySchedulerConfig) *RetryScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &RetryScheduler{
		repo:       repo,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Run loops until the context is cancelled. Used in direct mode; in broker
// mode Tick is driven by the periodic task scheduler instead.
func (s *RetryScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.cfg.Interval).Msg("Retry scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retry scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				log.Error().Err(err).Msg("Retry scheduler tick failed")
			}
		}
	}
}

// Tick scans one batch of due messages and re-enqueues them. Individual
// publish failures are logged and skipped; the message stays due and the
// next tick picks it up again.
func (s *RetryScheduler) Tick(ctx context.Context) (int, error) {
	ids, err := s.repo.FindMessagesForRetry(ctx, time.Now().UTC(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, id := range ids {
		if err := s.dispatcher.PublishRetry(ctx, id); err != nil {
			log.Error().
				Err(err).
				Str("message_id", id.String()).
				Msg("Failed to enqueue retry")
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		log.Info().Int("enqueued", enqueued).Msg("Retry batch enqueued")
	}
	return enqueued, nil
}

// SweepPending re-enqueues PENDING messages whose original publish was
// lost, e.g. because the broker was unavailable at reception. Run at
// startup and on a slow periodic schedule.
func (s *RetryScheduler) SweepPending(ctx context.Context) (int, error) {
	ids, err := s.repo.FindPendingMessages(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, id := range ids {
		if err := s.dispatcher.PublishEvent(ctx, id); err != nil {
			log.Error().
				Err(err).
				Str("message_id", id.String()).
				Msg("Failed to re-enqueue pending message")
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		log.Info().Int("enqueued", enqueued).Msg("Pending sweep enqueued")
	}
	return enqueued, nil
}
