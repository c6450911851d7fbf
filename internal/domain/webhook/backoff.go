package webhook

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ResponseHint scales the computed delay based on how the target responded.
type ResponseHint int

const (
	// HintNone leaves the delay unchanged.
	HintNone ResponseHint = iota
	// HintRateLimited doubles the delay (HTTP 429).
	HintRateLimited
	// HintServerError stretches the delay by half (HTTP 5xx).
	HintServerError
)

// HintForStatus derives a response hint from an HTTP status code.
func HintForStatus(statusCode int) ResponseHint {
	switch {
	case statusCode == 429:
		return HintRateLimited
	case statusCode >= 500 && statusCode < 600:
		return HintServerError
	}
	return HintNone
}

func (h ResponseHint) multiplier() float64 {
	switch h {
	case HintRateLimited:
		return 2.0
	case HintServerError:
		return 1.5
	}
	return 1.0
}

var unknownStrategyOnce sync.Once

// Delay computes the backoff before retry attempt retryIndex (0-based),
// in whole seconds, clamped to [1, maxS].
func Delay(strategy BackoffStrategy, initialS int, factor float64, maxS, retryIndex int, hint ResponseHint) int {
	if initialS < 1 {
		initialS = 1
	}
	if maxS < 1 {
		maxS = 1
	}
	if retryIndex < 0 {
		retryIndex = 0
	}

	var seconds float64
	switch strategy {
	case BackoffFixed:
		seconds = float64(initialS)
	case BackoffLinear:
		seconds = float64(initialS) * float64(1+retryIndex)
	case BackoffExponential:
		seconds = float64(initialS) * math.Pow(factor, float64(retryIndex))
	default:
		unknownStrategyOnce.Do(func() {
			log.Warn().
				Str("strategy", string(strategy)).
				Msg("Unknown backoff strategy, falling back to exponential")
		})
		seconds = float64(initialS) * math.Pow(2, float64(retryIndex))
	}

	seconds *= hint.multiplier()

	if seconds > float64(maxS) || math.IsInf(seconds, 1) || math.IsNaN(seconds) {
		seconds = float64(maxS)
	}
	if seconds < 1 {
		seconds = 1
	}
	return int(seconds)
}

// RetryHorizon estimates the total wall-clock time a message can spend
// retrying under the config's policy.
func RetryHorizon(cfg *WebhookConfig) time.Duration {
	var total int
	for i := 0; i < cfg.MaxRetries; i++ {
		total += Delay(cfg.BackoffStrategy, cfg.InitialIntervalS, cfg.BackoffFactor, cfg.MaxIntervalS, i, HintNone)
	}
	return time.Duration(total) * time.Second
}
