// Package breaker builds the circuit breakers guarding outbound calls.
package breaker

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/logging"
)

// Config holds circuit breaker tuning.
type Config struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// Trip when the failure ratio reaches FailureThreshold after at least
	// MinRequests calls.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultConfig returns the settings used for external collaborators.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// New creates a circuit breaker that logs state changes.
func New(cfg Config, logger *zap.Logger) *gobreaker.CircuitBreaker {
	logger = logging.OrNop(logger)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
