package infra

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fidelio/fidelio/internal/apperr"
)

// NewBreaker returns a circuit breaker that opens after maxFailures
// consecutive failures and probes again after cooldown. Caller errors
// (validation, rejected credentials) do not count as failures.
func NewBreaker(name string, maxFailures uint32, cooldown time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrInvalidCredentials)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state", slog.String("name", name), slog.String("from", from.String()), slog.String("to", to.String()))
			}
		},
	})
}
