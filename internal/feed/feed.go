// Package feed pulls transaction history from the brokerage activity API.
package feed

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// Source supplies the transaction history for one account.
type Source interface {
	Transactions(ctx context.Context, accountID string) ([]models.Transaction, error)
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// CircuitBreakerSource wraps a Source with circuit breaker functionality so
// a flapping activity API cannot stall every reconciliation run.
type CircuitBreakerSource struct {
	source  Source
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerSource creates a CircuitBreakerSource with sensible defaults.
func NewCircuitBreakerSource(source Source) *CircuitBreakerSource {
	return NewCircuitBreakerSourceWithSettings(source, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerSourceWithSettings creates a CircuitBreakerSource with
// custom settings.
func NewCircuitBreakerSourceWithSettings(source Source, settings CircuitBreakerSettings) *CircuitBreakerSource {
	gbSettings := gobreaker.Settings{
		Name:        "FeedCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerSource{
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Transactions wraps the underlying fetch with the circuit breaker.
func (c *CircuitBreakerSource) Transactions(ctx context.Context, accountID string) ([]models.Transaction, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.source.Transactions(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	txns, ok := res.([]models.Transaction)
	if !ok {
		return nil, errors.New("circuit breaker: type assertion failed")
	}
	return txns, nil
}

var _ Source = (*CircuitBreakerSource)(nil)
