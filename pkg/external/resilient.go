package external

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/clinical-report-engine/internal/domain"
)

// ResilientGenerator wraps a TextGenerator with a circuit breaker. When the AI
// backend degrades, calls fail fast and the content cache falls back to stale
// entries instead of piling up slow requests.
type ResilientGenerator struct {
	generator domain.TextGenerator
	breaker   *gobreaker.CircuitBreaker
	log       *logrus.Logger
}

// NewResilientGenerator creates a circuit-breaker-wrapped generator
func NewResilientGenerator(generator domain.TextGenerator, breakerTimeout time.Duration, logger *logrus.Logger) *ResilientGenerator {
	if breakerTimeout == 0 {
		breakerTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "AIGeneration",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ResilientGenerator{
		generator: generator,
		breaker:   breaker,
		log:       logger,
	}
}

// Generate produces narrative text, failing fast while the breaker is open
func (r *ResilientGenerator) Generate(ctx context.Context, promptContext string) (string, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.generator.Generate(ctx, promptContext)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return "", fmt.Errorf("AI generation unavailable (circuit breaker open)")
		}
		return "", err
	}
	return result.(string), nil
}

// State returns the current breaker state for health reporting
func (r *ResilientGenerator) State() gobreaker.State {
	return r.breaker.State()
}

// Counts returns breaker statistics for health reporting
func (r *ResilientGenerator) Counts() gobreaker.Counts {
	return r.breaker.Counts()
}
