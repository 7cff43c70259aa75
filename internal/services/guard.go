package services

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"facture-fec/internal/apperr"
	"facture-fec/internal/metrics"
)

// GuardConfig configures outgoing LLM call protection.
type GuardConfig struct {
	// RPM - Requests Per Minute (0 = unlimited)
	RPM int
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
}

// LLMGuard rate-limits LLM calls and stops sending them while the provider
// keeps failing.
type LLMGuard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewLLMGuard(cfg GuardConfig, m *metrics.Metrics, logger *zap.Logger) *LLMGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	g := &LLMGuard{metrics: m, logger: logger}

	// RPM limiter: convert to requests per second
	if cfg.RPM > 0 {
		burst := cfg.RPM / 10
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RPM)/60.0), burst)
	}

	threshold := cfg.FailureThreshold
	g.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// configuration problems and cancellations say nothing about provider health
			return err == nil ||
				errors.Is(err, apperr.ErrLLMUnavailable) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm circuit breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return g
}

// Do runs call under the limiter and breaker. kind labels the request in
// metrics.
func (g *LLMGuard) Do(ctx context.Context, kind string, call func(ctx context.Context) (string, error)) (string, error) {
	if g == nil {
		return call(ctx)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	out, err := g.breaker.Execute(func() (string, error) {
		return call(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = apperr.New(apperr.CodeLLM, "llm provider temporarily disabled after repeated failures", err)
		}
		if !errors.Is(err, apperr.ErrLLMUnavailable) {
			g.metrics.RecordLLMRequest(kind, false)
		}
		return "", err
	}
	g.metrics.RecordLLMRequest(kind, true)
	return out, nil
}

// State reports the breaker state, for health output.
func (g *LLMGuard) State() string {
	if g == nil {
		return gobreaker.StateClosed.String()
	}
	return g.breaker.State().String()
}
