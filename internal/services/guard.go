package services

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"mindgrate/backend/internal/apperr"
)

// GuardConfig tunes the circuit breaker and rate limiter placed in front of
// a provider.
type GuardConfig struct {
	Name             string
	RatePerSecond    float64
	Burst            int
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultGuardConfig returns the settings used for LLM and embedding providers.
func DefaultGuardConfig(name string) GuardConfig {
	return GuardConfig{
		Name:             name,
		RatePerSecond:    10,
		Burst:            5,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// guard limits the call rate to a provider and stops calling it while it
// keeps failing.
type guard struct {
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func newGuard(cfg GuardConfig, logger Logger) *guard {
	if logger == nil {
		logger = nopLogger{}
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &guard{
		limiter: rate.NewLimiter(limit, burst),
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.MinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("provider circuit breaker state changed", "provider", name, "from", from.String(), "to", to.String())
			},
			// Caller mistakes and cancellations say nothing about provider health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) ||
					apperr.IsKind(err, apperr.KindValidation) ||
					(apperr.IsKind(err, apperr.KindExternal) && !apperr.IsRetryable(err))
			},
		}),
	}
}

func guardedCall[T any](ctx context.Context, g *guard, fn func() (T, error)) (T, error) {
	var zero T
	if err := g.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	out, err := g.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, apperr.Unavailable(err, "provider %s temporarily unavailable", g.cb.Name())
		}
		return zero, err
	}
	return out.(T), nil
}

// GuardedEmbedder wraps an Embedder with a rate limiter and circuit breaker.
type GuardedEmbedder struct {
	next  Embedder
	guard *guard
}

// NewGuardedEmbedder creates a new GuardedEmbedder.
func NewGuardedEmbedder(next Embedder, cfg GuardConfig, logger Logger) *GuardedEmbedder {
	return &GuardedEmbedder{next: next, guard: newGuard(cfg, logger)}
}

// Embed implements Embedder.
func (e *GuardedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return guardedCall(ctx, e.guard, func() ([][]float32, error) {
		return e.next.Embed(ctx, texts)
	})
}

// GuardedGenerator wraps a Generator with a rate limiter and circuit breaker.
type GuardedGenerator struct {
	next  Generator
	guard *guard
}

// NewGuardedGenerator creates a new GuardedGenerator.
func NewGuardedGenerator(next Generator, cfg GuardConfig, logger Logger) *GuardedGenerator {
	return &GuardedGenerator{next: next, guard: newGuard(cfg, logger)}
}

// Generate implements Generator.
func (g *GuardedGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	return guardedCall(ctx, g.guard, func() (string, error) {
		return g.next.Generate(ctx, system, prompt)
	})
}

// Model implements Generator.
func (g *GuardedGenerator) Model() string {
	return g.next.Model()
}
