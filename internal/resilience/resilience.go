// Package resilience wraps calls to external services with bounded
// exponential-backoff retry and per-service circuit breakers.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	MaxRetries          int           // Retries after the first attempt (0 = no retry)
	InitialInterval     time.Duration // Initial retry interval (default 200ms)
	MaxInterval         time.Duration // Maximum retry interval (default 5s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:          3,
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// WithDefaults returns c with unset timing fields taken from
// DefaultRetryConfig. The zero RetryConfig becomes the full default;
// otherwise MaxRetries is kept as given.
func (c RetryConfig) WithDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c == (RetryConfig{}) {
		return d
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.MaxElapsedTime <= 0 {
		c.MaxElapsedTime = d.MaxElapsedTime
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	return c
}

func (c RetryConfig) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialInterval
	exp.MaxInterval = c.MaxInterval
	exp.MaxElapsedTime = c.MaxElapsedTime
	exp.Multiplier = c.Multiplier
	exp.RandomizationFactor = c.RandomizationFactor

	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// StateChangeFunc observes breaker transitions.
type StateChangeFunc func(name string, from, to gobreaker.State)

// BreakerRegistry hands out one circuit breaker per named service.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *slog.Logger
	onChange StateChangeFunc
}

// NewBreakerRegistry creates a registry. onChange may be nil.
func NewBreakerRegistry(logger *slog.Logger, onChange StateChangeFunc) *BreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
		onChange: onChange,
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *BreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level := slog.LevelInfo
			if to == gobreaker.StateOpen {
				level = slog.LevelWarn
			}
			r.logger.Log(context.Background(), level, "circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String(),
				"degraded", to == gobreaker.StateOpen)
			if r.onChange != nil {
				r.onChange(name, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation is not a service failure
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	r.breakers[name] = cb
	return cb
}

// IsCircuitOpen reports whether err came from a breaker refusing the call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Retry runs op until it succeeds, returns an error retryable rejects, or
// the retry budget runs out. cb may be nil. It reports the number of
// attempts made alongside the final result.
func Retry[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, cfg RetryConfig, retryable func(error) bool, op func(context.Context) (T, error)) (T, int, error) {
	var (
		result   T
		attempts int
	)

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempts++

		var (
			value T
			err   error
		)
		if cb != nil {
			var raw interface{}
			raw, err = cb.Execute(func() (interface{}, error) {
				return op(ctx)
			})
			if err == nil {
				value, _ = raw.(T)
			}
		} else {
			value, err = op(ctx)
		}

		if err != nil {
			if IsCircuitOpen(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			if retryable != nil && !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		result = value
		return nil
	}

	err := backoff.Retry(operation, cfg.policy(ctx))
	return result, attempts, err
}
