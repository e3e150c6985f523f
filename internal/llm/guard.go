package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a request to
// prevent cascading failures against a struggling provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// GuardConfig tunes the call guard shared by all provider clients.
type GuardConfig struct {
	// MaxFailures is the number of consecutive failures that trips the
	// circuit. Default: 3.
	MaxFailures uint32

	// OpenTimeout is how long the circuit stays open before allowing test
	// requests. Default: 30s.
	OpenTimeout time.Duration

	// HalfOpenMaxSuccesses is the number of successes in half-open state
	// required to close the circuit again. Default: 2.
	HalfOpenMaxSuccesses uint32

	// RequestsPerSecond caps the outbound request rate. Zero means a default
	// of 5 rps; negative disables limiting.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size. Default: 2.
	Burst int
}

func (c *GuardConfig) applyDefaults() {
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxSuccesses == 0 {
		c.HalfOpenMaxSuccesses = 2
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst == 0 {
		c.Burst = 2
	}
}

// callGuard serializes provider access through a token-bucket rate limiter
// and a circuit breaker. Every client call goes through do.
type callGuard struct {
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// newCallGuard builds a guard for one named provider.
func newCallGuard(name string, cfg GuardConfig) *callGuard {
	cfg.applyDefaults()

	g := &callGuard{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.HalfOpenMaxSuccesses,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
		}),
	}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return g
}

// do waits for rate-limit admission, then runs fn through the breaker.
// Context cancellation is honoured at both stages.
func (g *callGuard) do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// State returns the breaker state: "closed", "open" or "half-open".
func (g *callGuard) State() string {
	switch g.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Counts exposes the breaker's rolling counters for the health endpoint.
func (g *callGuard) Counts() gobreaker.Counts {
	return g.breaker.Counts()
}
