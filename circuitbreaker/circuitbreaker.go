// Package circuitbreaker stops marshalling operations into a page whose
// browser connection keeps failing.
package circuitbreaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cdr.dev/slog"
	"github.com/sony/gobreaker/v2"

	"github.com/coder/monacoharness/metrics"
	"github.com/coder/monacoharness/remote"
)

// ErrUnavailable is returned without contacting the page while the breaker is
// open.
var ErrUnavailable = errors.New("page connection unavailable")

// Config holds configuration for the breaker.
// Fields match gobreaker.Settings for clarity.
type Config struct {
	// MaxRequests is the maximum number of requests allowed in half-open state.
	MaxRequests uint32
	// Interval is the cyclic period of the closed state for clearing internal
	// counts. Zero never clears them.
	Interval time.Duration
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that triggers the circuit to open.
	FailureThreshold uint32
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Timeout:          10 * time.Second,
		MaxRequests:      1,
	}
}

// Conn is a [remote.Conn] guarded by a circuit breaker. Only transport failures
// count: exceptions thrown by page code and the caller's own cancellation do
// not.
type Conn struct {
	next    remote.Conn
	cb      *gobreaker.CircuitBreaker[json.RawMessage]
	metrics *metrics.Metrics
}

var _ remote.Conn = &Conn{}

func Wrap(next remote.Conn, cfg Config, m *metrics.Metrics, logger slog.Logger) *Conn {
	c := &Conn{next: next, metrics: m}
	c.cb = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        "page",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsExcluded: isExcluded,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "page connection breaker changed state",
				slog.F("from", from.String()),
				slog.F("to", to.String()),
			)
			if m != nil {
				m.RemoteBreakerState.Set(StateToGaugeValue(to))
			}
		},
	})
	return c
}

func isExcluded(err error) bool {
	var evalErr *remote.EvalError
	return errors.As(err, &evalErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Conn) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	raw, err := c.cb.Execute(func() (json.RawMessage, error) {
		return c.next.Evaluate(ctx, expression)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		if c.metrics != nil {
			c.metrics.RemoteBreakerRejects.Inc()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return raw, err
}

func (c *Conn) State() gobreaker.State {
	return c.cb.State()
}

// StateToGaugeValue converts gobreaker.State to a gauge value.
// closed=0, half-open=0.5, open=1
func StateToGaugeValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 0.5
	case gobreaker.StateOpen:
		return 1
	default:
		return 0
	}
}
