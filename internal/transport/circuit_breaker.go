package transport

import (
	"context"
	"fmt"

	"omni/internal/config"
	"omni/pkg/circuitbreaker"
	apperrors "omni/pkg/errors"
	"omni/pkg/health"
	"omni/pkg/retry"
)

// CircuitBreakerTransport stops calling a failing transport for a while.
// Only retryable failures trip the breaker; a fatal error means the
// transport answered.
type CircuitBreakerTransport struct {
	next Transport
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerTransport(next Transport, cfg config.CircuitBreakerConfig) *CircuitBreakerTransport {
	if !cfg.Enabled {
		return &CircuitBreakerTransport{next: next}
	}

	cbConfig := circuitbreaker.DefaultConfig("transport-" + next.Name())
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = circuitbreaker.RatioTrip(cfg.MinRequests, cfg.FailureRatio)
	}
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || !retry.IsRetryable(err)
	}

	return &CircuitBreakerTransport{
		next: next,
		cb:   circuitbreaker.NewWrapper(cbConfig),
	}
}

func (t *CircuitBreakerTransport) Name() string {
	return t.next.Name()
}

func (t *CircuitBreakerTransport) Publish(ctx context.Context, streamKey, idempotencyKey string, payload []byte) (string, error) {
	if t.cb == nil {
		return t.next.Publish(ctx, streamKey, idempotencyKey, payload)
	}

	result, err := t.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return t.next.Publish(ctx, streamKey, idempotencyKey, payload)
	})

	t.cb.RecordRequest(err == nil)

	if err != nil {
		if circuitbreaker.IsBreakerRejection(err) {
			return "", apperrors.ErrServiceUnavailable.
				WithCause(fmt.Errorf("circuit breaker is open for %s: %w", t.cb.Name(), err)).
				AsRetryable()
		}
		return "", err
	}

	id, ok := result.(string)
	if !ok {
		return "", retry.NewFatalError(fmt.Errorf("transport returned invalid result type %T", result))
	}
	return id, nil
}

func (t *CircuitBreakerTransport) State() string {
	if t.cb == nil {
		return "disabled"
	}
	return t.cb.State().String()
}

func (t *CircuitBreakerTransport) IsOpen() bool {
	if t.cb == nil {
		return false
	}
	return t.cb.IsOpen()
}

// Ping reports an open circuit as degraded before asking the wrapped transport.
func (t *CircuitBreakerTransport) Ping(ctx context.Context) error {
	if t.IsOpen() {
		return fmt.Errorf("circuit breaker open: %w", health.ErrDegraded)
	}
	if p, ok := t.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (t *CircuitBreakerTransport) Close() error {
	return t.next.Close()
}
