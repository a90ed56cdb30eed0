// Package invoker wraps outbound gateway calls with a bounded retry policy
// and a per-endpoint circuit breaker. The retry policy is deliberately
// narrow: only transport-level faults (connection resets, timeouts, a
// tripped breaker) are retried; a well-formed error response from the remote
// peer propagates immediately.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// transportError marks a fault as transport-level and therefore retryable.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "transport fault: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// Transport wraps err as a transport-level fault. Adapters wrap connection
// and I/O errors with it before returning them to the invoker.
func Transport(err error) error {
	if err == nil {
		return nil
	}
	return &transportError{err: err}
}

// IsTransport reports whether err (or anything it wraps) is a transport-level
// fault.
func IsTransport(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// Config controls the retry behavior of an Invoker.
type Config struct {
	// Attempts is the total number of tries for one call, including the
	// first. Values below 1 are normalized to 1.
	Attempts int
	// Backoff is the pause between retries. The default of zero retries
	// immediately, matching the connection-instability use case.
	Backoff time.Duration
}

// Invoker executes remote calls under the configured retry policy.
type Invoker struct {
	cfg     Config
	breaker *Breaker
	logger  *zap.Logger

	// OnRetry, when set, is called once per retry with the endpoint name.
	// The wiring layer uses it to feed the retry counter metric.
	OnRetry func(endpoint string)
}

// New creates an Invoker. The breaker may be nil, in which case calls are
// never short-circuited.
func New(cfg Config, breaker *Breaker, logger *zap.Logger) *Invoker {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{cfg: cfg, breaker: breaker, logger: logger}
}

// Attempts returns the configured attempt count.
func (i *Invoker) Attempts() int { return i.cfg.Attempts }

// Invoke runs call against the named endpoint. Transport faults are retried
// up to the configured attempt count; the last fault is returned once
// attempts are exhausted. Any other error returns at once.
func (i *Invoker) Invoke(ctx context.Context, endpoint string, call func(context.Context) error) error {
	if i.breaker != nil && !i.breaker.Allow(endpoint) {
		return Transport(fmt.Errorf("invoker: circuit open for endpoint %s", endpoint))
	}

	var lastErr error
	for attempt := 1; attempt <= i.cfg.Attempts; attempt++ {
		if attempt > 1 {
			if i.OnRetry != nil {
				i.OnRetry(endpoint)
			}
			if i.cfg.Backoff > 0 {
				select {
				case <-ctx.Done():
					return Transport(ctx.Err())
				case <-time.After(i.cfg.Backoff):
				}
			}
		}

		err := call(ctx)
		if err == nil {
			if i.breaker != nil {
				i.breaker.RecordSuccess(endpoint)
			}
			return nil
		}
		if !IsTransport(err) {
			// Business-level failure from the peer: not our problem to retry.
			return err
		}

		lastErr = err
		i.logger.Warn("transport fault on gateway call",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Int("attempts", i.cfg.Attempts),
			zap.Error(err))
	}

	if i.breaker != nil {
		i.breaker.RecordFailure(endpoint)
	}
	return lastErr
}
