package invoker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/invoker"
)

func TestInvoke_RetriesTransportFaults(t *testing.T) {
	inv := invoker.New(invoker.Config{Attempts: 3}, nil, nil)

	calls := 0
	err := inv.Invoke(context.Background(), "bank", func(context.Context) error {
		calls++
		if calls < 3 {
			return invoker.Transport(errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err, "third attempt succeeds")
	assert.Equal(t, 3, calls)
}

func TestInvoke_SingleAttemptPropagatesFirstFault(t *testing.T) {
	inv := invoker.New(invoker.Config{Attempts: 1}, nil, nil)

	calls := 0
	fault := invoker.Transport(errors.New("dial timeout"))
	err := inv.Invoke(context.Background(), "bank", func(context.Context) error {
		calls++
		return fault
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, fault)
	assert.True(t, invoker.IsTransport(err))
}

func TestInvoke_BusinessErrorsAreNotRetried(t *testing.T) {
	inv := invoker.New(invoker.Config{Attempts: 5}, nil, nil)

	calls := 0
	declined := errors.New("card declined")
	err := inv.Invoke(context.Background(), "bank", func(context.Context) error {
		calls++
		return declined
	})

	assert.Equal(t, 1, calls, "a well-formed gateway rejection must not be retried")
	assert.ErrorIs(t, err, declined)
	assert.False(t, invoker.IsTransport(err))
}

func TestInvoke_ExhaustionReturnsLastFault(t *testing.T) {
	inv := invoker.New(invoker.Config{Attempts: 2}, nil, nil)

	first := invoker.Transport(errors.New("fault one"))
	second := invoker.Transport(errors.New("fault two"))
	faults := []error{first, second}

	calls := 0
	err := inv.Invoke(context.Background(), "bank", func(context.Context) error {
		defer func() { calls++ }()
		return faults[calls]
	})

	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, second)
}

func TestInvoke_OnRetryHook(t *testing.T) {
	inv := invoker.New(invoker.Config{Attempts: 3}, nil, nil)

	var retried []string
	inv.OnRetry = func(endpoint string) { retried = append(retried, endpoint) }

	_ = inv.Invoke(context.Background(), "bank", func(context.Context) error {
		return invoker.Transport(errors.New("boom"))
	})

	assert.Equal(t, []string{"bank", "bank"}, retried)
}

func TestInvoke_OpenBreakerShortCircuits(t *testing.T) {
	breaker := invoker.NewBreakerWithSettings(1, time.Minute, 1)
	breaker.RecordFailure("bank") // trips the circuit

	inv := invoker.New(invoker.Config{Attempts: 3}, breaker, nil)

	calls := 0
	err := inv.Invoke(context.Background(), "bank", func(context.Context) error {
		calls++
		return nil
	})

	assert.Equal(t, 0, calls, "tripped circuit must not reach the gateway")
	assert.True(t, invoker.IsTransport(err))
}

func TestBreaker_StateTransitions(t *testing.T) {
	b := invoker.NewBreakerWithSettings(2, 10*time.Millisecond, 1)

	assert.Equal(t, invoker.BreakerClosed, b.State("bank"))

	b.RecordFailure("bank")
	assert.Equal(t, invoker.BreakerClosed, b.State("bank"))
	b.RecordFailure("bank")
	assert.Equal(t, invoker.BreakerOpen, b.State("bank"))
	assert.False(t, b.Allow("bank"))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow("bank"), "expired open state allows a probe")
	assert.Equal(t, invoker.BreakerHalfOpen, b.State("bank"))

	b.RecordSuccess("bank")
	assert.Equal(t, invoker.BreakerClosed, b.State("bank"))
}
