package invoker

import (
	"sync"
	"time"
)

// BreakerState represents the state of one endpoint's circuit.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

const (
	defaultFailureThreshold         = 5
	defaultOpenStateTimeout         = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 2
)

// endpointState holds the circuit state for a single gateway endpoint.
type endpointState struct {
	state                BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	openUntil            time.Time
}

// Breaker tracks gateway endpoint health and short-circuits calls to
// endpoints that keep failing at the transport level. In-memory, safe for
// concurrent use.
type Breaker struct {
	mu                       sync.Mutex
	endpoints                map[string]*endpointState
	failureThreshold         int
	openStateTimeout         time.Duration
	halfOpenSuccessThreshold int
}

// NewBreaker creates a Breaker with default thresholds.
func NewBreaker() *Breaker {
	return NewBreakerWithSettings(defaultFailureThreshold, defaultOpenStateTimeout, defaultHalfOpenSuccessThreshold)
}

// NewBreakerWithSettings creates a Breaker with custom thresholds.
func NewBreakerWithSettings(failThreshold int, openTimeout time.Duration, halfOpenSuccess int) *Breaker {
	return &Breaker{
		endpoints:                make(map[string]*endpointState),
		failureThreshold:         failThreshold,
		openStateTimeout:         openTimeout,
		halfOpenSuccessThreshold: halfOpenSuccess,
	}
}

// caller must hold mu.
func (b *Breaker) endpoint(name string) *endpointState {
	es, ok := b.endpoints[name]
	if !ok {
		es = &endpointState{state: BreakerClosed}
		b.endpoints[name] = es
	}
	return es
}

// Allow reports whether a call to the endpoint may proceed. An open circuit
// whose timeout has expired transitions to half-open and lets the call
// through as a probe.
func (b *Breaker) Allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.endpoint(name)
	switch es.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Now().After(es.openUntil) {
			es.state = BreakerHalfOpen
			es.consecutiveSuccesses = 0
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	default:
		es.state = BreakerClosed
		return true
	}
}

// RecordFailure notes a transport failure for the endpoint.
func (b *Breaker) RecordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.endpoint(name)
	switch es.state {
	case BreakerClosed:
		es.consecutiveFailures++
		if es.consecutiveFailures >= b.failureThreshold {
			es.state = BreakerOpen
			es.openUntil = time.Now().Add(b.openStateTimeout)
		}
	case BreakerHalfOpen:
		// The probe failed; re-open immediately.
		es.state = BreakerOpen
		es.openUntil = time.Now().Add(b.openStateTimeout)
		es.consecutiveFailures = 0
		es.consecutiveSuccesses = 0
	case BreakerOpen:
	}
}

// RecordSuccess notes a successful call for the endpoint.
func (b *Breaker) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	es := b.endpoint(name)
	switch es.state {
	case BreakerClosed:
		es.consecutiveFailures = 0
	case BreakerHalfOpen:
		es.consecutiveSuccesses++
		if es.consecutiveSuccesses >= b.halfOpenSuccessThreshold {
			es.state = BreakerClosed
			es.consecutiveFailures = 0
			es.consecutiveSuccesses = 0
		}
	case BreakerOpen:
	}
}

// State returns the current circuit state for an endpoint without
// transitioning it. For monitoring and tests.
func (b *Breaker) State(name string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	es, ok := b.endpoints[name]
	if !ok {
		return BreakerClosed
	}
	return es.state
}
