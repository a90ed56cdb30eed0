// Package metrics exposes the engine's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's instruments. A nil *Metrics is a valid no-op
// receiver so tests can skip wiring it.
type Metrics struct {
	transactions  *prometheus.CounterVec
	gatewayCalls  *prometheus.CounterVec
	gatewayTiming *prometheus.HistogramVec
	invokerRetry  *prometheus.CounterVec
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_transactions_total",
			Help: "Transactions reaching a terminal status, by provider and status.",
		}, []string{"provider", "status"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_gateway_calls_total",
			Help: "Outbound gateway calls, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		gatewayTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_gateway_call_seconds",
			Help:    "Outbound gateway call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		invokerRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_invoker_retries_total",
			Help: "Transport-fault retries performed by the resilient invoker.",
		}, []string{"endpoint"}),
	}
	reg.MustRegister(m.transactions, m.gatewayCalls, m.gatewayTiming, m.invokerRetry)
	return m
}

// TransactionSettled counts a terminal transition.
func (m *Metrics) TransactionSettled(provider, status string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(provider, status).Inc()
}

// GatewayCall counts one outbound call and its latency.
func (m *Metrics) GatewayCall(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(endpoint, outcome).Inc()
	m.gatewayTiming.WithLabelValues(endpoint).Observe(seconds)
}

// InvokerRetry counts one transport-fault retry.
func (m *Metrics) InvokerRetry(endpoint string) {
	if m == nil {
		return
	}
	m.invokerRetry.WithLabelValues(endpoint).Inc()
}
