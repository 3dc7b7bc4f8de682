package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics records the outcome surface of the recurring billing engine.
type BillingMetrics struct {
	chargeAttempts *prometheus.CounterVec
	cycleResults   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	chargeAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "givebridge",
		Name:      "billing_charge_attempts_total",
		Help:      "Charge attempts against the payment gateway, by outcome.",
	}, []string{"outcome"})
	cycleResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "givebridge",
		Name:      "billing_cycle_results_total",
		Help:      "Completed billing cycle runs, by result.",
	}, []string{"result"})
	gatewayLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "givebridge",
		Name:      "billing_gateway_latency_seconds",
		Help:      "Latency of payment gateway charge calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider"})
	reg.MustRegister(chargeAttempts, cycleResults, gatewayLatency)
	return &BillingMetrics{
		chargeAttempts: chargeAttempts,
		cycleResults:   cycleResults,
		gatewayLatency: gatewayLatency,
	}
}

// IncChargeAttempt counts a single gateway charge by its outcome.
func (b *BillingMetrics) IncChargeAttempt(outcome string) {
	if b == nil || b.chargeAttempts == nil {
		return
	}
	b.chargeAttempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncCycleResult counts a completed billing cycle run by its result.
func (b *BillingMetrics) IncCycleResult(result string) {
	if b == nil || b.cycleResults == nil {
		return
	}
	b.cycleResults.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveGatewayLatency records how long a gateway charge call took.
func (b *BillingMetrics) ObserveGatewayLatency(provider string, duration time.Duration) {
	if b == nil || b.gatewayLatency == nil {
		return
	}
	b.gatewayLatency.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}
