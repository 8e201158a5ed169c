package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics counts reconciliation outcomes by entry point and tracks
// gateway round-trip latency.
type PaymentMetrics struct {
	applied   *prometheus.CounterVec
	duplicate *prometheus.CounterVec
	failed    *prometheus.CounterVec
	gateway   *prometheus.HistogramVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconcile_applied",
		Help: "Payment results applied for the first time.",
	}, []string{"source"})
	duplicate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconcile_duplicate",
		Help: "Payment results that were already applied.",
	}, []string{"source"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconcile_failed",
		Help: "Payment reconciliations that could not be applied.",
	}, []string{"source"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_duration_seconds",
		Help:    "Duration of payment gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(applied, duplicate, failed, gateway)
	return &PaymentMetrics{
		applied:   applied,
		duplicate: duplicate,
		failed:    failed,
		gateway:   gateway,
	}
}

// IncApplied increments the applied counter for the named entry point.
func (p *PaymentMetrics) IncApplied(source string) {
	if p == nil || p.applied == nil {
		return
	}
	p.applied.WithLabelValues(normalizeLabel(source)).Inc()
}

// IncDuplicate increments the duplicate counter for the named entry point.
func (p *PaymentMetrics) IncDuplicate(source string) {
	if p == nil || p.duplicate == nil {
		return
	}
	p.duplicate.WithLabelValues(normalizeLabel(source)).Inc()
}

// IncFailed increments the failure counter for the named entry point.
func (p *PaymentMetrics) IncFailed(source string) {
	if p == nil || p.failed == nil {
		return
	}
	p.failed.WithLabelValues(normalizeLabel(source)).Inc()
}

// ObserveGateway records the duration of a gateway call.
func (p *PaymentMetrics) ObserveGateway(operation string, duration time.Duration) {
	if p == nil || p.gateway == nil {
		return
	}
	p.gateway.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
