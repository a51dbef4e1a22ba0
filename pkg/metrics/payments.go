package metrics

import "github.com/prometheus/client_golang/prometheus"

// PaymentMetrics counts gateway interactions by outcome.
type PaymentMetrics struct {
	pushes    *prometheus.CounterVec
	callbacks *prometheus.CounterVec
	retries   prometheus.Counter
	exhausted prometheus.Counter
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	pushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_push_total",
		Help: "STK push initiations by outcome.",
	}, []string{"outcome"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callback_total",
		Help: "Gateway callbacks by outcome.",
	}, []string{"outcome"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_retry_total",
		Help: "Payment retry attempts.",
	})
	exhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_retry_exhausted_total",
		Help: "Payments that hit the retry cap.",
	})
	reg.MustRegister(pushes, callbacks, retries, exhausted)
	return &PaymentMetrics{
		pushes:    pushes,
		callbacks: callbacks,
		retries:   retries,
		exhausted: exhausted,
	}
}

// IncPush counts one push initiation with the given outcome label.
func (p *PaymentMetrics) IncPush(outcome string) {
	if p == nil || p.pushes == nil {
		return
	}
	p.pushes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncCallback counts one gateway callback with the given outcome label.
func (p *PaymentMetrics) IncCallback(outcome string) {
	if p == nil || p.callbacks == nil {
		return
	}
	p.callbacks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncRetry counts one retry attempt.
func (p *PaymentMetrics) IncRetry() {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.Inc()
}

// IncExhausted counts one payment reaching the retry cap.
func (p *PaymentMetrics) IncExhausted() {
	if p == nil || p.exhausted == nil {
		return
	}
	p.exhausted.Inc()
}
