package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caphe",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status.",
		},
		[]string{"endpoint", "status"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caphe",
			Name:      "booking_transitions_total",
			Help:      "Booking state transitions by resulting status.",
		},
		[]string{"status"},
	)

	settlementOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caphe",
			Name:      "settlement_outcomes_total",
			Help:      "Settlement outcomes by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	gatewayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caphe",
			Name:      "gateway_errors_total",
			Help:      "Payment gateway call failures by operation.",
		},
		[]string{"operation"},
	)

	pollAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "caphe",
			Name:      "settlement_poll_attempts_total",
			Help:      "Settlement confirmation polls executed.",
		},
	)

	pollExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "caphe",
			Name:      "settlement_polls_exhausted_total",
			Help:      "Poll tasks that ran out of retry budget.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookingTransitions,
			settlementOutcomes,
			gatewayErrors,
			pollAttempts,
			pollExhausted,
		)
	})
}

// IncHTTP increments the request counter for an endpoint and status label.
func IncHTTP(endpoint, status string) {
	httpRequests.WithLabelValues(endpoint, status).Inc()
}

// IncBookingTransition records a booking moving into status.
func IncBookingTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

// IncSettlementOutcome records a settlement reaching an outcome.
func IncSettlementOutcome(kind, outcome string) {
	settlementOutcomes.WithLabelValues(kind, outcome).Inc()
}

// IncGatewayError records a failed payment gateway call.
func IncGatewayError(operation string) {
	gatewayErrors.WithLabelValues(operation).Inc()
}

// IncPollAttempt records one confirmation poll.
func IncPollAttempt() {
	pollAttempts.Inc()
}

// IncPollExhausted records a poll task moved to the dead-letter list.
func IncPollExhausted() {
	pollExhausted.Inc()
}
