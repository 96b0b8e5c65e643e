// Package metrics holds the service's Prometheus collectors. Everything is observed through small
// helpers so the instrumented packages never touch collector types directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbwebui",
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Total number of decoded answer stream frames",
		},
		[]string{"type"},
	)

	tokensDrainedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kbwebui",
			Subsystem: "stream",
			Name:      "drained_tokens_total",
			Help:      "Total number of token items applied by the drain loop",
		},
	)

	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbwebui",
			Subsystem: "backend",
			Name:      "queries_total",
			Help:      "Total number of streaming queries by outcome",
		},
		[]string{"outcome"},
	)

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbwebui",
			Subsystem: "backend",
			Name:      "uploads_total",
			Help:      "Total number of document uploads by outcome",
		},
		[]string{"outcome"},
	)

	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbwebui",
			Subsystem: "liveness",
			Name:      "probes_total",
			Help:      "Total number of health probes by outcome",
		},
		[]string{"outcome"},
	)

	statusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbwebui",
			Subsystem: "liveness",
			Name:      "status_transitions_total",
			Help:      "Total number of availability transitions by target status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		framesTotal,
		tokensDrainedTotal,
		queriesTotal,
		uploadsTotal,
		probesTotal,
		statusTransitionsTotal,
	)
}

// ObserveFrame counts one decoded stream frame.
func ObserveFrame(frameType string) {
	framesTotal.WithLabelValues(frameType).Inc()
}

// ObserveTokenDrained counts one token item applied to a message.
func ObserveTokenDrained() {
	tokensDrainedTotal.Inc()
}

// ObserveQuery counts one finished streaming query.
func ObserveQuery(outcome string) {
	queriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveUpload counts one finished upload.
func ObserveUpload(outcome string) {
	uploadsTotal.WithLabelValues(outcome).Inc()
}

// ObserveProbe counts one health probe.
func ObserveProbe(ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	probesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStatus counts one availability status transition.
func ObserveStatus(status string) {
	statusTransitionsTotal.WithLabelValues(status).Inc()
}
