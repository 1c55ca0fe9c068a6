package chat

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	absorbedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hirenest",
		Subsystem: "chat",
		Name:      "absorbed_errors_total",
		Help:      "Gateway failures swallowed by the messaging core, by operation.",
	}, []string{"operation"})

	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hirenest",
		Subsystem: "chat",
		Name:      "sends_total",
		Help:      "Message deliveries by stored payload shape (rich, minimal, failed).",
	}, []string{"payload"})

	reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hirenest",
		Subsystem: "chat",
		Name:      "reconciliations_total",
		Help:      "Confirmed messages merged into open streams, by outcome.",
	}, []string{"result"})

	openStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hirenest",
		Subsystem: "chat",
		Name:      "open_streams",
		Help:      "Message streams currently bound to a thread.",
	})

	threadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hirenest",
		Subsystem: "chat",
		Name:      "threads_created_total",
		Help:      "Threads created by the resolver.",
	})
)

// absorb records a failure the caller deliberately does not propagate
func absorb(log *slog.Logger, operation string, err error, attrs ...any) {
	absorbedErrors.WithLabelValues(operation).Inc()
	log.Warn(operation+" failed", append([]any{"error", err}, attrs...)...)
}
