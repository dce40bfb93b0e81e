package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	TrackedEntities *prometheus.GaugeVec
	PollCycles      *prometheus.CounterVec
	PollErrors      *prometheus.CounterVec
	TaskEvents      *prometheus.CounterVec
	PreviewRequests *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TrackedEntities: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_entities",
			Help:      "Entities currently tracked by each background tracker.",
		}, []string{"tracker"}),
		PollCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles executed by each background tracker.",
		}, []string{"tracker"}),
		PollErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Per-entity poll failures by tracker.",
		}, []string{"tracker"}),
		TaskEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		PreviewRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preview_requests_total",
			Help:      "Data preview executions by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveTaskEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.TaskEvents.WithLabelValues(kind, outcome).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
