package coordinator

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the coordinator's Prometheus collectors. Each Server
// carries its own registry so multiple coordinators can coexist in one
// process.
type metrics struct {
	registry         *prometheus.Registry
	registrations    prometheus.Counter
	workers          prometheus.Gauge
	shutdownFailures prometheus.Counter
	unreachable      prometheus.Gauge
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,
		registrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "partfleet",
			Name:      "registrations_total",
			Help:      "Partition registrations accepted by the coordinator.",
		}),
		workers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "partfleet",
			Name:      "registered_workers",
			Help:      "Workers currently present in the discovery map.",
		}),
		shutdownFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "partfleet",
			Name:      "shutdown_failures_total",
			Help:      "Shutdown commands that failed to reach their worker.",
		}),
		unreachable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "partfleet",
			Name:      "unreachable_workers",
			Help:      "Registered workers currently failing liveness probes.",
		}),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
