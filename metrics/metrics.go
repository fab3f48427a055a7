// Package metrics holds the process-scoped observability handles. The
// registry is created at startup and passed explicitly to the components
// that update it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// NodesByStatus counts fleet nodes per connectivity status.
	NodesByStatus *prometheus.GaugeVec
	// OnlineUsers counts users with a traffic report inside the online window.
	OnlineUsers prometheus.Gauge
	// JobRuns counts recurring job executions per job name and outcome.
	JobRuns *prometheus.CounterVec
	// IngestedBytes totals the traffic deltas applied by the usage aggregator.
	IngestedBytes prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		NodesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relaymeter_nodes_by_status",
			Help: "Number of fleet nodes per connectivity status.",
		}, []string{"status"}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaymeter_online_users",
			Help: "Users that reported traffic within the online window.",
		}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymeter_job_runs_total",
			Help: "Recurring job executions by job name and outcome.",
		}, []string{"job", "outcome"}),
		IngestedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaymeter_ingested_bytes_total",
			Help: "Traffic bytes applied by the usage aggregator.",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		m.NodesByStatus,
		m.OnlineUsers,
		m.JobRuns,
		m.IngestedBytes,
	)
	return m
}

// Handler serves the registry over HTTP for scrapes.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
