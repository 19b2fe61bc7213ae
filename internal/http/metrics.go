package httpserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cms_migrator/internal/migrate"
)

// Metrics exposes the last observed plan as Prometheus gauges.
type Metrics struct {
	registry *prometheus.Registry
	pending  prometheus.Gauge
	applied  prometheus.Gauge
	drifted  prometheus.Gauge
	checks   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cms_migrator_pending_migrations",
			Help: "Migrations found on disk but not recorded in the ledger.",
		}),
		applied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cms_migrator_applied_migrations",
			Help: "Migrations recorded in the ledger with a matching file.",
		}),
		drifted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cms_migrator_drifted_migrations",
			Help: "Applied migrations whose file changed after they were applied.",
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cms_migrator_status_checks_total",
			Help: "Status checks by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.pending, m.applied, m.drifted, m.checks)
	return m
}

func (m *Metrics) Observe(plan *migrate.Plan) {
	m.pending.Set(float64(len(plan.Pending)))
	m.applied.Set(float64(len(plan.Applied)))
	m.drifted.Set(float64(len(plan.Drifted)))
	m.checks.WithLabelValues("ok").Inc()
}

// ObserveDrift records a status check that stopped at unresolved drift.
func (m *Metrics) ObserveDrift() {
	m.drifted.Set(1)
	m.checks.WithLabelValues("drift").Inc()
}

func (m *Metrics) ObserveError() {
	m.checks.WithLabelValues("error").Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
