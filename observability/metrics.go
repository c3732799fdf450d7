package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
)

const namespace = "collections"

// Metrics implements loan.Observer on a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	contracts   *prometheus.CounterVec
	runDuration prometheus.Histogram
	runFailures prometheus.Counter
	holidays    *prometheus.CounterVec
	purged      prometheus.Counter
	auditDrops  prometheus.Counter
}

var _ loan.Observer = (*Metrics)(nil)

// NewMetrics registers the engine collectors plus the Go and process
// collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		contracts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contracts_recomputed_total",
			Help:      "Contracts processed by the recompute runner, by outcome and failure kind.",
		}, []string{"outcome", "kind"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recompute_run_duration_seconds",
			Help:      "Wall time of a full recompute run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		runFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recompute_run_contract_failures_total",
			Help:      "Contracts reported as failed at the end of a run.",
		}),
		holidays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holidays_materialized_total",
			Help:      "Rest-day holidays inserted by the calendar job.",
		}, []string{"company_id"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contracts_purged_total",
			Help:      "Finished contracts deleted by the cleanup job.",
		}),
		auditDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events dropped because the dispatch buffer was full.",
		}),
	}

	m.registry.MustRegister(
		m.contracts, m.runDuration, m.runFailures, m.holidays, m.purged, m.auditDrops,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ContractRecomputed(outcome, kind string) {
	m.contracts.WithLabelValues(outcome, kind).Inc()
}

func (m *Metrics) RunFinished(duration time.Duration, result loan.RunResult) {
	m.runDuration.Observe(duration.Seconds())
	m.runFailures.Add(float64(len(result.Failed)))
}

func (m *Metrics) HolidaysMaterialized(companyID generic.CompanyID, count int) {
	m.holidays.WithLabelValues(string(companyID)).Add(float64(count))
}

func (m *Metrics) ContractsPurged(count int) {
	m.purged.Add(float64(count))
}

// AuditDropped counts one audit event lost to back-pressure.
func (m *Metrics) AuditDropped() {
	m.auditDrops.Inc()
}
