// Package metrics holds the bot's Prometheus collectors and the HTTP server
// exposing them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics methods are safe on a nil receiver, so components can run
// without instrumentation in tests.
type Metrics struct {
	reg *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	newObjects  *prometheus.CounterVec
	details     *prometheus.CounterVec
	sends       *prometheus.CounterVec
	commands    *prometheus.CounterVec
	jobs        *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listingbot", Name: "fetch_runs_total",
			Help: "Fetch runs by category and outcome.",
		}, []string{"category", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "listingbot", Name: "fetch_run_duration_seconds",
			Help:    "Wall time of fetch runs.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"category"}),
		newObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listingbot", Name: "new_objects_total",
			Help: "Listings found that the tenant had not seen.",
		}, []string{"category"}),
		details: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listingbot", Name: "detail_resolutions_total",
			Help: "Detail resolutions by source (cache, fetch, error).",
		}, []string{"source"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listingbot", Name: "notifications_total",
			Help: "Outbound notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listingbot", Name: "commands_total",
			Help: "Inbound commands by name and outcome.",
		}, []string{"command", "outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listingbot", Name: "schedule_jobs_total",
			Help: "Scheduled job executions by job and outcome.",
		}, []string{"job", "outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runDuration, m.newObjects, m.details, m.sends, m.commands, m.jobs,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Gauge registers a gauge whose value is read from fn on every scrape.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "listingbot", Name: name, Help: help,
	}, fn))
}

func (m *Metrics) ObserveRun(category, outcome string, seconds float64, newObjects int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(category, outcome).Inc()
	m.runDuration.WithLabelValues(category).Observe(seconds)
	if newObjects > 0 {
		m.newObjects.WithLabelValues(category).Add(float64(newObjects))
	}
}

func (m *Metrics) Detail(source string) {
	if m == nil {
		return
	}
	m.details.WithLabelValues(source).Inc()
}

func (m *Metrics) Send(kind string, err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *Metrics) Command(name string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, outcome(err)).Inc()
}

func (m *Metrics) Job(name string, err error) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(name, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
