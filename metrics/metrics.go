// Package metrics exposes Prometheus collectors for predictor lifecycles and runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors a predictor reports to.
type Metrics struct {
	PredictorsLive  prometheus.Gauge
	Constructions   *prometheus.CounterVec
	Clones          prometheus.Counter
	Destroys        prometheus.Counter
	SectionsApplied *prometheus.CounterVec
	Runs            *prometheus.CounterVec
	RunDuration     prometheus.Histogram
}

// New registers a fresh set of collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PredictorsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gopaddle_predictors_live",
			Help: "Number of native predictor handles currently owned",
		}),
		Constructions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gopaddle_predictor_constructions_total",
			Help: "Predictor constructions by result",
		}, []string{"result"}),
		Clones: factory.NewCounter(prometheus.CounterOpts{
			Name: "gopaddle_predictor_clones_total",
			Help: "Predictors produced by Clone",
		}),
		Destroys: factory.NewCounter(prometheus.CounterOpts{
			Name: "gopaddle_predictor_destroys_total",
			Help: "Native predictor handles released",
		}),
		SectionsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gopaddle_config_sections_applied_total",
			Help: "Configuration sections applied onto a native config handle",
		}, []string{"section"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gopaddle_runs_total",
			Help: "Predictor runs by result",
		}, []string{"result"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gopaddle_run_duration_seconds",
			Help:    "Duration of predictor runs",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
	}
}

// Default is registered on the default Prometheus registry.
var Default = New(prometheus.DefaultRegisterer)

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordConstruction counts a finished construction attempt.
func (m *Metrics) RecordConstruction(ok bool) {
	m.Constructions.WithLabelValues(result(ok)).Inc()
	if ok {
		m.PredictorsLive.Inc()
	}
}

// RecordClone counts a successful clone.
func (m *Metrics) RecordClone() {
	m.Clones.Inc()
	m.PredictorsLive.Inc()
}

// RecordDestroy counts a released predictor handle.
func (m *Metrics) RecordDestroy() {
	m.Destroys.Inc()
	m.PredictorsLive.Dec()
}

// RecordSection counts one applied configuration section.
func (m *Metrics) RecordSection(section string) {
	m.SectionsApplied.WithLabelValues(section).Inc()
}

// RecordRun counts a run and its duration.
func (m *Metrics) RecordRun(ok bool, d time.Duration) {
	m.Runs.WithLabelValues(result(ok)).Inc()
	m.RunDuration.Observe(d.Seconds())
}
