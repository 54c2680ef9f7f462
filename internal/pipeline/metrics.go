package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline's prometheus collectors.
type Metrics struct {
	stageTotal *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors on reg. A nil reg gives
// unregistered collectors, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labwise_pipeline_stage_total",
				Help: "Pipeline stage executions by outcome.",
			},
			[]string{"stage", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "labwise_pipeline_duration_seconds",
				Help:    "End-to-end analysis duration.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		),
	}
	if reg == nil {
		return m, nil
	}
	if err := reg.Register(m.stageTotal); err != nil {
		return nil, err
	}
	if err := reg.Register(m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) stage(stage, outcome string) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) observe(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(outcome).Observe(seconds)
}
