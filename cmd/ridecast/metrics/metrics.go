// Package metrics provides Prometheus instrumentation for a pipeline run.
//
// A batch run is too short-lived to be scraped, so metrics live on a
// dedicated registry that is pushed to a Pushgateway when the run ends.
//
// Metrics exposed:
//   - ridecast_stage_seconds: Histogram of stage duration by stage
//   - ridecast_rows: Gauge of rows produced by each stage
//   - ridecast_split_metric: Gauge of each evaluation metric by split
//   - ridecast_errors_total: Counter of errors by stage and reason
//
// The run name is the Pushgateway grouping key.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Job is the Pushgateway job name.
const Job = "ridecast"

// Metrics holds all Prometheus metrics for a run.
type Metrics struct {
	run      string
	registry *prometheus.Registry

	StageSeconds *prometheus.HistogramVec
	Rows         *prometheus.GaugeVec
	SplitMetric  *prometheus.GaugeVec
	ErrorsTotal  *prometheus.CounterVec
}

// New creates the metrics of run on a fresh registry.
func New(run string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		run:      run,
		registry: reg,

		StageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ridecast_stage_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900},
		}, []string{"stage"}),

		Rows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ridecast_rows",
			Help: "Rows produced by each pipeline stage",
		}, []string{"stage"}),

		SplitMetric: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ridecast_split_metric",
			Help: "Evaluation metric of each cross-validation split",
		}, []string{"split", "metric"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ridecast_errors_total",
			Help: "Total number of errors by stage and reason",
		}, []string{"stage", "reason"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordStage records the duration of a stage.
func (m *Metrics) RecordStage(stage string, d time.Duration) {
	m.StageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// SetRows sets the row count produced by a stage.
func (m *Metrics) SetRows(stage string, rows int) {
	m.Rows.WithLabelValues(stage).Set(float64(rows))
}

// SetSplitMetric sets one metric of a split.
func (m *Metrics) SetSplitMetric(split int, metric string, value float64) {
	m.SplitMetric.WithLabelValues(strconv.Itoa(split), metric).Set(value)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(stage, reason string) {
	m.ErrorsTotal.WithLabelValues(stage, reason).Inc()
}

// Push replaces the metrics of this run on the Pushgateway at url.
func (m *Metrics) Push(ctx context.Context, url string) error {
	err := push.New(url, Job).
		Grouping("run", m.run).
		Gatherer(m.registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
