// Package monitoring provides Prometheus metrics for pipeline runs.
package monitoring

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "pipeframe"

// Operation outcomes recorded in the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Materialization reasons recorded in the reason label.
const (
	ReasonSnapshot = "snapshot"
	ReasonBarrier  = "barrier"
	ReasonFinal    = "final"
)

// Metrics holds the collectors updated by the executor. A nil *Metrics
// records nothing, so callers never need to check whether metrics are on.
type Metrics struct {
	operations       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	materializations *prometheus.CounterVec
	rows             prometheus.Counter
}

// NewMetrics creates the pipeline collectors and registers them to reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of pipeline operations applied, by type and outcome.",
		}, []string{"type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent planning or running a pipeline operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"type"}),
		materializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materializations_total",
			Help:      "Total number of times a deferred plan was collected, by reason.",
		}, []string{"reason"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Total number of rows produced by materializations.",
		}),
	}
	reg.MustRegister(m.operations, m.duration, m.materializations, m.rows)
	return m
}

// RecordOperation runs fn and records its duration and outcome under opType.
func (m *Metrics) RecordOperation(opType string, fn func() error) error {
	if m == nil {
		return fn()
	}

	start := time.Now()
	err := fn()
	m.duration.WithLabelValues(opType).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	m.operations.WithLabelValues(opType, status).Inc()
	return err
}

// RecordMaterialization counts a collected plan of rows rows.
func (m *Metrics) RecordMaterialization(reason string, rows int) {
	if m == nil {
		return
	}
	m.materializations.WithLabelValues(reason).Inc()
	m.rows.Add(float64(rows))
}

// WriteText writes every metric family gathered from g in the text
// exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
