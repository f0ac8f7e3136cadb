// Package metrics holds the Prometheus instrumentation of a replica.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Merge record outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeNoop     = "noop"
)

// Batch results.
const (
	ResultOK        = "ok"
	ResultIntegrity = "integrity"
	ResultStorage   = "storage"
)

// Metrics holds all Prometheus metrics for one replica.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// Merge metrics
	MergeRecordsTotal *prometheus.CounterVec
	MergeBatchesTotal *prometheus.CounterVec
	MergeDuration     prometheus.Histogram

	// Local write metrics
	LocalWritesTotal *prometheus.CounterVec

	// Clock metrics
	DBVersion prometheus.Gauge

	// Change stream metrics
	CursorRecordsTotal prometheus.Counter
	InboundGapsTotal   prometheus.Counter
}

// NewMetrics creates all metrics on a fresh registry so several replicas
// can live in one process.
func NewMetrics(siteID string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"site_id": siteID}

	return &Metrics{
		Registry: reg,

		MergeRecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "crr",
			Subsystem:   "merge",
			Name:        "records_total",
			Help:        "Total number of incoming change records by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		MergeBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "crr",
			Subsystem:   "merge",
			Name:        "batches_total",
			Help:        "Total number of merge batches by result",
			ConstLabels: labels,
		}, []string{"result"}),
		MergeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "crr",
			Subsystem:   "merge",
			Name:        "batch_duration_seconds",
			Help:        "Histogram of merge batch durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		LocalWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "crr",
			Subsystem:   "local",
			Name:        "writes_total",
			Help:        "Total number of local row operations by kind",
			ConstLabels: labels,
		}, []string{"op"}),

		DBVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "crr",
			Subsystem:   "clock",
			Name:        "db_version",
			Help:        "Current db_version of the replica",
			ConstLabels: labels,
		}),

		CursorRecordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "crr",
			Subsystem:   "cursor",
			Name:        "records_total",
			Help:        "Total number of change records emitted by cursors",
			ConstLabels: labels,
		}),
		InboundGapsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "crr",
			Subsystem:   "inbound",
			Name:        "gaps_total",
			Help:        "Total number of changesets refused for a watermark gap",
			ConstLabels: labels,
		}),
	}
}

// RecordMerge records one merge batch.
func (m *Metrics) RecordMerge(result string, accepted, rejected, noop int, d time.Duration) {
	if m == nil {
		return
	}
	m.MergeBatchesTotal.WithLabelValues(result).Inc()
	m.MergeRecordsTotal.WithLabelValues(OutcomeAccepted).Add(float64(accepted))
	m.MergeRecordsTotal.WithLabelValues(OutcomeRejected).Add(float64(rejected))
	m.MergeRecordsTotal.WithLabelValues(OutcomeNoop).Add(float64(noop))
	m.MergeDuration.Observe(d.Seconds())
}

// RecordLocalWrite counts one local row operation.
func (m *Metrics) RecordLocalWrite(op string) {
	if m == nil {
		return
	}
	m.LocalWritesTotal.WithLabelValues(op).Inc()
}

// SetDBVersion publishes the replica's db_version.
func (m *Metrics) SetDBVersion(v int64) {
	if m == nil {
		return
	}
	m.DBVersion.Set(float64(v))
}

// RecordCursor counts records emitted by a cursor page.
func (m *Metrics) RecordCursor(n int) {
	if m == nil {
		return
	}
	m.CursorRecordsTotal.Add(float64(n))
}

// RecordGap counts a refused changeset.
func (m *Metrics) RecordGap() {
	if m == nil {
		return
	}
	m.InboundGapsTotal.Inc()
}
