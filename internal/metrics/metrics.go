// Package metrics holds the Prometheus instruments for log extraction and
// batch processing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "runmerge"

// Drop reasons.
const (
	ReasonTimestamp = "timestamp"
	ReasonOrphaned  = "orphaned"
	ReasonUntimed   = "untimed"
)

// Pair outcomes.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusMissing   = "missing"
	StatusFailed    = "failed"
)

// Metrics groups the counters updated while processing runs. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	RecordsExtracted *prometheus.CounterVec
	RecordsDropped   *prometheus.CounterVec
	BlocksFailed     *prometheus.CounterVec
	Pairs            *prometheus.CounterVec
	PairDuration     prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the instruments and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		RecordsExtracted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_extracted_total",
				Help:      "Records extracted from log files, by record type",
			},
			[]string{"type"},
		),
		RecordsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_dropped_total",
				Help:      "Records dropped during extraction or merging",
			},
			[]string{"type", "reason"},
		),
		BlocksFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_failed_total",
				Help:      "Structured payloads that could not be decoded",
			},
			[]string{"type"},
		),
		Pairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairs_total",
				Help:      "Run pairs seen by the batch driver, by outcome",
			},
			[]string{"status"},
		),
		PairDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pair_duration_seconds",
				Help:      "Time spent processing one run pair",
				Buckets:   prometheus.DefBuckets,
			},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.RecordsExtracted, m.RecordsDropped, m.BlocksFailed, m.Pairs, m.PairDuration)
	return m
}

// Registry returns the registry holding these instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Extracted adds n extracted records of the given type.
func (m *Metrics) Extracted(recordType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsExtracted.WithLabelValues(recordType).Add(float64(n))
}

// Dropped adds n dropped records of the given type and reason.
func (m *Metrics) Dropped(recordType, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsDropped.WithLabelValues(recordType, reason).Add(float64(n))
}

// Failed adds n undecodable payloads of the given type.
func (m *Metrics) Failed(recordType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.BlocksFailed.WithLabelValues(recordType).Add(float64(n))
}

// Pair records one pair outcome.
func (m *Metrics) Pair(status string) {
	if m == nil {
		return
	}
	m.Pairs.WithLabelValues(status).Inc()
}

// ObservePair records how long one pair took.
func (m *Metrics) ObservePair(d time.Duration) {
	if m == nil {
		return
	}
	m.PairDuration.Observe(d.Seconds())
}
