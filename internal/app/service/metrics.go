package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the pipeline counters scraped by the Prometheus
// server. A nil *Metrics is valid everywhere and records nothing,
// which keeps tests free of registry bookkeeping.
type Metrics struct {
	ingested      *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	flushed       *prometheus.CounterVec
	flushFailures prometheus.Counter
	flushDuration prometheus.Histogram
	queueDepth    *prometheus.GaugeVec
}

// NewMetrics registers the pipeline metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ingested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "treepulse_events_ingested_total",
			Help: "Events accepted at ingress and appended to the server queue.",
		}, []string{"kind"}),
		dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "treepulse_events_dropped_total",
			Help: "Events discarded before reaching the database.",
		}, []string{"kind", "reason"}),
		flushed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "treepulse_events_flushed_total",
			Help: "Events written to Postgres by the flush scheduler.",
		}, []string{"kind"}),
		flushFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "treepulse_flush_failures_total",
			Help: "Flush cycles aborted by a non-duplicate database error.",
		}),
		flushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "treepulse_flush_duration_seconds",
			Help:    "Wall time of a full flush cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "treepulse_queue_depth",
			Help: "Records waiting on the server queue after a flush cycle.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) addIngested(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ingested.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) addDropped(kind, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.WithLabelValues(kind, reason).Add(float64(n))
}

func (m *Metrics) addFlushed(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.flushed.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) incFlushFailures() {
	if m == nil {
		return
	}
	m.flushFailures.Inc()
}

func (m *Metrics) observeFlushDuration(seconds float64) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(seconds)
}

func (m *Metrics) setQueueDepth(kind string, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(kind).Set(float64(depth))
}
