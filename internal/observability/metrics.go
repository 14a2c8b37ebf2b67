// Package observability holds service-level prometheus instruments.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicesync",
		Subsystem: "ingest",
		Name:      "events_total",
		Help:      "Webhook events ingested, labeled by outcome.",
	}, []string{"outcome"})

	jobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicesync",
		Subsystem: "dispatch",
		Name:      "jobs_total",
		Help:      "Sync jobs handled by the dispatcher, labeled by outcome.",
	}, []string{"outcome"})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "devicesync",
		Subsystem: "sync",
		Name:      "job_duration_seconds",
		Help:      "Time spent processing one claimed sync job.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	importsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "devicesync",
		Subsystem: "sync",
		Name:      "imports_persisted_total",
		Help:      "Normalized activity imports written (including idempotent rewrites).",
	})

	lastImportGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "devicesync",
		Subsystem: "sync",
		Name:      "last_import_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity import persisted.",
	})
)

func init() {
	prometheus.MustRegister(eventsIngested, jobsProcessed, syncDuration, importsPersisted, lastImportGauge)
}

// RecordIngest counts one ingestion outcome (accepted, duplicate, ignored, rejected).
func RecordIngest(outcome string) {
	eventsIngested.WithLabelValues(outcome).Inc()
}

// RecordJobOutcome counts one dispatched job outcome (succeeded, retried, failed, skipped).
func RecordJobOutcome(outcome string) {
	jobsProcessed.WithLabelValues(outcome).Inc()
}

// ObserveSyncDuration records how long one job took to process.
func ObserveSyncDuration(d time.Duration) {
	syncDuration.Observe(d.Seconds())
}

// RecordImportsPersisted updates the import counter and watermark gauge.
func RecordImportsPersisted(count int, ts time.Time) {
	if count <= 0 {
		return
	}
	importsPersisted.Add(float64(count))
	if !ts.IsZero() {
		lastImportGauge.Set(float64(ts.Unix()))
	}
}
