// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SyncTotal tracks remote sync attempts by outcome.
	SyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_sync_total",
			Help: "Remote session sync attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SyncDuration tracks remote sync duration.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_sync_duration_seconds",
			Help:    "Remote session sync duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	// SyncMessages tracks message counts pushed per sync.
	SyncMessages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_sync_messages",
			Help:    "Messages carried per remote sync",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	// SessionsEvicted tracks locally evicted sessions.
	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_evicted_total",
			Help: "Sessions removed by the local retention policy",
		},
	)

	// ChunkedWrites tracks local values written in chunked form.
	ChunkedWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_chunked_writes_total",
			Help: "Local store writes that required chunking",
		},
	)

	// StorageOps tracks local store operations by kind and status.
	StorageOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_ops_total",
			Help: "Local store operations",
		},
		[]string{"op", "status"},
	)

	// EncryptionDegraded counts messages that left the device unencrypted
	// because no key could be obtained.
	EncryptionDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "encryption_degraded_total",
			Help: "Messages synced without encryption due to missing keys",
		},
	)

	// KeysDerived tracks key derivations by auth kind.
	KeysDerived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_keys_derived_total",
			Help: "User encryption keys derived",
		},
		[]string{"auth_kind"},
	)

	// DebouncePending tracks sessions with an armed debounce timer.
	DebouncePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_debounce_pending",
			Help: "Sessions currently holding a pending sync timer",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordSync records a remote sync attempt.
func RecordSync(outcome string, duration float64, messages int) {
	SyncTotal.WithLabelValues(outcome).Inc()
	SyncDuration.WithLabelValues(outcome).Observe(duration)
	if messages > 0 {
		SyncMessages.Observe(float64(messages))
	}
}
