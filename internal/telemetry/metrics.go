package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tournevent/tracksync/pkg/carrier"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	SyncRuns       *prometheus.CounterVec
	SyncDuration   *prometheus.HistogramVec
	Chunks         *prometheus.CounterVec
	ChunkOrders    *prometheus.CounterVec
	StatusUpdates  *prometheus.CounterVec
	CarrierErrors  *prometheus.CounterVec
	TokenRefreshes prometheus.Counter
}

// NewMetrics creates metrics and registers them with reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SyncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracksync_runs_total",
				Help: "Total number of tracking sync runs by outcome",
			},
			[]string{"outcome"},
		),
		SyncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracksync_run_duration_seconds",
				Help:    "Tracking sync run duration in seconds by outcome",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		Chunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracksync_chunks_total",
				Help: "Total number of tracking chunks by outcome",
			},
			[]string{"outcome"},
		),
		ChunkOrders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracksync_chunk_orders_total",
				Help: "Total number of orders in tracking chunks by outcome",
			},
			[]string{"outcome"},
		),
		StatusUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracksync_status_updates_total",
				Help: "Total number of order status updates by canonical status",
			},
			[]string{"status"},
		),
		CarrierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracksync_errors_total",
				Help: "Total errors during tracking sync by error type",
			},
			[]string{"error_type"},
		),
		TokenRefreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracksync_token_refreshes_total",
				Help: "Total number of carrier token authentications",
			},
		),
	}
}

// RecordRun records a finished sync run.
func (m *Metrics) RecordRun(outcome string, duration time.Duration) {
	m.SyncRuns.WithLabelValues(outcome).Inc()
	m.SyncDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordChunk records a processed chunk.
func (m *Metrics) RecordChunk(outcome string, size int) {
	m.Chunks.WithLabelValues(outcome).Inc()
	m.ChunkOrders.WithLabelValues(outcome).Add(float64(size))
}

// RecordStatus records written statuses.
func (m *Metrics) RecordStatus(status carrier.CanonicalStatus, count int) {
	m.StatusUpdates.WithLabelValues(string(status)).Add(float64(count))
}

// RecordError records an error metric.
func (m *Metrics) RecordError(errorType string) {
	m.CarrierErrors.WithLabelValues(errorType).Inc()
}

// RecordTokenRefresh records a carrier authentication.
func (m *Metrics) RecordTokenRefresh() {
	m.TokenRefreshes.Inc()
}
