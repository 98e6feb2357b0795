package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records sync pass and outbox delivery outcomes.
type SyncMetrics struct {
	passDuration *prometheus.HistogramVec
	passResult   *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	pending      prometheus.Gauge
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	passDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_pass_duration_seconds",
		Help:    "Duration of background sync passes in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})
	passResult := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_pass_total",
		Help: "Completed sync passes by result.",
	}, []string{"result"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_deliveries_total",
		Help: "Outbox delivery attempts by outcome.",
	}, []string{"outcome"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_pending_items",
		Help: "Outbox entries not yet synced.",
	})
	reg.MustRegister(passDuration, passResult, deliveries, pending)
	return &SyncMetrics{
		passDuration: passDuration,
		passResult:   passResult,
		deliveries:   deliveries,
		pending:      pending,
	}
}

// ObservePass records the duration of a sync pass for a trigger kind.
func (s *SyncMetrics) ObservePass(trigger string, duration time.Duration) {
	if s == nil || s.passDuration == nil {
		return
	}
	s.passDuration.WithLabelValues(normalizeLabel(trigger)).Observe(duration.Seconds())
}

// IncPassResult counts a finished pass ("ok", "skipped", "error").
func (s *SyncMetrics) IncPassResult(result string) {
	if s == nil || s.passResult == nil {
		return
	}
	s.passResult.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncDelivery counts one delivery attempt ("synced", "retry", "dead").
func (s *SyncMetrics) IncDelivery(outcome string) {
	if s == nil || s.deliveries == nil {
		return
	}
	s.deliveries.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SetPending updates the unsynced-entries gauge.
func (s *SyncMetrics) SetPending(count int64) {
	if s == nil || s.pending == nil {
		return
	}
	s.pending.Set(float64(count))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
