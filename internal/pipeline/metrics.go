package pipeline

import (
	"time"

	"github.com/a3tai/mcp-receipt-reader/internal/receipt"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	Uploads       *prometheus.CounterVec
	FallbackCalls *prometheus.CounterVec
	FieldStatus   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receipt_pipeline_uploads_total",
			Help: "Processed uploads by outcome (pattern, fallback, partial, failed).",
		}, []string{"outcome"}),
		FallbackCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receipt_fallback_calls_total",
			Help: "Fallback model calls by result (ok, error, timeout).",
		}, []string{"result"}),
		FieldStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receipt_field_status_total",
			Help: "Verified field statuses (verified, mismatch, empty).",
		}, []string{"status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "receipt_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	for _, c := range []prometheus.Collector{m.Uploads, m.FallbackCalls, m.FieldStatus, m.StageDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) upload(outcome string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) fallback(result string) {
	if m == nil {
		return
	}
	m.FallbackCalls.WithLabelValues(result).Inc()
}

func (m *Metrics) statuses(s receipt.StatusMap) {
	if m == nil {
		return
	}
	for _, status := range s {
		m.FieldStatus.WithLabelValues(string(status)).Inc()
	}
}

func (m *Metrics) since(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
