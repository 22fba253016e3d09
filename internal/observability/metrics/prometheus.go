// Package metrics provides Prometheus metrics for the prescription backend.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	PrescriptionsCreated prometheus.Counter
	PrescriptionsIssued  prometheus.Counter
	PrescriptionsFilled  prometheus.Counter
	UploadsCreated       prometheus.Counter
	UploadsProcessed     *prometheus.CounterVec
	ExtractionDuration   prometheus.Histogram
	OutboxPending        prometheus.Gauge
	NotificationsSent    prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		PrescriptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_created_total",
			Help: "Total prescriptions created",
		}),
		PrescriptionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_issued_total",
			Help: "Total prescriptions issued to patients",
		}),
		PrescriptionsFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_filled_total",
			Help: "Total prescriptions filled by pharmacists",
		}),
		UploadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uploads_created_total",
			Help: "Total prescription images uploaded",
		}),
		UploadsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uploads_processed_total",
			Help: "Extraction runs by outcome status",
		}, []string{"status"}),
		ExtractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "extraction_duration_seconds",
			Help:    "Remote extraction plus normalization duration",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending",
			Help: "Outbox entries waiting to be published",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Lifecycle notifications emitted",
		}),
	}

	prometheus.MustRegister(
		m.PrescriptionsCreated,
		m.PrescriptionsIssued,
		m.PrescriptionsFilled,
		m.UploadsCreated,
		m.UploadsProcessed,
		m.ExtractionDuration,
		m.OutboxPending,
		m.NotificationsSent,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
