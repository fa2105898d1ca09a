// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CascadeOffers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rehab_cascade_offers_total",
		Help: "Outcomes offered to a therapist for completion confirmation",
	})

	// result: confirmed, declined, invalid, failed
	CascadeResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rehab_cascade_resolutions_total",
			Help: "Resolved cascade confirmations by result",
		},
		[]string{"result"},
	)

	PatientDeactivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rehab_patient_deactivations_total",
		Help: "Patients moved to inactive after all goals were achieved",
	})

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rehab_store_errors_total",
			Help: "Goal store failures by operation",
		},
		[]string{"op"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rehab_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordHTTPRequestDuration observes one served request.
func RecordHTTPRequestDuration(method, path, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
