package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_scans_total",
			Help: "Scan attempts by method and outcome (status or rejection reason)",
		},
		[]string{"method", "outcome"},
	)

	ManualAttendanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_manual_total",
			Help: "Manual attendance entries by status",
		},
		[]string{"status"},
	)

	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_sessions_total",
			Help: "Session lifecycle actions",
		},
		[]string{"action"},
	)

	CertificatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certificates_total",
			Help: "Certificate issuance attempts by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	NumberCollisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "certificate_number_collisions_total",
			Help: "Certificate number unique violations that triggered a reseed and retry",
		},
	)

	ArtifactFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifact_failures_total",
			Help: "Image render, upload or discard failures",
		},
		[]string{"kind"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_total",
			Help: "Queue jobs handled by the worker",
		},
		[]string{"type", "outcome"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
