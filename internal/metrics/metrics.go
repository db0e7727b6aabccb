package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outletcash_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outletcash_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	DepositsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outletcash_deposits_total",
		Help: "Deposit submissions by outcome (created, duplicate, verified).",
	}, []string{"outcome"})

	RotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outletcash_rotations_total",
		Help: "Stock submissions by rotation kind.",
	}, []string{"kind"})

	PipelineStageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outletcash_pipeline_stage_failures_total",
		Help: "Day-close pipeline stage failures by stage name.",
	}, []string{"stage"})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outletcash_notification_failures_total",
		Help: "Best-effort notifications that could not be delivered.",
	})
)
