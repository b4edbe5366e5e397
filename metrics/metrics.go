package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payplan_build_info",
			Help: "Build information of the payplan engine",
		},
		[]string{"version", "commit", "date"},
	)

	// Credit primitive metrics
	CreditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payplan_credits_total",
			Help: "Total number of credit attempts by income type and outcome",
		},
		[]string{"type", "outcome"},
	)

	CreditedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payplan_credited_amount_total",
			Help: "Total amount credited by income type",
		},
		[]string{"type"},
	)

	// Batch metrics
	BatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payplan_batch_runs_total",
			Help: "Total number of batch runs by kind and status",
		},
		[]string{"run", "status"},
	)

	BatchAccountsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payplan_batch_accounts_total",
			Help: "Accounts processed by batch runs, by outcome",
		},
		[]string{"run", "outcome"},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payplan_batch_duration_seconds",
			Help:    "Duration of batch runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		},
		[]string{"run"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payplan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payplan_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
