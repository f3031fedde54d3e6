// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Investigation query metrics
	InvestigationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosscheck_investigations_total",
			Help: "Total investigation queries by kind and status",
		},
		[]string{"kind", "status"},
	)

	InvestigationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crosscheck_investigation_duration_seconds",
			Help:    "Duration of investigation queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Federation metrics
	FederatedSitesQueried = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crosscheck_federated_sites_queried",
			Help:    "Candidate sites contacted per federated query",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	SiteFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosscheck_site_fetch_failures_total",
			Help: "Per-site fetch failures degraded to empty contributions",
		},
		[]string{"site"},
	)

	SiteFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crosscheck_site_fetch_duration_seconds",
			Help:    "Duration of per-site fan-out fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CapabilityCheckFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crosscheck_capability_check_failures_total",
			Help: "Remote capability checks that failed or timed out",
		},
	)

	// Background job metrics
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosscheck_jobs_enqueued_total",
			Help: "Jobs published to the queue by op",
		},
		[]string{"op"},
	)

	JobFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosscheck_job_failures_total",
			Help: "Job executions that errored and were nacked",
		},
		[]string{"op"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crosscheck_job_duration_seconds",
			Help:    "Duration of job executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Purge metrics
	IndexRowsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crosscheck_index_rows_purged_total",
			Help: "Expired central activity index rows deleted",
		},
	)

	EventRowsPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosscheck_event_rows_purged_total",
			Help: "Expired local event rows deleted by table",
		},
		[]string{"table"},
	)
)
