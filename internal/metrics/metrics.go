package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "flagq"

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

var (
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs accepted by the producer API.",
		},
		[]string{"operation"},
	)

	JobsClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Total number of jobs claimed by workers.",
		},
		[]string{"operation"},
	)

	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs that reached an outcome, labeled by result key.",
		},
		[]string{"operation", "status"},
	)

	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs moved to the dead-letter list, labeled by reason.",
		},
		[]string{"operation", "reason"},
	)

	DeliveryTimeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_time_seconds",
			Help:      "Time from job creation to processing start (seconds). Negative skews are not observed.",
			Buckets:   latencyBuckets,
		},
		[]string{"operation"},
	)

	ProcessingTimeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_time_seconds",
			Help:      "Time spent inside the checker operation (seconds).",
			Buckets:   latencyBuckets,
		},
		[]string{"operation"},
	)

	CheckerFaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checker_faults_total",
			Help:      "Total number of checker failures converted to INTERNAL_ERROR, labeled by kind.",
		},
		[]string{"operation", "kind"},
	)

	ReportDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_deliveries_total",
			Help:      "Total number of outcome report deliveries, labeled by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	LeaseExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_expired_total",
			Help:      "Total number of lease expirations detected during claim-time repair.",
		},
		[]string{"operation"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by rate limiting.",
		},
		[]string{"scope"},
	)
)

func init() {
	prometheus.MustRegister(
		JobsEnqueuedTotal,
		JobsClaimedTotal,
		JobsProcessedTotal,
		JobsFailedTotal,
		DeliveryTimeSeconds,
		ProcessingTimeSeconds,
		CheckerFaultsTotal,
		ReportDeliveriesTotal,
		LeaseExpiredTotal,
		RateLimitHitsTotal,
	)
}
