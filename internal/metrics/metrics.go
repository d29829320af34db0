package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_cycles_total",
			Help: "Total number of ingestion cycles by terminal status",
		},
		[]string{"status"},
	)

	CyclesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_cycles_skipped_total",
			Help: "Total number of scheduler ticks skipped because a cycle was still running",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_cycle_duration_seconds",
			Help:    "Duration of a full ingestion cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Fetch metrics
	EventsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_events_fetched_total",
			Help: "Total number of raw events fetched from the upstream API",
		},
	)

	FetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_fetch_retries_total",
			Help: "Total number of fetch request retries",
		},
	)

	RateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_rate_limit_remaining",
			Help: "Most recent X-RateLimit-Remaining value reported by the upstream API",
		},
	)

	// Normalization metrics
	EventsNormalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_events_normalized_total",
			Help: "Total number of events successfully normalized",
		},
	)

	NormalizationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_normalization_errors_total",
			Help: "Total number of events skipped due to normalization errors",
		},
	)

	// Write metrics
	EventsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_events_upserted_total",
			Help: "Total number of events upserted into the store",
		},
	)

	WriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_write_duration_seconds",
			Help:    "Duration of batch write operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_write_errors_total",
			Help: "Total number of batch write failures",
		},
	)
)
