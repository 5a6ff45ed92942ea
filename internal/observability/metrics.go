// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsIngested  *prometheus.CounterVec
	EventsMalformed *prometheus.CounterVec
	EventsDuplicate prometheus.Counter
	SourceErrors    *prometheus.CounterVec
	BusQueueDepth   *prometheus.GaugeVec

	// State metrics
	EntitiesTracked    prometheus.Gauge
	StateCorruptions   prometheus.Counter
	SnapshotsArchived  prometheus.Counter
	CheckpointDuration prometheus.Histogram

	// Scoring metrics
	VerdictsProduced  *prometheus.CounterVec
	ScoreDistribution prometheus.Histogram

	// Signal metrics
	SignalsAdmitted   prometheus.Counter
	SignalsSuppressed *prometheus.CounterVec
	SignalsEscalated  prometheus.Counter
	SignalsDropped    prometheus.Counter
	AlertQueueDepth   prometheus.Gauge
	RateBucketLevel   prometheus.Gauge

	// Dispatch metrics
	AlertsPosted     *prometheus.CounterVec
	DispatchAttempts prometheus.Counter
	DispatchFailures prometheus.Counter
	PostLatency      prometheus.Histogram

	// Health metrics
	LastEventTimestamp *prometheus.GaugeVec
	UptimeSeconds      prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_sentinel"
	}

	return &Metrics{
		// Ingestion metrics
		EventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_total",
			Help:      "Total number of events ingested by source and type",
		}, []string{"source", "event_type"}),
		EventsMalformed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_malformed_total",
			Help:      "Total number of malformed events dropped by source",
		}, []string{"source"}),
		EventsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_duplicate_total",
			Help:      "Total number of redelivered events dropped by id",
		}),
		SourceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "source_errors_total",
			Help:      "Total number of upstream errors by source",
		}, []string{"source"}),
		BusQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "queue_depth",
			Help:      "Current number of events queued per subscriber",
		}, []string{"subscriber"}),

		// State metrics
		EntitiesTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "entities_tracked",
			Help:      "Current number of entities with hot state",
		}),
		StateCorruptions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "corruptions_total",
			Help:      "Total number of entity states quarantined after invariant failure",
		}),
		SnapshotsArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "snapshots_archived_total",
			Help:      "Total number of inactive entity snapshots moved to cold storage",
		}),
		CheckpointDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "checkpoint_duration_seconds",
			Help:      "Entity state checkpoint duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Scoring metrics
		VerdictsProduced: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scorer",
			Name:      "verdicts_total",
			Help:      "Total number of verdicts produced by category",
		}, []string{"category"}),
		ScoreDistribution: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scorer",
			Name:      "score",
			Help:      "Distribution of non-neutral verdict scores",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		// Signal metrics
		SignalsAdmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "admitted_total",
			Help:      "Total number of signals admitted to the alert queue",
		}),
		SignalsSuppressed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "suppressed_total",
			Help:      "Total number of signals suppressed by reason",
		}, []string{"reason"}),
		SignalsEscalated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "escalated_total",
			Help:      "Total number of signals that bypassed cooldown by escalation",
		}),
		SignalsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "dropped_total",
			Help:      "Total number of signals evicted from a full alert queue",
		}),
		AlertQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "queue_depth",
			Help:      "Current number of signals waiting for dispatch",
		}),
		RateBucketLevel: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "rate_bucket_level",
			Help:      "Current token bucket level of the alert rate limiter",
		}),

		// Dispatch metrics
		AlertsPosted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "alerts_posted_total",
			Help:      "Total number of alerts posted by poster",
		}, []string{"poster"}),
		DispatchAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Total number of post attempts including retries",
		}),
		DispatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "failures_total",
			Help:      "Total number of signals that exhausted their post retries",
		}),
		PostLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "post_latency_seconds",
			Help:      "External post latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Health metrics
		LastEventTimestamp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_event_timestamp",
			Help:      "Unix timestamp of the last event per source",
		}, []string{"source"}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventIngested increments the ingested counter for one event.
func RecordEventIngested(source, eventType string) {
	DefaultMetrics.EventsIngested.WithLabelValues(source, eventType).Inc()
}

// RecordVerdict increments the verdict counter and records the score for
// non-neutral verdicts.
func RecordVerdict(category string, score float64) {
	DefaultMetrics.VerdictsProduced.WithLabelValues(category).Inc()
	if category != "neutral" {
		DefaultMetrics.ScoreDistribution.Observe(score)
	}
}

// RecordSuppression increments the suppressed counter for one gate decision.
func RecordSuppression(reason string) {
	DefaultMetrics.SignalsSuppressed.WithLabelValues(reason).Inc()
}
