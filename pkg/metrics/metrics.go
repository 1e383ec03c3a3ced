package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rudder_messages_total",
			Help: "Total number of messages processed, by terminal state",
		},
		[]string{"state"},
	)

	MessageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rudder_message_duration_seconds",
			Help:    "End-to-end per-message pipeline duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"state"},
	)
)

// Resolution metrics
var (
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rudder_resolutions_total",
			Help: "Total number of domain resolutions, by match strategy",
		},
		[]string{"strategy"},
	)

	ResolutionConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rudder_resolution_confidence",
			Help:    "Confidence scores of successful domain resolutions",
			Buckets: []float64{0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
		},
		[]string{"strategy"},
	)

	MatchCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rudder_match_cache_hits_total",
			Help: "Total number of fuzzy match cache hits",
		},
	)

	MatchCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rudder_match_cache_misses_total",
			Help: "Total number of fuzzy match cache misses",
		},
	)
)

// Classification metrics
var (
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rudder_classifications_total",
			Help: "Total number of classifications, by source (ai or keyword-fallback)",
		},
		[]string{"source"},
	)

	ClassifierCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rudder_classifier_call_duration_seconds",
			Help:    "Duration of AI classifier calls in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
	)

	ClassifierFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rudder_classifier_failures_total",
			Help: "Total number of AI classifier failures, by reason",
		},
		[]string{"reason"},
	)
)

// Routing metrics
var (
	RoutingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rudder_routing_decisions_total",
			Help: "Total number of routing decisions, by matched rule",
		},
		[]string{"rule"},
	)

	EscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rudder_escalations_total",
			Help: "Total number of escalated routing decisions",
		},
	)
)

// Registry metrics
var (
	RegistryReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rudder_registry_reloads_total",
			Help: "Total number of tenant registry reloads, by result",
		},
		[]string{"result"},
	)

	RegistryTenants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rudder_registry_tenants",
			Help: "Number of tenants in the current registry snapshot",
		},
	)
)

// LMTP ingestion metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rudder_connections_total",
			Help: "Total number of ingestion connections established",
		},
		[]string{"protocol"},
	)

	IngestedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rudder_ingested_messages_total",
			Help: "Total number of messages accepted for routing, by result",
		},
		[]string{"protocol", "result"},
	)
)
