// Package metrics holds the Prometheus instrumentation for the moderation
// pipeline and the realtime hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline
	MessagesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safechat_messages_submitted_total",
			Help: "Messages accepted by the pipeline",
		},
		[]string{"visibility"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safechat_analysis_duration_seconds",
			Help:    "Time spent in the analysis engine",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	AnalysisFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safechat_analysis_fallbacks_total",
			Help: "Analyses replaced by the default unanalyzed result",
		},
		[]string{"reason"},
	)

	// Moderation
	FlagsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safechat_flags_created_total",
			Help: "Flags created by kind and severity",
		},
		[]string{"type", "severity"},
	)

	FlagsReviewed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safechat_flags_reviewed_total",
			Help: "Flag reviews by resulting status",
		},
		[]string{"status"},
	)

	ModeratorActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safechat_moderator_actions_total",
			Help: "Moderator actions applied, by outcome",
		},
		[]string{"action", "result"},
	)

	// Realtime
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safechat_events_published_total",
			Help: "Events dispatched by the hub",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safechat_events_dropped_total",
			Help: "Events or frames dropped before delivery",
		},
		[]string{"reason"},
	)

	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safechat_ws_clients",
			Help: "Currently registered realtime subscribers",
		},
	)

	// HTTP
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safechat_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)
