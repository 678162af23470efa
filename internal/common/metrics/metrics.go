package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmbeddingTierHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_tier_hits_total",
			Help: "Embedding lookups served per cache tier",
		},
		[]string{"tier"},
	)

	EmbeddingTierErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_tier_errors_total",
			Help: "Embedding tier round-trips that failed and were bypassed",
		},
		[]string{"tier"},
	)

	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "retrieval_duration_seconds",
			Help: "Wall time of one retrieve call including query embedding",
		},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Completion calls per provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "provider_call_duration_seconds",
			Help: "Latency of individual provider completion calls",
		},
		[]string{"provider"},
	)

	CouncilDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "council_deliberation_duration_seconds",
			Help: "Total deliberation time from dispatch to verdict",
		},
		[]string{"mode"},
	)

	ResponseCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_requests_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)
)
