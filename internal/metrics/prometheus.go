package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "civicsense_turn_duration_seconds",
			Help:    "Chat turn processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicsense_turns_total",
			Help: "Total number of chat turns processed",
		},
		[]string{"status"},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civicsense_retrieved_chunks",
			Help:    "Number of context chunks retrieved per turn",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		},
	)

	TokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicsense_tokens_used",
			Help: "Estimated tokens used (whitespace approximation)",
		},
		[]string{"type"},
	)

	EstimatedCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "civicsense_estimated_cost",
			Help: "Estimated completion cost in the configured currency",
		},
	)

	FeedbackScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "civicsense_feedback_score",
			Help: "Latest feedback-function score per metric",
		},
		[]string{"metric"},
	)

	ScoringFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicsense_scoring_failures_total",
			Help: "Feedback-function calls that produced no score",
		},
		[]string{"metric"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicsense_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civicsense_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(TurnDuration)
	prometheus.MustRegister(TurnsTotal)
	prometheus.MustRegister(RetrievedChunks)
	prometheus.MustRegister(TokensUsed)
	prometheus.MustRegister(EstimatedCost)
	prometheus.MustRegister(FeedbackScore)
	prometheus.MustRegister(ScoringFailures)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
