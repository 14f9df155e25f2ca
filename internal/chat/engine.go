// Package chat runs the per-turn orchestration pipeline: rewrite the
// follow-up, retrieve context, generate a grounded answer, track the
// turn, persist it and hand it to the feedback scorer. Every stage
// degrades on failure; the user always gets an answer.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/metrics"
	"github.com/civicsense/backend/internal/rag"
	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/internal/tracker"
	"github.com/civicsense/backend/pkg/logger"
	"github.com/civicsense/backend/pkg/utils"
)

// Retriever is the slice of the search client the engine needs.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]models.ContextChunk, error)
	SignedURL(ctx context.Context, relativePath string) string
}

// ContextCache caches retrieved context per query hash. Implementations
// must never store signed URLs.
type ContextCache interface {
	GetContext(ctx context.Context, queryHash string) ([]models.ContextChunk, bool)
	SetContext(ctx context.Context, queryHash string, chunks []models.ContextChunk) error
}

// Scorer grades a finished interaction; it runs after the answer was
// already returned and must not block the turn.
type Scorer interface {
	Score(ctx context.Context, interaction models.Interaction) *models.FeedbackScores
}

// Persister is the warehouse slice the engine writes to.
type Persister interface {
	InsertInteraction(interaction *models.Interaction, currency string) error
	InsertFeedbackScores(interactionID string, scores *models.FeedbackScores) error
}

type Options struct {
	RewriteEnabled bool
	ContextWindow  int
	Currency       string
	DefaultConfig  models.Configuration
	ScoringTimeout time.Duration
}

type Engine struct {
	predictor *rag.Predictor
	retriever Retriever
	tracker   *tracker.Tracker
	scorer    Scorer
	warehouse Persister
	cache     ContextCache
	opts      Options
}

type TurnRequest struct {
	Query   string
	History []string
	Config  *models.Configuration
}

type TurnResponse struct {
	ID              string                `json:"id"`
	Query           string                `json:"query"`
	StandaloneQuery string                `json:"standalone_query,omitempty"`
	Answer          string                `json:"answer"`
	Sources         []models.ContextChunk `json:"sources"`
	LatencyMS       int                   `json:"latency_ms"`
}

func NewEngine(predictor *rag.Predictor, retriever Retriever, trk *tracker.Tracker, scorer Scorer, warehouse Persister, cache ContextCache, opts Options) *Engine {
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 4
	}
	if opts.ScoringTimeout == 0 {
		opts.ScoringTimeout = 2 * time.Minute
	}
	return &Engine{
		predictor: predictor,
		retriever: retriever,
		tracker:   trk,
		scorer:    scorer,
		warehouse: warehouse,
		cache:     cache,
		opts:      opts,
	}
}

// ProcessTurn runs one user turn through the pipeline. It never fails
// the turn for an external-service error: retrieval failure degrades to
// empty context, generation failure to the fixed apology.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest) *TurnResponse {
	interactionID := uuid.New().String()
	start := time.Now()

	logger.Info("Processing turn",
		zap.String("interaction_id", interactionID),
		zap.String("query", req.Query),
	)

	config := e.opts.DefaultConfig
	if req.Config != nil {
		config = *req.Config
	}

	rec := e.tracker.Begin(interactionID, req.Query)
	rec.ConfigName = config.Name

	searchQuery := req.Query
	if e.opts.RewriteEnabled && len(req.History) > 0 {
		standalone, err := e.predictor.RewriteQuestion(ctx, req.Query, req.History, config)
		if err != nil {
			logger.Warn("Question rewrite failed, using original query",
				zap.String("interaction_id", interactionID),
				zap.Error(err),
			)
		} else {
			// The rewrite is used verbatim, empty or not.
			searchQuery = standalone
			rec.StandaloneQuery = standalone
		}
	}

	limit := config.ContextWindow
	if limit <= 0 {
		limit = e.opts.ContextWindow
	}

	chunks := e.retrieveContext(ctx, searchQuery, limit)
	rec.Context = chunks
	metrics.RetrievedChunks.Observe(float64(len(chunks)))

	gen, err := e.predictor.GenerateAnswer(ctx, req.Query, chunks, config)
	if err != nil {
		logger.Error("Answer generation failed",
			zap.String("interaction_id", interactionID),
			zap.Error(err),
		)
		metrics.TurnsTotal.WithLabelValues("degraded").Inc()
		gen = &rag.Generation{
			Answer:  rag.ApologyMessage,
			Sources: []string{},
		}
	} else {
		metrics.TurnsTotal.WithLabelValues("ok").Inc()
	}

	rec.Answer = gen.Answer
	rec.Sources = gen.Sources

	interaction := rec.End()

	metrics.TurnDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	metrics.TokensUsed.WithLabelValues("prompt").Add(float64(interaction.PromptTokens))
	metrics.TokensUsed.WithLabelValues("completion").Add(float64(interaction.CompletionTokens))
	metrics.EstimatedCost.Add(interaction.Cost)

	if e.warehouse != nil {
		if err := e.warehouse.InsertInteraction(interaction, e.opts.Currency); err != nil {
			logger.Warn("Failed to persist interaction",
				zap.String("interaction_id", interactionID),
				zap.Error(err),
			)
		}
	}

	// Scoring runs after the response is complete; it never gates the
	// answer and executes at most once per interaction.
	if e.scorer != nil {
		go e.scoreInteraction(*interaction)
	}

	return &TurnResponse{
		ID:              interaction.ID,
		Query:           interaction.Query,
		StandaloneQuery: interaction.StandaloneQuery,
		Answer:          interaction.Answer,
		Sources:         chunks,
		LatencyMS:       interaction.LatencyMS,
	}
}

// retrieveContext resolves context through the cache and the search
// service, degrading to an empty list on retrieval failure. Signed URLs
// are minted fresh on every call, cache hit or not.
func (e *Engine) retrieveContext(ctx context.Context, query string, limit int) []models.ContextChunk {
	queryHash := utils.HashQuery(query)

	var chunks []models.ContextChunk
	cached := false

	if e.cache != nil {
		if hit, ok := e.cache.GetContext(ctx, queryHash); ok {
			chunks = hit
			cached = true
			metrics.CacheHits.WithLabelValues("context").Inc()
		} else {
			metrics.CacheMisses.WithLabelValues("context").Inc()
		}
	}

	if !cached {
		result, err := e.retriever.Search(ctx, query, limit)
		if err != nil {
			logger.Warn("Retrieval failed, continuing with empty context",
				zap.String("query", query),
				zap.Error(err),
			)
			return []models.ContextChunk{}
		}
		chunks = result

		if e.cache != nil && len(chunks) > 0 {
			if err := e.cache.SetContext(ctx, queryHash, chunks); err != nil {
				logger.Warn("Failed to cache context", zap.Error(err))
			}
		}
	}

	for i := range chunks {
		chunks[i].SignedURL = e.retriever.SignedURL(ctx, chunks[i].SourcePath)
	}

	return chunks
}

func (e *Engine) scoreInteraction(interaction models.Interaction) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.ScoringTimeout)
	defer cancel()

	scores := e.scorer.Score(ctx, interaction)

	if !e.tracker.Log().AttachScores(interaction.ID, scores) {
		logger.Warn("Scores not attached",
			zap.String("interaction_id", interaction.ID),
		)
		return
	}

	observeScore("groundedness", scores.Groundedness)
	observeScore("context_relevance", scores.ContextRelevance)
	observeScore("answer_relevance", scores.AnswerRelevance)

	if e.warehouse != nil {
		if err := e.warehouse.InsertFeedbackScores(interaction.ID, scores); err != nil {
			logger.Warn("Failed to persist feedback scores",
				zap.String("interaction_id", interaction.ID),
				zap.Error(err),
			)
		}
	}

	logger.Info("Interaction scored", zap.String("interaction_id", interaction.ID))
}

func observeScore(metric string, score *float64) {
	if score == nil {
		metrics.ScoringFailures.WithLabelValues(metric).Inc()
		return
	}
	metrics.FeedbackScore.WithLabelValues(metric).Set(*score)
}
