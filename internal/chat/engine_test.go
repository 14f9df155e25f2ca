package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsense/backend/internal/llm"
	"github.com/civicsense/backend/internal/rag"
	"github.com/civicsense/backend/internal/search"
	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/internal/tracker"
)

type fakeRetriever struct {
	chunks      []models.ContextChunk
	err         error
	searchCalls int
	lastQuery   string
	lastLimit   int
}

func (f *fakeRetriever) Search(_ context.Context, query string, limit int) ([]models.ContextChunk, error) {
	f.searchCalls++
	f.lastQuery = query
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

func (f *fakeRetriever) SignedURL(_ context.Context, relativePath string) string {
	if relativePath == "" {
		return ""
	}
	return "https://stage.example/" + relativePath
}

type fakeCompleter struct {
	rewrite string
	answer  string
	err     error
	calls   int
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(req.Prompt, "Standalone question:") {
		return f.rewrite, nil
	}
	return f.answer, nil
}

type fakeScorer struct {
	mu     sync.Mutex
	scored []string
	done   chan struct{}
}

func (f *fakeScorer) Score(_ context.Context, interaction models.Interaction) *models.FeedbackScores {
	f.mu.Lock()
	f.scored = append(f.scored, interaction.ID)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	g := 0.9
	return &models.FeedbackScores{Groundedness: &g}
}

type fakeWarehouse struct {
	mu           sync.Mutex
	interactions []*models.Interaction
	scores       map[string]*models.FeedbackScores
	insertErr    error
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{scores: make(map[string]*models.FeedbackScores)}
}

func (f *fakeWarehouse) InsertInteraction(interaction *models.Interaction, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.interactions = append(f.interactions, interaction)
	return nil
}

func (f *fakeWarehouse) InsertFeedbackScores(interactionID string, scores *models.FeedbackScores) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[interactionID] = scores
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]models.ContextChunk
	hits    int
	misses  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]models.ContextChunk)}
}

func (f *fakeCache) GetContext(_ context.Context, queryHash string) ([]models.ContextChunk, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chunks, ok := f.entries[queryHash]
	if ok {
		f.hits++
	} else {
		f.misses++
	}
	return chunks, ok
}

func (f *fakeCache) SetContext(_ context.Context, queryHash string, chunks []models.ContextChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := make([]models.ContextChunk, len(chunks))
	for i, chunk := range chunks {
		stored[i] = models.ContextChunk{Text: chunk.Text, SourcePath: chunk.SourcePath}
	}
	f.entries[queryHash] = stored
	return nil
}

func newTestEngine(retriever Retriever, completer rag.Completer, scorer Scorer, warehouse Persister, cache ContextCache, rewrite bool) (*Engine, *tracker.Log) {
	log := tracker.NewLog()
	trk := tracker.New(log, tracker.Pricing{PromptPerThousand: 0.7, CompletionPerThousand: 2.0}, "1.0")

	engine := NewEngine(rag.NewPredictor(completer), retriever, trk, scorer, warehouse, cache, Options{
		RewriteEnabled: rewrite,
		ContextWindow:  4,
		Currency:       "USD",
		DefaultConfig:  models.Configuration{Name: "default", ContextWindow: 4},
		ScoringTimeout: time.Second,
	})
	return engine, log
}

func TestProcessTurn(t *testing.T) {
	retriever := &fakeRetriever{chunks: []models.ContextChunk{
		{Text: "permits are required downtown", SourcePath: "permits.pdf"},
	}}
	completer := &fakeCompleter{answer: "Permits are required downtown."}
	warehouse := newFakeWarehouse()
	scorer := &fakeScorer{done: make(chan struct{})}

	engine, log := newTestEngine(retriever, completer, scorer, warehouse, nil, false)

	resp := engine.ProcessTurn(context.Background(), TurnRequest{Query: "do I need a permit"})

	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "Permits are required downtown.", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "permits.pdf", resp.Sources[0].SourcePath)
	assert.Equal(t, "https://stage.example/permits.pdf", resp.Sources[0].SignedURL)

	assert.Equal(t, 1, log.Len())

	select {
	case <-scorer.done:
	case <-time.After(time.Second):
		t.Fatal("scorer was never invoked")
	}

	// Scores land in the log and the warehouse.
	require.Eventually(t, func() bool {
		warehouse.mu.Lock()
		defer warehouse.mu.Unlock()
		return warehouse.scores[resp.ID] != nil
	}, time.Second, 10*time.Millisecond)

	entries := log.Snapshot()
	require.Len(t, entries, 1)
	assert.NotNil(t, entries[0].Scores)

	warehouse.mu.Lock()
	defer warehouse.mu.Unlock()
	require.Len(t, warehouse.interactions, 1)
	assert.Equal(t, resp.ID, warehouse.interactions[0].ID)
}

func TestProcessTurnRetrievalFailureDegradesToNoInformation(t *testing.T) {
	retriever := &fakeRetriever{err: &search.RetrievalError{Err: errors.New("search down")}}
	completer := &fakeCompleter{answer: "should not be called"}
	warehouse := newFakeWarehouse()

	engine, log := newTestEngine(retriever, completer, nil, warehouse, nil, false)

	resp := engine.ProcessTurn(context.Background(), TurnRequest{Query: "anything"})

	assert.Equal(t, rag.NoInformationMessage, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, 0, completer.calls, "no completion call without context")
	assert.Equal(t, 1, log.Len())
}

func TestProcessTurnGenerationFailureDegradesToApology(t *testing.T) {
	retriever := &fakeRetriever{chunks: []models.ContextChunk{{Text: "context", SourcePath: "a.pdf"}}}
	completer := &fakeCompleter{err: errors.New("completion down")}
	warehouse := newFakeWarehouse()

	engine, log := newTestEngine(retriever, completer, nil, warehouse, nil, false)

	resp := engine.ProcessTurn(context.Background(), TurnRequest{Query: "anything"})

	assert.Equal(t, rag.ApologyMessage, resp.Answer)
	assert.Equal(t, 1, log.Len())

	entries := log.Snapshot()
	assert.Equal(t, rag.ApologyMessage, entries[0].Answer)
	assert.Empty(t, entries[0].Sources)
}

func TestProcessTurnRewritesFollowUps(t *testing.T) {
	retriever := &fakeRetriever{chunks: []models.ContextChunk{{Text: "context", SourcePath: "a.pdf"}}}
	completer := &fakeCompleter{
		rewrite: "what are the downtown parking permit fees",
		answer:  "The fees are listed online.",
	}

	engine, _ := newTestEngine(retriever, completer, nil, newFakeWarehouse(), nil, true)

	resp := engine.ProcessTurn(context.Background(), TurnRequest{
		Query:   "and the fees",
		History: []string{"user: tell me about permits"},
	})

	assert.Equal(t, "what are the downtown parking permit fees", resp.StandaloneQuery)
	assert.Equal(t, "what are the downtown parking permit fees", retriever.lastQuery)
}

func TestProcessTurnSkipsRewriteWithoutHistory(t *testing.T) {
	retriever := &fakeRetriever{chunks: []models.ContextChunk{{Text: "context", SourcePath: "a.pdf"}}}
	completer := &fakeCompleter{rewrite: "rewritten", answer: "An answer."}

	engine, _ := newTestEngine(retriever, completer, nil, newFakeWarehouse(), nil, true)

	resp := engine.ProcessTurn(context.Background(), TurnRequest{Query: "first question"})

	assert.Empty(t, resp.StandaloneQuery)
	assert.Equal(t, "first question", retriever.lastQuery)
	assert.Equal(t, 1, completer.calls, "only the answer call should happen")
}

func TestProcessTurnPersistenceFailureStillAnswers(t *testing.T) {
	retriever := &fakeRetriever{chunks: []models.ContextChunk{{Text: "context", SourcePath: "a.pdf"}}}
	completer := &fakeCompleter{answer: "An answer."}
	warehouse := newFakeWarehouse()
	warehouse.insertErr = errors.New("disk full")

	engine, log := newTestEngine(retriever, completer, nil, warehouse, nil, false)

	resp := engine.ProcessTurn(context.Background(), TurnRequest{Query: "anything"})

	assert.Equal(t, "An answer.", resp.Answer)
	assert.Equal(t, 1, log.Len())
}

func TestProcessTurnUsesCache(t *testing.T) {
	retriever := &fakeRetriever{chunks: []models.ContextChunk{
		{Text: "permits are required downtown", SourcePath: "permits.pdf"},
	}}
	completer := &fakeCompleter{answer: "An answer."}
	cache := newFakeCache()

	engine, _ := newTestEngine(retriever, completer, nil, newFakeWarehouse(), cache, false)

	first := engine.ProcessTurn(context.Background(), TurnRequest{Query: "do I need a permit"})
	second := engine.ProcessTurn(context.Background(), TurnRequest{Query: "do I need a permit"})

	assert.Equal(t, 1, retriever.searchCalls, "second turn should hit the cache")
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, 1, cache.misses)

	// Signed URLs are minted fresh even on cache hits.
	require.Len(t, first.Sources, 1)
	require.Len(t, second.Sources, 1)
	assert.Equal(t, "https://stage.example/permits.pdf", second.Sources[0].SignedURL)
}

func TestProcessTurnUsesRequestConfigLimit(t *testing.T) {
	retriever := &fakeRetriever{chunks: []models.ContextChunk{{Text: "context", SourcePath: "a.pdf"}}}
	completer := &fakeCompleter{answer: "An answer."}

	engine, _ := newTestEngine(retriever, completer, nil, newFakeWarehouse(), nil, false)

	engine.ProcessTurn(context.Background(), TurnRequest{
		Query:  "anything",
		Config: &models.Configuration{Name: "wide", ContextWindow: 9},
	})

	assert.Equal(t, 9, retriever.lastLimit)
}
