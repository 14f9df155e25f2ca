package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsense/backend/internal/chat"
	"github.com/civicsense/backend/internal/llm"
	"github.com/civicsense/backend/internal/rag"
	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/internal/tracker"
)

type stubRetriever struct {
	chunks []models.ContextChunk
}

func (s *stubRetriever) Search(_ context.Context, _ string, _ int) ([]models.ContextChunk, error) {
	return s.chunks, nil
}

func (s *stubRetriever) SignedURL(_ context.Context, relativePath string) string {
	return "https://stage.example/" + relativePath
}

type stubCompleter struct {
	answer string
}

func (s *stubCompleter) Complete(_ context.Context, _ llm.CompletionRequest) (string, error) {
	return s.answer, nil
}

type stubStore struct {
	configs      map[string]*models.Configuration
	interactions []models.Interaction
	err          error
}

func (s *stubStore) GetConfiguration(name string) (*models.Configuration, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.configs[name], nil
}

func (s *stubStore) GetRecentInteractions(_ int) ([]models.Interaction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.interactions, nil
}

func newTestChatApp(store *stubStore) *fiber.App {
	log := tracker.NewLog()
	trk := tracker.New(log, tracker.Pricing{PromptPerThousand: 0.7, CompletionPerThousand: 2.0}, "1.0")

	engine := chat.NewEngine(
		rag.NewPredictor(&stubCompleter{answer: "Permits are required downtown."}),
		&stubRetriever{chunks: []models.ContextChunk{{Text: "permits required", SourcePath: "permits.pdf"}}},
		trk, nil, nil, nil,
		chat.Options{ContextWindow: 4, Currency: "USD", DefaultConfig: models.Configuration{Name: "default", ContextWindow: 4}},
	)

	handler := NewChatHandler(engine, store, store)

	app := fiber.New()
	app.Post("/api/v1/chat", handler.HandleChat)
	app.Get("/api/v1/chat/history", handler.GetHistory)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body interface{}) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHandleChat(t *testing.T) {
	app := newTestChatApp(&stubStore{})

	resp := postJSON(t, app, "/api/v1/chat", map[string]interface{}{
		"query": "do I need a permit",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ID      string                `json:"id"`
		Answer  string                `json:"answer"`
		Sources []models.ContextChunk `json:"sources"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.NotEmpty(t, body.ID)
	assert.Equal(t, "Permits are required downtown.", body.Answer)
	require.Len(t, body.Sources, 1)
	assert.Equal(t, "permits.pdf", body.Sources[0].SourcePath)
}

func TestHandleChatMissingQuery(t *testing.T) {
	app := newTestChatApp(&stubStore{})

	resp := postJSON(t, app, "/api/v1/chat", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleChatUnknownConfig(t *testing.T) {
	app := newTestChatApp(&stubStore{configs: map[string]*models.Configuration{}})

	resp := postJSON(t, app, "/api/v1/chat", map[string]interface{}{
		"query":       "do I need a permit",
		"config_name": "missing",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleChatConfigLookupErrorFallsBack(t *testing.T) {
	app := newTestChatApp(&stubStore{err: errors.New("warehouse down")})

	resp := postJSON(t, app, "/api/v1/chat", map[string]interface{}{
		"query":       "do I need a permit",
		"config_name": "anything",
	})
	// The turn still succeeds on the default configuration.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetHistory(t *testing.T) {
	store := &stubStore{interactions: []models.Interaction{
		{ID: "id-1", Query: "q1"},
		{ID: "id-2", Query: "q2"},
	}}
	app := newTestChatApp(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/history?limit=5", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		History []models.Interaction `json:"history"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.History, 2)
}

func TestGetHistoryStoreError(t *testing.T) {
	app := newTestChatApp(&stubStore{err: errors.New("warehouse down")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/history", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
