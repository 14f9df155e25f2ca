// Package search talks to the managed document-search service. The
// service owns the index and the ranking; this client only issues
// queries and normalizes the results.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/pkg/circuitbreaker"
	"github.com/civicsense/backend/pkg/logger"
	"github.com/civicsense/backend/pkg/retry"
)

// RetrievalError wraps any failure of the search boundary. Callers are
// expected to degrade to an empty context list rather than propagate it
// to the user.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

type Client struct {
	endpoint      string
	apiKey        string
	service       string
	stageLocation string
	httpClient    *http.Client
	cb            *circuitbreaker.CircuitBreaker
	retryPolicy   retry.Policy
}

type Config struct {
	Endpoint      string
	APIKey        string
	Service       string
	StageLocation string
	TimeoutSec    int
}

type searchRequest struct {
	Service string   `json:"service"`
	Query   string   `json:"query"`
	Columns []string `json:"columns"`
	Limit   int      `json:"limit"`
}

type searchResponse struct {
	Results []struct {
		Chunk        string `json:"chunk"`
		RelativePath string `json:"relative_path"`
	} `json:"results"`
}

func NewClient(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	cb := circuitbreaker.New("search", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	logger.Info("Search client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("service", cfg.Service),
	)

	return &Client{
		endpoint:      cfg.Endpoint,
		apiKey:        cfg.APIKey,
		service:       cfg.Service,
		stageLocation: cfg.StageLocation,
		httpClient:    &http.Client{Timeout: timeout},
		cb:            cb,
		retryPolicy: retry.Policy{
			MaxAttempts:    3,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       2 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}
}

// Search returns up to limit chunks ranked by the service. The order of
// the response is preserved; no re-ranking happens client side.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.ContextChunk, error) {
	if limit <= 0 {
		return nil, &RetrievalError{Err: fmt.Errorf("limit must be positive, got %d", limit)}
	}

	body, err := json.Marshal(searchRequest{
		Service: c.service,
		Query:   query,
		Columns: []string{"chunk", "relative_path"},
		Limit:   limit,
	})
	if err != nil {
		return nil, &RetrievalError{Err: err}
	}

	var parsed searchResponse

	err = c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryPolicy, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				fmt.Sprintf("%s/api/v2/search", c.endpoint), bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if c.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+c.apiKey)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("search request failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("search returned status %d", resp.StatusCode)
			}

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read search response: %w", err)
			}

			parsed = searchResponse{}
			if err := json.Unmarshal(data, &parsed); err != nil {
				return fmt.Errorf("failed to parse search response: %w", err)
			}

			return nil
		})
	})

	if err != nil {
		return nil, &RetrievalError{Err: err}
	}

	chunks := make([]models.ContextChunk, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if len(chunks) >= limit {
			break
		}
		chunks = append(chunks, models.ContextChunk{
			Text:       r.Chunk,
			SourcePath: r.RelativePath,
		})
	}

	logger.Debug("Search completed",
		zap.String("query", query),
		zap.Int("limit", limit),
		zap.Int("results", len(chunks)),
	)

	return chunks, nil
}

// SignedURL mints a time-limited download link for a source path.
// Returns an empty string on any failure or for an empty path; a
// failure here must never fail the retrieval that requested it.
func (c *Client) SignedURL(ctx context.Context, relativePath string) string {
	if relativePath == "" {
		return ""
	}

	params := url.Values{}
	params.Set("stage", c.stageLocation)
	params.Set("path", relativePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v2/signed-url?%s", c.endpoint, params.Encode()), nil)
	if err != nil {
		logger.Warn("Failed to build signed URL request", zap.Error(err))
		return ""
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("Signed URL request failed",
			zap.String("path", relativePath),
			zap.Error(err),
		)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("Signed URL request rejected",
			zap.String("path", relativePath),
			zap.Int("status", resp.StatusCode),
		)
		return ""
	}

	var parsed struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		logger.Warn("Failed to parse signed URL response", zap.Error(err))
		return ""
	}

	return parsed.URL
}
