package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/pkg/logger"
)

// Client caches retrieved context per query hash. Cached entries carry
// text and source path only; signed URLs are minted per request and are
// never written here.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

type cachedChunk struct {
	Text       string `json:"text"`
	SourcePath string `json:"source_path"`
}

// SetContext caches the retrieved chunks for a query hash, dropping any
// signed URLs first.
func (c *Client) SetContext(ctx context.Context, queryHash string, chunks []models.ContextChunk) error {
	stripped := make([]cachedChunk, len(chunks))
	for i, chunk := range chunks {
		stripped[i] = cachedChunk{Text: chunk.Text, SourcePath: chunk.SourcePath}
	}

	data, err := json.Marshal(stripped)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	if err := c.client.Set(ctx, contextKey(queryHash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set context cache: %w", err)
	}

	logger.Debug("Context cached", zap.String("query_hash", queryHash), zap.Int("chunks", len(chunks)))
	return nil
}

// GetContext returns the cached chunks for a query hash, or false on a
// miss. Any error is reported as a miss so the caller falls through to
// the search service.
func (c *Client) GetContext(ctx context.Context, queryHash string) ([]models.ContextChunk, bool) {
	data, err := c.client.Get(ctx, contextKey(queryHash)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("Context cache read failed", zap.String("query_hash", queryHash), zap.Error(err))
		return nil, false
	}

	var stripped []cachedChunk
	if err := json.Unmarshal(data, &stripped); err != nil {
		logger.Warn("Context cache entry corrupt", zap.String("query_hash", queryHash), zap.Error(err))
		return nil, false
	}

	chunks := make([]models.ContextChunk, len(stripped))
	for i, s := range stripped {
		chunks[i] = models.ContextChunk{Text: s.Text, SourcePath: s.SourcePath}
	}

	logger.Debug("Context cache hit", zap.String("query_hash", queryHash))
	return chunks, true
}

func contextKey(queryHash string) string {
	return fmt.Sprintf("context:%s", queryHash)
}
