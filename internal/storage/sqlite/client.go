package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/pkg/logger"
)

// PersistenceError wraps a warehouse failure. The interaction log in
// memory remains the source of truth for the session; warehouse
// failures degrade to logged warnings and zero-row reads.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

const bucketLayout = "2006-01-02 15:04:05"

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("Warehouse client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

// NewClientWithDB wires an existing handle, used by tests.
func NewClientWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		standalone_query TEXT,
		answer TEXT,
		sources TEXT,
		config_name TEXT,
		app_version TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		cost REAL NOT NULL,
		currency TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_interactions_version ON interactions(app_version);
	CREATE INDEX IF NOT EXISTS idx_interactions_config ON interactions(config_name);

	CREATE TABLE IF NOT EXISTS feedback_scores (
		interaction_id TEXT PRIMARY KEY,
		groundedness REAL,
		context_relevance REAL,
		answer_relevance REAL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (interaction_id) REFERENCES interactions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS configurations (
		name TEXT PRIMARY KEY,
		context_window INTEGER NOT NULL,
		temperature REAL NOT NULL,
		top_p REAL NOT NULL,
		max_tokens INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return &PersistenceError{Op: "init schema", Err: err}
	}

	logger.Info("Warehouse schema initialized")
	return nil
}

func (c *Client) InsertInteraction(interaction *models.Interaction, currency string) error {
	sourcesJSON, _ := json.Marshal(interaction.Sources)

	query := `
		INSERT INTO interactions (id, query, standalone_query, answer, sources, config_name,
			app_version, prompt_tokens, completion_tokens, latency_ms, cost, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		interaction.ID,
		interaction.Query,
		interaction.StandaloneQuery,
		interaction.Answer,
		string(sourcesJSON),
		interaction.ConfigName,
		interaction.AppVersion,
		interaction.PromptTokens,
		interaction.CompletionTokens,
		interaction.LatencyMS,
		interaction.Cost,
		currency,
		interaction.CreatedAt.Unix(),
	)

	if err != nil {
		return &PersistenceError{Op: "insert interaction", Err: err}
	}

	logger.Debug("Interaction persisted", zap.String("interaction_id", interaction.ID))
	return nil
}

// InsertFeedbackScores records the one-time score fill-in for an
// interaction. A second insert for the same interaction is ignored so
// present scores are never changed.
func (c *Client) InsertFeedbackScores(interactionID string, scores *models.FeedbackScores) error {
	query := `
		INSERT OR IGNORE INTO feedback_scores (interaction_id, groundedness, context_relevance, answer_relevance, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		interactionID,
		nullableFloat(scores.Groundedness),
		nullableFloat(scores.ContextRelevance),
		nullableFloat(scores.AnswerRelevance),
		time.Now().Unix(),
	)

	if err != nil {
		return &PersistenceError{Op: "insert feedback scores", Err: err}
	}

	return nil
}

func (c *Client) InsertConfiguration(config *models.Configuration) error {
	query := `
		INSERT INTO configurations (name, context_window, temperature, top_p, max_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		config.Name,
		config.ContextWindow,
		config.Temperature,
		config.TopP,
		config.MaxTokens,
		config.CreatedAt.Unix(),
	)

	if err != nil {
		return &PersistenceError{Op: "insert configuration", Err: err}
	}

	logger.Info("Configuration created", zap.String("name", config.Name))
	return nil
}

func (c *Client) GetConfiguration(name string) (*models.Configuration, error) {
	query := `SELECT name, context_window, temperature, top_p, max_tokens, created_at FROM configurations WHERE name = ?`

	var config models.Configuration
	var createdAt int64

	err := c.db.QueryRow(query, name).Scan(
		&config.Name,
		&config.ContextWindow,
		&config.Temperature,
		&config.TopP,
		&config.MaxTokens,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get configuration", Err: err}
	}

	config.CreatedAt = time.Unix(createdAt, 0)
	return &config, nil
}

func (c *Client) GetConfigurations() ([]models.Configuration, error) {
	query := `SELECT name, context_window, temperature, top_p, max_tokens, created_at FROM configurations ORDER BY created_at DESC`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, &PersistenceError{Op: "get configurations", Err: err}
	}
	defer rows.Close()

	configs := make([]models.Configuration, 0)
	for rows.Next() {
		var config models.Configuration
		var createdAt int64
		if err := rows.Scan(&config.Name, &config.ContextWindow, &config.Temperature, &config.TopP, &config.MaxTokens, &createdAt); err != nil {
			return nil, &PersistenceError{Op: "get configurations", Err: err}
		}
		config.CreatedAt = time.Unix(createdAt, 0)
		configs = append(configs, config)
	}

	return configs, rows.Err()
}

func (c *Client) GetRecentInteractions(limit int) ([]models.Interaction, error) {
	query := `
		SELECT id, query, standalone_query, answer, sources, config_name, app_version,
			prompt_tokens, completion_tokens, latency_ms, cost, created_at
		FROM interactions
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "get recent interactions", Err: err}
	}
	defer rows.Close()

	interactions := make([]models.Interaction, 0)
	for rows.Next() {
		var in models.Interaction
		var sourcesJSON string
		var createdAt int64

		err := rows.Scan(
			&in.ID,
			&in.Query,
			&in.StandaloneQuery,
			&in.Answer,
			&sourcesJSON,
			&in.ConfigName,
			&in.AppVersion,
			&in.PromptTokens,
			&in.CompletionTokens,
			&in.LatencyMS,
			&in.Cost,
			&createdAt,
		)
		if err != nil {
			return nil, &PersistenceError{Op: "get recent interactions", Err: err}
		}

		json.Unmarshal([]byte(sourcesJSON), &in.Sources)
		in.CreatedAt = time.Unix(createdAt, 0)
		interactions = append(interactions, in)
	}

	return interactions, rows.Err()
}

// GetFeedbackMetrics returns min/avg/max per score name and app
// version. Only interactions that actually carry a score contribute;
// NULL scores never count as zero.
func (c *Client) GetFeedbackMetrics() ([]models.FeedbackMetricRow, error) {
	query := `
		SELECT name, MIN(score) AS min_score, AVG(score) AS avg_score, MAX(score) AS max_score,
			COUNT(*) AS query_count, app_version
		FROM (
			SELECT 'Groundedness' AS name, f.groundedness AS score, i.app_version
			FROM feedback_scores f JOIN interactions i ON i.id = f.interaction_id
			WHERE f.groundedness IS NOT NULL
			UNION ALL
			SELECT 'Context Relevance' AS name, f.context_relevance AS score, i.app_version
			FROM feedback_scores f JOIN interactions i ON i.id = f.interaction_id
			WHERE f.context_relevance IS NOT NULL
			UNION ALL
			SELECT 'Answer Relevance' AS name, f.answer_relevance AS score, i.app_version
			FROM feedback_scores f JOIN interactions i ON i.id = f.interaction_id
			WHERE f.answer_relevance IS NOT NULL
		)
		GROUP BY name, app_version
		ORDER BY app_version DESC, name
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, &PersistenceError{Op: "feedback metrics", Err: err}
	}
	defer rows.Close()

	out := make([]models.FeedbackMetricRow, 0)
	for rows.Next() {
		var r models.FeedbackMetricRow
		if err := rows.Scan(&r.Name, &r.MinScore, &r.AvgScore, &r.MaxScore, &r.QueryCount, &r.AppVersion); err != nil {
			return nil, &PersistenceError{Op: "feedback metrics", Err: err}
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// GetCostMetrics returns hour-bucketed token and cost sums per app
// version, newest first.
func (c *Client) GetCostMetrics() ([]models.CostMetricRow, error) {
	query := `
		SELECT strftime('%Y-%m-%d %H:00:00', created_at, 'unixepoch') AS bucket,
			app_version,
			COUNT(*) AS query_count,
			SUM(prompt_tokens + completion_tokens) AS tokens,
			SUM(prompt_tokens) AS prompt_tokens,
			SUM(completion_tokens) AS completion_tokens,
			SUM(cost) AS cost,
			MAX(currency) AS currency
		FROM interactions
		GROUP BY bucket, app_version
		ORDER BY bucket DESC, app_version DESC
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, &PersistenceError{Op: "cost metrics", Err: err}
	}
	defer rows.Close()

	out := make([]models.CostMetricRow, 0)
	for rows.Next() {
		var r models.CostMetricRow
		var bucket string
		var currency sql.NullString
		if err := rows.Scan(&bucket, &r.AppVersion, &r.QueryCount, &r.Tokens, &r.PromptTokens, &r.CompletionTokens, &r.Cost, &currency); err != nil {
			return nil, &PersistenceError{Op: "cost metrics", Err: err}
		}
		r.Bucket, _ = time.Parse(bucketLayout, bucket)
		r.Currency = currency.String
		out = append(out, r)
	}

	return out, rows.Err()
}

// GetLatencyMetrics returns hour-bucketed latency stats per app
// version, newest first.
func (c *Client) GetLatencyMetrics() ([]models.LatencyMetricRow, error) {
	query := `
		SELECT strftime('%Y-%m-%d %H:00:00', created_at, 'unixepoch') AS bucket,
			app_version,
			MIN(latency_ms) AS min_latency,
			AVG(latency_ms) AS avg_latency,
			MAX(latency_ms) AS max_latency,
			COUNT(*) AS request_count
		FROM interactions
		GROUP BY bucket, app_version
		ORDER BY bucket DESC, app_version DESC
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, &PersistenceError{Op: "latency metrics", Err: err}
	}
	defer rows.Close()

	out := make([]models.LatencyMetricRow, 0)
	for rows.Next() {
		var r models.LatencyMetricRow
		var bucket string
		if err := rows.Scan(&bucket, &r.AppVersion, &r.MinLatencyMS, &r.AvgLatencyMS, &r.MaxLatencyMS, &r.RequestCount); err != nil {
			return nil, &PersistenceError{Op: "latency metrics", Err: err}
		}
		r.Bucket, _ = time.Parse(bucketLayout, bucket)
		out = append(out, r)
	}

	return out, rows.Err()
}

// GetDailyStats returns the last seven day-bucketed summaries, newest
// first.
func (c *Client) GetDailyStats() ([]models.DailyStatRow, error) {
	query := `
		SELECT strftime('%Y-%m-%d 00:00:00', created_at, 'unixepoch') AS day,
			app_version,
			COUNT(*) AS query_count,
			AVG(latency_ms) AS avg_latency,
			AVG(cost) AS avg_cost
		FROM interactions
		GROUP BY day, app_version
		ORDER BY day DESC, app_version DESC
		LIMIT 7
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, &PersistenceError{Op: "daily stats", Err: err}
	}
	defer rows.Close()

	out := make([]models.DailyStatRow, 0)
	for rows.Next() {
		var r models.DailyStatRow
		var day string
		if err := rows.Scan(&day, &r.AppVersion, &r.QueryCount, &r.AvgLatencyMS, &r.AvgCost); err != nil {
			return nil, &PersistenceError{Op: "daily stats", Err: err}
		}
		r.Day, _ = time.Parse(bucketLayout, day)
		out = append(out, r)
	}

	return out, rows.Err()
}

// GetModelEvaluation aggregates feedback, latency and cost per
// configuration for version comparison. Score averages stay NULL when
// no interaction under the configuration was scored.
func (c *Client) GetModelEvaluation() ([]models.EvaluationRow, error) {
	query := `
		SELECT i.config_name, i.app_version,
			COUNT(*) AS total_queries,
			AVG(f.groundedness) AS avg_groundedness,
			AVG(f.context_relevance) AS avg_context_relevance,
			AVG(f.answer_relevance) AS avg_answer_relevance,
			AVG(i.latency_ms) AS avg_latency,
			AVG(i.cost) AS avg_cost
		FROM interactions i
		LEFT JOIN feedback_scores f ON f.interaction_id = i.id
		GROUP BY i.config_name, i.app_version
		ORDER BY i.app_version DESC, i.config_name
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, &PersistenceError{Op: "model evaluation", Err: err}
	}
	defer rows.Close()

	out := make([]models.EvaluationRow, 0)
	for rows.Next() {
		var r models.EvaluationRow
		var g, cr, ar sql.NullFloat64
		if err := rows.Scan(&r.ConfigName, &r.AppVersion, &r.TotalQueries, &g, &cr, &ar, &r.AvgLatencyMS, &r.AvgCost); err != nil {
			return nil, &PersistenceError{Op: "model evaluation", Err: err}
		}
		if g.Valid {
			r.AvgGroundedness = &g.Float64
		}
		if cr.Valid {
			r.AvgContextRelevance = &cr.Float64
		}
		if ar.Valid {
			r.AvgAnswerRelevance = &ar.Float64
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
