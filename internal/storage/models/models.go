package models

import "time"

// ContextChunk is one retrieved passage. SignedURL is minted on demand
// per request and must never be cached or persisted; requesting it twice
// may yield different URLs.
type ContextChunk struct {
	Text       string `json:"text"`
	SourcePath string `json:"source_path"`
	SignedURL  string `json:"signed_url,omitempty"`
}

// FeedbackScores holds the three feedback-function results for one
// interaction. Nil means the score was never produced; that is distinct
// from a score of zero and must stay NULL in the warehouse.
type FeedbackScores struct {
	Groundedness     *float64 `json:"groundedness,omitempty"`
	ContextRelevance *float64 `json:"context_relevance,omitempty"`
	AnswerRelevance  *float64 `json:"answer_relevance,omitempty"`
}

// Interaction is one user turn through the pipeline. It is immutable
// after creation except for Scores, which is filled in once by the
// feedback scorer (absent -> present, never changed).
type Interaction struct {
	ID               string
	Query            string
	StandaloneQuery  string
	Context          []ContextChunk
	Answer           string
	Sources          []string
	ConfigName       string
	AppVersion       string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int
	Cost             float64
	CreatedAt        time.Time
	Scores           *FeedbackScores
}

// Configuration is a named, immutable set of generation parameters used
// to tag a batch of interactions for comparison.
type Configuration struct {
	Name          string    `json:"name"`
	ContextWindow int       `json:"context_window"`
	Temperature   float32   `json:"temperature"`
	TopP          float32   `json:"top_p"`
	MaxTokens     int       `json:"max_tokens"`
	CreatedAt     time.Time `json:"created_at"`
}

// FeedbackMetricRow is one per-score-name, per-version aggregate row.
type FeedbackMetricRow struct {
	Name       string  `json:"name"`
	MinScore   float64 `json:"min_score"`
	AvgScore   float64 `json:"avg_score"`
	MaxScore   float64 `json:"max_score"`
	QueryCount int     `json:"query_count"`
	AppVersion string  `json:"app_version"`
}

// CostMetricRow is one hour-bucketed cost aggregate row.
type CostMetricRow struct {
	Bucket           time.Time `json:"bucket"`
	AppVersion       string    `json:"app_version"`
	QueryCount       int       `json:"query_count"`
	Tokens           int64     `json:"tokens"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	Cost             float64   `json:"cost"`
	Currency         string    `json:"currency"`
}

// LatencyMetricRow is one hour-bucketed latency aggregate row.
type LatencyMetricRow struct {
	Bucket       time.Time `json:"bucket"`
	AppVersion   string    `json:"app_version"`
	MinLatencyMS float64   `json:"min_latency_ms"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	MaxLatencyMS float64   `json:"max_latency_ms"`
	RequestCount int       `json:"request_count"`
}

// DailyStatRow is one day-bucketed summary row.
type DailyStatRow struct {
	Day          time.Time `json:"day"`
	AppVersion   string    `json:"app_version"`
	QueryCount   int       `json:"query_count"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	AvgCost      float64   `json:"avg_cost"`
}

// EvaluationRow aggregates feedback, latency and cost per configuration.
// Score averages are nil when no interaction under the configuration was
// ever scored.
type EvaluationRow struct {
	ConfigName          string   `json:"config_name"`
	AppVersion          string   `json:"app_version"`
	TotalQueries        int      `json:"total_queries"`
	AvgGroundedness     *float64 `json:"avg_groundedness,omitempty"`
	AvgContextRelevance *float64 `json:"avg_context_relevance,omitempty"`
	AvgAnswerRelevance  *float64 `json:"avg_answer_relevance,omitempty"`
	AvgLatencyMS        float64  `json:"avg_latency_ms"`
	AvgCost             float64  `json:"avg_cost"`
}
