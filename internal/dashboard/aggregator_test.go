package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsense/backend/internal/storage/models"
)

func floatPtr(v float64) *float64 {
	return &v
}

func TestSummarizeEmptyLog(t *testing.T) {
	s := Summarize(nil)

	assert.Equal(t, 0, s.TotalQueries)
	assert.Equal(t, int64(0), s.Tokens.TotalTokens)
	assert.Equal(t, 0.0, s.Cost.TotalCost)
	assert.Equal(t, 0.0, s.Latency.AvgLatencyMS)
	assert.Equal(t, 0, s.Feedback.GroundednessCount)

	for _, key := range []string{"p50", "p75", "p90", "p95", "p99", "p99.9"} {
		assert.Equal(t, 0.0, s.Latency.Percentiles[key])
	}
}

func TestSummarizeTokensAndCost(t *testing.T) {
	interactions := []models.Interaction{
		{PromptTokens: 100, CompletionTokens: 50, Cost: 0.17, LatencyMS: 200},
		{PromptTokens: 50, CompletionTokens: 20, Cost: 0.075, LatencyMS: 400},
	}

	tokens := SummarizeTokens(interactions)
	assert.Equal(t, int64(150), tokens.TotalPromptTokens)
	assert.Equal(t, int64(70), tokens.TotalCompletionTokens)
	assert.Equal(t, int64(220), tokens.TotalTokens)
	assert.InDelta(t, (0.5+0.4)/2, tokens.AvgTokenRatio, 1e-9)

	cost := SummarizeCost(interactions)
	assert.InDelta(t, 0.245, cost.TotalCost, 1e-9)
	assert.InDelta(t, 0.1225, cost.AvgCostPerRequest, 1e-9)
}

func TestSummarizeLatency(t *testing.T) {
	interactions := []models.Interaction{
		{LatencyMS: 100},
		{LatencyMS: 200},
		{LatencyMS: 300},
		{LatencyMS: 400},
	}

	s := SummarizeLatency(interactions)
	assert.Equal(t, 100.0, s.MinLatencyMS)
	assert.Equal(t, 400.0, s.MaxLatencyMS)
	assert.Equal(t, 250.0, s.AvgLatencyMS)
	assert.Equal(t, 4, s.TotalRequests)
	assert.InDelta(t, 250.0, s.Percentiles["p50"], 1e-9)
}

func TestSummarizeFeedbackExcludesAbsentScores(t *testing.T) {
	interactions := []models.Interaction{
		{Scores: &models.FeedbackScores{
			Groundedness:     floatPtr(0.8),
			ContextRelevance: floatPtr(0.6),
		}},
		{Scores: &models.FeedbackScores{
			Groundedness: floatPtr(0.4),
		}},
		{Scores: nil},
		{Scores: &models.FeedbackScores{
			Groundedness: floatPtr(0.0),
		}},
	}

	s := SummarizeFeedback(interactions)

	assert.Equal(t, 3, s.GroundednessCount)
	assert.InDelta(t, 0.4, s.AvgGroundedness, 1e-9)
	assert.Equal(t, 1, s.ContextRelevanceCount)
	assert.InDelta(t, 0.6, s.AvgContextRelevance, 1e-9)
	assert.Equal(t, 0, s.AnswerRelevanceCount)
	assert.Equal(t, 0.0, s.AvgAnswerRelevance)
}

func TestPercentileLinearInterpolation(t *testing.T) {
	values := []float64{10, 20, 30, 40}

	assert.Equal(t, 10.0, Percentile(values, 0))
	assert.Equal(t, 40.0, Percentile(values, 100))
	assert.InDelta(t, 25.0, Percentile(values, 50), 1e-9)
	assert.InDelta(t, 32.5, Percentile(values, 75), 1e-9)
	assert.Equal(t, 0.0, Percentile(nil, 50))
}

func TestPercentileSingleValue(t *testing.T) {
	assert.Equal(t, 7.0, Percentile([]float64{7}, 99.9))
}

func TestResampleDaily(t *testing.T) {
	day1 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 11, 23, 30, 0, 0, time.UTC)

	interactions := []models.Interaction{
		{CreatedAt: day2, LatencyMS: 300, Cost: 0.3, PromptTokens: 30},
		{CreatedAt: day1, LatencyMS: 100, Cost: 0.1, PromptTokens: 10},
		{CreatedAt: day1.Add(2 * time.Hour), LatencyMS: 200, Cost: 0.2, PromptTokens: 20},
	}

	buckets := ResampleDaily(interactions)
	require.Len(t, buckets, 2)

	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), buckets[0].Day)
	assert.Equal(t, 2, buckets[0].QueryCount)
	assert.InDelta(t, 150.0, buckets[0].AvgLatencyMS, 1e-9)
	assert.Equal(t, int64(30), buckets[0].TotalTokens)

	assert.Equal(t, 1, buckets[1].QueryCount)
}

func TestDayOverDay(t *testing.T) {
	buckets := []DailyBucket{
		{QueryCount: 10, AvgLatencyMS: 100, AvgCost: 0.5},
		{QueryCount: 15, AvgLatencyMS: 80, AvgCost: 0.7},
	}

	d := DayOverDay(buckets)
	require.NotNil(t, d.Current)
	require.NotNil(t, d.Previous)
	assert.Equal(t, 5, d.QueryCountDiff)
	assert.InDelta(t, -20.0, d.AvgLatencyDiff, 1e-9)
	assert.InDelta(t, 0.2, d.AvgCostDiff, 1e-9)
}

func TestDayOverDaySingleBucket(t *testing.T) {
	buckets := []DailyBucket{{QueryCount: 4, AvgLatencyMS: 120, AvgCost: 0.25}}

	d := DayOverDay(buckets)
	require.NotNil(t, d.Current)
	assert.Nil(t, d.Previous)
	assert.Equal(t, 4, d.QueryCountDiff)
	assert.InDelta(t, 120.0, d.AvgLatencyDiff, 1e-9)
}

func TestDayOverDayEmpty(t *testing.T) {
	d := DayOverDay(nil)
	assert.Nil(t, d.Current)
	assert.Nil(t, d.Previous)
	assert.Equal(t, 0, d.QueryCountDiff)
}
