// Package dashboard computes the aggregates the evaluation dashboard
// displays. Every function is pure and total: an empty log yields a
// zero-valued result, never an error.
package dashboard

import (
	"math"
	"sort"
	"time"

	"github.com/civicsense/backend/internal/storage/models"
)

// LatencyPercentiles are the quantiles the dashboard reports.
var LatencyPercentiles = []float64{50, 75, 90, 95, 99, 99.9}

type TokenSummary struct {
	TotalTokens           int64   `json:"total_tokens"`
	TotalPromptTokens     int64   `json:"total_prompt_tokens"`
	TotalCompletionTokens int64   `json:"total_completion_tokens"`
	AvgTokenRatio         float64 `json:"avg_token_ratio"`
}

type LatencySummary struct {
	MinLatencyMS  float64            `json:"min_latency_ms"`
	AvgLatencyMS  float64            `json:"avg_latency_ms"`
	MaxLatencyMS  float64            `json:"max_latency_ms"`
	Percentiles   map[string]float64 `json:"percentiles"`
	TotalRequests int                `json:"total_requests"`
}

type CostSummary struct {
	TotalCost         float64 `json:"total_cost"`
	AvgCostPerRequest float64 `json:"avg_cost_per_request"`
	AvgCostPerToken   float64 `json:"avg_cost_per_token"`
}

// FeedbackSummary averages each feedback score over the interactions
// that actually carry it. Absent scores are excluded, not zeroed; the
// counts say how many interactions contributed to each mean.
type FeedbackSummary struct {
	AvgGroundedness       float64 `json:"avg_groundedness"`
	GroundednessCount     int     `json:"groundedness_count"`
	AvgContextRelevance   float64 `json:"avg_context_relevance"`
	ContextRelevanceCount int     `json:"context_relevance_count"`
	AvgAnswerRelevance    float64 `json:"avg_answer_relevance"`
	AnswerRelevanceCount  int     `json:"answer_relevance_count"`
}

type DailyBucket struct {
	Day          time.Time `json:"day"`
	QueryCount   int       `json:"query_count"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	AvgCost      float64   `json:"avg_cost"`
	TotalTokens  int64     `json:"total_tokens"`
}

// Delta compares the newest daily bucket against the immediately
// preceding one.
type Delta struct {
	Current        *DailyBucket `json:"current,omitempty"`
	Previous       *DailyBucket `json:"previous,omitempty"`
	QueryCountDiff int          `json:"query_count_diff"`
	AvgLatencyDiff float64      `json:"avg_latency_diff"`
	AvgCostDiff    float64      `json:"avg_cost_diff"`
}

type Summary struct {
	TotalQueries int             `json:"total_queries"`
	Tokens       TokenSummary    `json:"tokens"`
	Latency      LatencySummary  `json:"latency"`
	Cost         CostSummary     `json:"cost"`
	Feedback     FeedbackSummary `json:"feedback"`
}

func Summarize(interactions []models.Interaction) Summary {
	return Summary{
		TotalQueries: len(interactions),
		Tokens:       SummarizeTokens(interactions),
		Latency:      SummarizeLatency(interactions),
		Cost:         SummarizeCost(interactions),
		Feedback:     SummarizeFeedback(interactions),
	}
}

func SummarizeTokens(interactions []models.Interaction) TokenSummary {
	var s TokenSummary
	if len(interactions) == 0 {
		return s
	}

	var ratioSum float64
	for _, in := range interactions {
		s.TotalPromptTokens += int64(in.PromptTokens)
		s.TotalCompletionTokens += int64(in.CompletionTokens)
		ratioSum += float64(in.CompletionTokens) / math.Max(1, float64(in.PromptTokens))
	}
	s.TotalTokens = s.TotalPromptTokens + s.TotalCompletionTokens
	s.AvgTokenRatio = ratioSum / float64(len(interactions))
	return s
}

func SummarizeLatency(interactions []models.Interaction) LatencySummary {
	s := LatencySummary{Percentiles: make(map[string]float64)}
	if len(interactions) == 0 {
		for _, p := range LatencyPercentiles {
			s.Percentiles[percentileKey(p)] = 0
		}
		return s
	}

	values := make([]float64, len(interactions))
	var sum float64
	s.MinLatencyMS = float64(interactions[0].LatencyMS)
	for i, in := range interactions {
		v := float64(in.LatencyMS)
		values[i] = v
		sum += v
		if v < s.MinLatencyMS {
			s.MinLatencyMS = v
		}
		if v > s.MaxLatencyMS {
			s.MaxLatencyMS = v
		}
	}

	s.AvgLatencyMS = sum / float64(len(values))
	s.TotalRequests = len(values)
	for _, p := range LatencyPercentiles {
		s.Percentiles[percentileKey(p)] = Percentile(values, p)
	}
	return s
}

func SummarizeCost(interactions []models.Interaction) CostSummary {
	var s CostSummary
	if len(interactions) == 0 {
		return s
	}

	var perTokenSum float64
	for _, in := range interactions {
		s.TotalCost += in.Cost
		tokens := math.Max(1, float64(in.PromptTokens+in.CompletionTokens))
		perTokenSum += in.Cost / tokens
	}
	s.AvgCostPerRequest = s.TotalCost / float64(len(interactions))
	s.AvgCostPerToken = perTokenSum / float64(len(interactions))
	return s
}

func SummarizeFeedback(interactions []models.Interaction) FeedbackSummary {
	var s FeedbackSummary
	var gSum, crSum, arSum float64

	for _, in := range interactions {
		if in.Scores == nil {
			continue
		}
		if in.Scores.Groundedness != nil {
			gSum += *in.Scores.Groundedness
			s.GroundednessCount++
		}
		if in.Scores.ContextRelevance != nil {
			crSum += *in.Scores.ContextRelevance
			s.ContextRelevanceCount++
		}
		if in.Scores.AnswerRelevance != nil {
			arSum += *in.Scores.AnswerRelevance
			s.AnswerRelevanceCount++
		}
	}

	if s.GroundednessCount > 0 {
		s.AvgGroundedness = gSum / float64(s.GroundednessCount)
	}
	if s.ContextRelevanceCount > 0 {
		s.AvgContextRelevance = crSum / float64(s.ContextRelevanceCount)
	}
	if s.AnswerRelevanceCount > 0 {
		s.AvgAnswerRelevance = arSum / float64(s.AnswerRelevanceCount)
	}
	return s
}

// ResampleDaily buckets interactions by calendar day (UTC), oldest
// first.
func ResampleDaily(interactions []models.Interaction) []DailyBucket {
	if len(interactions) == 0 {
		return []DailyBucket{}
	}

	type acc struct {
		count      int
		latencySum float64
		costSum    float64
		tokens     int64
	}

	buckets := make(map[time.Time]*acc)
	for _, in := range interactions {
		day := in.CreatedAt.UTC().Truncate(24 * time.Hour)
		a, ok := buckets[day]
		if !ok {
			a = &acc{}
			buckets[day] = a
		}
		a.count++
		a.latencySum += float64(in.LatencyMS)
		a.costSum += in.Cost
		a.tokens += int64(in.PromptTokens + in.CompletionTokens)
	}

	days := make([]time.Time, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := make([]DailyBucket, 0, len(days))
	for _, day := range days {
		a := buckets[day]
		out = append(out, DailyBucket{
			Day:          day,
			QueryCount:   a.count,
			AvgLatencyMS: a.latencySum / float64(a.count),
			AvgCost:      a.costSum / float64(a.count),
			TotalTokens:  a.tokens,
		})
	}
	return out
}

// DayOverDay compares the newest bucket with the one before it. With
// fewer than two buckets the missing side is nil and the diffs compare
// against zero.
func DayOverDay(buckets []DailyBucket) Delta {
	var d Delta
	if len(buckets) == 0 {
		return d
	}

	current := buckets[len(buckets)-1]
	d.Current = &current

	if len(buckets) >= 2 {
		previous := buckets[len(buckets)-2]
		d.Previous = &previous
	}

	var prev DailyBucket
	if d.Previous != nil {
		prev = *d.Previous
	}

	d.QueryCountDiff = current.QueryCount - prev.QueryCount
	d.AvgLatencyDiff = current.AvgLatencyMS - prev.AvgLatencyMS
	d.AvgCostDiff = current.AvgCost - prev.AvgCost
	return d
}

// Percentile computes the p-th percentile (0-100) with linear
// interpolation between order statistics. Empty input yields 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		p = 0
	}
	if p >= 100 {
		p = 100
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

func percentileKey(p float64) string {
	switch p {
	case 50:
		return "p50"
	case 75:
		return "p75"
	case 90:
		return "p90"
	case 95:
		return "p95"
	case 99:
		return "p99"
	case 99.9:
		return "p99.9"
	default:
		return "p?"
	}
}
