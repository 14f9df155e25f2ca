// Package scoring grades completed interactions with three
// completion-backed feedback functions: groundedness, context relevance
// and answer relevance. Scoring never gates the user-facing answer.
package scoring

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/llm"
	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/pkg/logger"
)

// ScoringError wraps a feedback-call failure. Each of the three calls
// fails independently; a failed sub-score is recorded as absent, never
// as zero.
type ScoringError struct {
	Metric string
	Err    error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring %s failed: %v", e.Metric, e.Err)
}

func (e *ScoringError) Unwrap() error {
	return e.Err
}

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

type Scorer struct {
	completer Completer
	model     string
	timeout   time.Duration
}

func NewScorer(completer Completer, model string, timeoutSec int) *Scorer {
	timeout := time.Duration(timeoutSec) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Scorer{
		completer: completer,
		model:     model,
		timeout:   timeout,
	}
}

// Score runs the three feedback functions for one interaction. Each
// call fails independently and leaves its score absent; the returned
// struct is never nil.
func (s *Scorer) Score(ctx context.Context, interaction models.Interaction) *models.FeedbackScores {
	scores := &models.FeedbackScores{}

	if g, err := s.groundedness(ctx, interaction); err != nil {
		logger.Warn("Groundedness scoring failed",
			zap.String("interaction_id", interaction.ID),
			zap.Error(err),
		)
	} else {
		scores.Groundedness = &g
	}

	if cr, err := s.contextRelevance(ctx, interaction); err != nil {
		logger.Warn("Context relevance scoring failed",
			zap.String("interaction_id", interaction.ID),
			zap.Error(err),
		)
	} else {
		scores.ContextRelevance = &cr
	}

	if ar, err := s.answerRelevance(ctx, interaction); err != nil {
		logger.Warn("Answer relevance scoring failed",
			zap.String("interaction_id", interaction.ID),
			zap.Error(err),
		)
	} else {
		scores.AnswerRelevance = &ar
	}

	return scores
}

// groundedness compares the answer against the union of context texts;
// higher means fewer unsupported claims.
func (s *Scorer) groundedness(ctx context.Context, interaction models.Interaction) (float64, error) {
	texts := make([]string, len(interaction.Context))
	for i, chunk := range interaction.Context {
		texts[i] = chunk.Text
	}

	prompt := fmt.Sprintf(`You are evaluating whether a statement is supported by source material.

Source material:
%s

Statement:
%s

Rate how well the statement is supported by the source material, where 0 means
entirely unsupported and 1 means fully supported.
Respond with only a number between 0 and 1.`,
		strings.Join(texts, "\n"), interaction.Answer)

	return s.judge(ctx, "groundedness", prompt)
}

// contextRelevance compares the query against each retrieved chunk and
// aggregates by arithmetic mean.
func (s *Scorer) contextRelevance(ctx context.Context, interaction models.Interaction) (float64, error) {
	if len(interaction.Context) == 0 {
		return 0, &ScoringError{Metric: "context_relevance", Err: fmt.Errorf("no context to score")}
	}

	var sum float64
	var scored int

	for i, chunk := range interaction.Context {
		prompt := fmt.Sprintf(`You are evaluating how relevant a passage is to a question.

Question:
%s

Passage:
%s

Rate the relevance of the passage to the question, where 0 means entirely
irrelevant and 1 means directly relevant.
Respond with only a number between 0 and 1.`,
			interaction.Query, chunk.Text)

		score, err := s.judge(ctx, "context_relevance", prompt)
		if err != nil {
			logger.Debug("Chunk relevance call failed",
				zap.Int("chunk_index", i),
				zap.Error(err),
			)
			continue
		}
		sum += score
		scored++
	}

	if scored == 0 {
		return 0, &ScoringError{Metric: "context_relevance", Err: fmt.Errorf("all %d chunk calls failed", len(interaction.Context))}
	}

	return sum / float64(scored), nil
}

// answerRelevance compares the query against the answer directly.
func (s *Scorer) answerRelevance(ctx context.Context, interaction models.Interaction) (float64, error) {
	prompt := fmt.Sprintf(`You are evaluating how well an answer addresses a question.

Question:
%s

Answer:
%s

Rate how directly the answer addresses the question, where 0 means not at all
and 1 means completely.
Respond with only a number between 0 and 1.`,
		interaction.Query, interaction.Answer)

	return s.judge(ctx, "answer_relevance", prompt)
}

func (s *Scorer) judge(ctx context.Context, metric, prompt string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.completer.Complete(ctx, llm.CompletionRequest{
		Model:       s.model,
		Prompt:      prompt,
		Temperature: 0.01,
		MaxTokens:   10,
	})
	if err != nil {
		return 0, &ScoringError{Metric: metric, Err: err}
	}

	return ParseScore(reply), nil
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ParseScore extracts a score from a free-text judge reply. The first
// parseable number wins and is clamped to [0,1]; an unparseable reply
// yields 0.0. This is a documented heuristic, not a guarantee that the
// judge actually answered.
func ParseScore(reply string) float64 {
	match := numberPattern.FindString(reply)
	if match == "" {
		return 0.0
	}

	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0.0
	}

	if value < 0 {
		return 0.0
	}
	if value > 1 {
		return 1.0
	}
	return value
}
