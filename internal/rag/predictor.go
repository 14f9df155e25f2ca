// Package rag turns a user question plus retrieved context into a
// grounded answer, and rewrites follow-ups into standalone questions.
package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/llm"
	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/pkg/logger"
)

// NoInformationMessage is returned verbatim whenever retrieval produced
// no context; no completion call is made in that case.
const NoInformationMessage = "I'm sorry, but I couldn't find relevant information to answer your question."

// ApologyMessage substitutes for the answer when the completion service
// fails; the turn still completes.
const ApologyMessage = "I apologize, but I'm having trouble generating a response right now."

// GenerationError wraps a completion-service failure during answer
// generation.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Completer is the slice of the completion client the predictor needs.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

type Generation struct {
	Answer  string
	Sources []string
}

type Predictor struct {
	completer Completer
}

func NewPredictor(completer Completer) *Predictor {
	return &Predictor{completer: completer}
}

// RewriteQuestion rephrases a follow-up into a standalone question
// using the conversation history. The rewrite is used verbatim, even
// when empty; validating or falling back to the original query would
// change retrieval behavior.
func (p *Predictor) RewriteQuestion(ctx context.Context, query string, history []string, config models.Configuration) (string, error) {
	prompt := fmt.Sprintf(`Given the following chat history and a user question,
rephrase the follow up input question to be a standalone question.
Chat History: %s
User Question: %s
Standalone question:`, strings.Join(history, "\n"), query)

	standalone, err := p.completer.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: config.Temperature,
		TopP:        config.TopP,
		MaxTokens:   config.MaxTokens,
	})
	if err != nil {
		return "", &GenerationError{Err: err}
	}

	standalone = strings.TrimSpace(standalone)
	logger.Debug("Standalone question generated",
		zap.String("query", query),
		zap.String("standalone", standalone),
	)

	return standalone, nil
}

// GenerateAnswer builds the grounding prompt from the retrieved chunks
// and issues one completion call. With no context it short-circuits to
// the fixed no-information message without calling the service.
func (p *Predictor) GenerateAnswer(ctx context.Context, query string, chunks []models.ContextChunk, config models.Configuration) (*Generation, error) {
	if len(chunks) == 0 {
		return &Generation{
			Answer:  NoInformationMessage,
			Sources: []string{},
		}, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	prompt := fmt.Sprintf(`You are a helpful government policy assistant. Using only the provided context,
answer questions about government policies and benefits.

Context: %s

Question: %s

Provide a clear, concise answer based only on the context provided.
If you're unsure or the information isn't in the context, say so.

Response should be formatted in markdown for better readability.`,
		strings.Join(texts, " "), query)

	answer, err := p.completer.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: config.Temperature,
		TopP:        config.TopP,
		MaxTokens:   config.MaxTokens,
	})
	if err != nil {
		return nil, &GenerationError{Err: err}
	}

	sources := make([]string, 0, len(chunks))
	seen := make(map[string]bool)
	for _, chunk := range chunks {
		if chunk.SourcePath == "" || seen[chunk.SourcePath] {
			continue
		}
		seen[chunk.SourcePath] = true
		sources = append(sources, chunk.SourcePath)
	}

	logger.Info("Answer generated",
		zap.String("query", query),
		zap.Int("context_chunks", len(chunks)),
		zap.Int("sources", len(sources)),
		zap.Int("answer_length", len(answer)),
	)

	return &Generation{
		Answer:  answer,
		Sources: sources,
	}, nil
}
