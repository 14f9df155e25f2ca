// Package tracker keeps the append-only interaction log and the
// per-turn telemetry (token counts, latency, estimated cost).
package tracker

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/civicsense/backend/internal/storage/models"
	"github.com/civicsense/backend/pkg/logger"
)

// EstimateTokens approximates a token count by whitespace splitting.
// This is deliberately not the external service's tokenizer; cost and
// token figures derived from it are estimates.
func EstimateTokens(text string) int {
	return len(strings.Fields(text))
}

// Pricing is the linear price-per-1000-tokens table used for cost
// estimation, with separate prompt and completion rates.
type Pricing struct {
	PromptPerThousand     float64
	CompletionPerThousand float64
	Currency              string
}

// Cost computes the estimated cost for one interaction:
// (prompt/1000)*rate_in + (completion/1000)*rate_out.
func (p Pricing) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000.0*p.PromptPerThousand +
		float64(completionTokens)/1000.0*p.CompletionPerThousand
}

// Log is the shared, append-only interaction log. Appends are safe for
// concurrent use; past entries are never mutated in place except for
// the one-time feedback-score fill-in.
type Log struct {
	mu      sync.RWMutex
	entries []*models.Interaction
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(interaction *models.Interaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, interaction)
}

// AttachScores fills in the feedback scores for an interaction. The
// fill is monotonic: once scores are present they are never replaced.
// Returns false when the interaction is unknown or already scored.
func (l *Log) AttachScores(interactionID string, scores *models.FeedbackScores) bool {
	if scores == nil {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.ID != interactionID {
			continue
		}
		if entry.Scores != nil {
			return false
		}
		entry.Scores = scores
		return true
	}

	return false
}

// Snapshot returns a copy of the current entries, newest last.
func (l *Log) Snapshot() []models.Interaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Interaction, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, *entry)
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Tracker assembles interactions from per-turn recordings and appends
// them to the log.
type Tracker struct {
	log        *Log
	pricing    Pricing
	appVersion string
}

func New(log *Log, pricing Pricing, appVersion string) *Tracker {
	return &Tracker{
		log:        log,
		pricing:    pricing,
		appVersion: appVersion,
	}
}

func (t *Tracker) Log() *Log {
	return t.log
}

func (t *Tracker) Pricing() Pricing {
	return t.pricing
}

// Recording brackets one turn's telemetry. Stages fill in fields as
// they complete; End always appends, whatever path the turn took.
type Recording struct {
	tracker *Tracker
	start   time.Time
	done    bool

	ID              string
	Query           string
	StandaloneQuery string
	Context         []models.ContextChunk
	Answer          string
	Sources         []string
	ConfigName      string
}

// Begin opens a recording for one turn.
func (t *Tracker) Begin(interactionID, query string) *Recording {
	return &Recording{
		tracker: t,
		start:   time.Now(),
		ID:      interactionID,
		Query:   query,
	}
}

// End computes latency, token and cost estimates, appends the finished
// interaction to the log and returns it. Safe to call from a defer;
// repeated calls return the first result's interaction ID only once.
func (r *Recording) End() *models.Interaction {
	if r.done {
		return nil
	}
	r.done = true

	promptText := r.Query + " " + r.StandaloneQuery
	for _, chunk := range r.Context {
		promptText += " " + chunk.Text
	}

	promptTokens := EstimateTokens(promptText)
	completionTokens := EstimateTokens(r.Answer)
	latency := int(time.Since(r.start).Milliseconds())
	cost := r.tracker.pricing.Cost(promptTokens, completionTokens)

	interaction := &models.Interaction{
		ID:               r.ID,
		Query:            r.Query,
		StandaloneQuery:  r.StandaloneQuery,
		Context:          r.Context,
		Answer:           r.Answer,
		Sources:          r.Sources,
		ConfigName:       r.ConfigName,
		AppVersion:       r.tracker.appVersion,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		LatencyMS:        latency,
		Cost:             cost,
		CreatedAt:        time.Now(),
	}

	r.tracker.log.Append(interaction)

	logger.Debug("Interaction tracked",
		zap.String("interaction_id", interaction.ID),
		zap.Int("prompt_tokens", promptTokens),
		zap.Int("completion_tokens", completionTokens),
		zap.Int("latency_ms", latency),
		zap.Float64("cost", cost),
	)

	return interaction
}
