package tracker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsense/backend/internal/storage/models"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 0, EstimateTokens("   \n\t "))
	assert.Equal(t, 1, EstimateTokens("parking"))
	assert.Equal(t, 5, EstimateTokens("what are the parking rules"))
	assert.Equal(t, 3, EstimateTokens("  spaced \n out\ttext "))
}

func TestPricingCost(t *testing.T) {
	pricing := Pricing{PromptPerThousand: 0.7, CompletionPerThousand: 2.0}

	assert.InDelta(t, 0.17, pricing.Cost(100, 50), 1e-9)
	assert.InDelta(t, 0.075, pricing.Cost(50, 20), 1e-9)
	assert.Equal(t, 0.0, pricing.Cost(0, 0))
}

func TestRecordingEnd(t *testing.T) {
	log := NewLog()
	trk := New(log, Pricing{PromptPerThousand: 0.7, CompletionPerThousand: 2.0}, "1.0")

	rec := trk.Begin("id-1", "what are the noise rules")
	rec.StandaloneQuery = "what are the noise rules"
	rec.Context = []models.ContextChunk{
		{Text: "noise is limited after ten pm", SourcePath: "noise.pdf"},
	}
	rec.Answer = "Noise is limited after ten pm."
	rec.Sources = []string{"noise.pdf"}

	interaction := rec.End()
	require.NotNil(t, interaction)

	// 5 query + 5 standalone + 6 context words
	assert.Equal(t, 16, interaction.PromptTokens)
	assert.Equal(t, 6, interaction.CompletionTokens)
	assert.InDelta(t, 16.0/1000*0.7+6.0/1000*2.0, interaction.Cost, 1e-9)
	assert.Equal(t, "1.0", interaction.AppVersion)
	assert.GreaterOrEqual(t, interaction.LatencyMS, 0)

	assert.Equal(t, 1, log.Len())

	// End is idempotent; the log keeps a single entry.
	assert.Nil(t, rec.End())
	assert.Equal(t, 1, log.Len())
}

func TestAttachScoresMonotonic(t *testing.T) {
	log := NewLog()
	log.Append(&models.Interaction{ID: "id-1"})

	first := 0.8
	second := 0.2

	assert.False(t, log.AttachScores("id-1", nil))
	assert.False(t, log.AttachScores("missing", &models.FeedbackScores{Groundedness: &first}))

	assert.True(t, log.AttachScores("id-1", &models.FeedbackScores{Groundedness: &first}))
	assert.False(t, log.AttachScores("id-1", &models.FeedbackScores{Groundedness: &second}))

	entries := log.Snapshot()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Scores)
	assert.Equal(t, 0.8, *entries[0].Scores.Groundedness)
}

func TestLogConcurrentAppend(t *testing.T) {
	log := NewLog()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log.Append(&models.Interaction{ID: string(rune('a' + n%26))})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, log.Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	log := NewLog()
	log.Append(&models.Interaction{ID: "id-1", Answer: "original"})

	snap := log.Snapshot()
	snap[0].Answer = "mutated"

	assert.Equal(t, "original", log.Snapshot()[0].Answer)
}
