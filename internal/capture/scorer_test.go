package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreExplicitMemoryFlag(t *testing.T) {
	s := ScoreEvent(Event{Role: "user", Content: "I prefer dark mode always, remember that.", Metadata: map[string]any{"explicitMemory": true}}, 0)
	assert.True(t, s.Recommended)
	assert.Contains(t, s.Reasons, "explicit memory flag")
}

func TestScoreQuestionIsPenalized(t *testing.T) {
	withQuestion := ScoreEvent(Event{Role: "user", Content: "What is the weather today?"}, 0)
	withoutQuestion := ScoreEvent(Event{Role: "user", Content: "The weather today is nice."}, 0)
	assert.Less(t, withQuestion.Value, withoutQuestion.Value)
}

func TestScoreClampedToUnitRange(t *testing.T) {
	s := ScoreEvent(Event{
		Role: "user", Priority: "high", Tags: []string{"memory"},
		Content: "Remember, I always prefer email me@example.com for 555-123-4567 at 123 Main Street every time on Monday, my name is Lex and I work at Acme. I need to follow up on this next week.",
		Metadata: map[string]any{"explicitMemory": true},
	}, 0)
	assert.LessOrEqual(t, s.Value, 1.0)
}

func TestScoreNegativePatternReducesScore(t *testing.T) {
	s := ScoreEvent(Event{Role: "user", Content: "just chatting, nothing important here at all really"}, 0)
	assert.Less(t, s.Value, 0.5)
}

func TestDetectCategoryPreference(t *testing.T) {
	s := ScoreEvent(Event{Role: "user", Content: "I prefer tea over coffee in the mornings."}, 0)
	assert.Equal(t, CategoryPreference, s.Category)
}

func TestDetectCategoryTask(t *testing.T) {
	s := ScoreEvent(Event{Role: "user", Content: "Remind me to submit the report by Friday."}, 0)
	assert.Equal(t, CategoryTask, s.Category)
}

func TestDetectCategoryDefaultsToOther(t *testing.T) {
	s := ScoreEvent(Event{Role: "user", Content: "xyz abc 123"}, 0)
	assert.Equal(t, CategoryOther, s.Category)
}
