package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsule-memory/capsule/pkg/models"
)

func TestBuiltinRecipesRegistered(t *testing.T) {
	e := NewEngine()
	names := make([]string, 0)
	for _, r := range e.List() {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "default")
	assert.Contains(t, names, "pinned-first")
	assert.Contains(t, names, "recent-context")
}

func TestGetFallsBackToDefault(t *testing.T) {
	e := NewEngine()
	r, err := e.Get("")
	require.NoError(t, err)
	assert.Equal(t, "default", r.Name)
}

func TestGetUnknownRecipe(t *testing.T) {
	e := NewEngine()
	_, err := e.Get("does-not-exist")
	require.Error(t, err)
}

func TestMatchesEmptyFilterAlwaysTrue(t *testing.T) {
	e := NewEngine()
	ok, err := e.Matches("default", models.RecipeContext{Type: "fact"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchesAppliesFilter(t *testing.T) {
	e := NewEngine()
	ok, err := e.Matches("recent-context", models.RecipeContext{Type: "task"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Matches("recent-context", models.RecipeContext{Type: "preference"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScoreWeightsSemanticImportanceRecencyAndPinnedBoost(t *testing.T) {
	r := models.Recipe{SemanticWeight: 0.6, ImportanceWeight: 0.2, RecencyWeight: 0.1, PinnedBoost: 0.5}
	assert.InDelta(t, 0.6*0.9+0.2*1.5+0.1*0.5, Score(r, 0.9, 1.5, 0.5, false, models.RetentionReplaceable), 1e-9)
	assert.InDelta(t, 0.6*0.9+0.2*1.5+0.1*0.5+0.5, Score(r, 0.9, 1.5, 0.5, true, models.RetentionReplaceable), 1e-9)
}

func TestScoreAppliesRetentionBoost(t *testing.T) {
	r := models.Recipe{SemanticWeight: 1.0, RetentionBoosts: map[models.RetentionClass]float64{models.RetentionIrreplaceable: 0.3}}
	assert.InDelta(t, 0.9+0.3, Score(r, 0.9, 0, 0, false, models.RetentionIrreplaceable), 1e-9)
	assert.InDelta(t, 0.9, Score(r, 0.9, 0, 0, false, models.RetentionReplaceable), 1e-9)
}

func TestRegisterRejectsInvalidFilter(t *testing.T) {
	e := &Engine{recipes: map[string]*compiledRecipe{}}
	err := e.Register(models.Recipe{Name: "broken", Filter: `Type ===`})
	require.Error(t, err)
}

func TestRemoveUnregistersRecipe(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Register(models.Recipe{Name: "temp-preview"}))
	e.Remove("temp-preview")
	_, err := e.Get("temp-preview")
	require.Error(t, err)
}
