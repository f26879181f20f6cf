package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/pkg/models"
)

func TestBuiltinPoliciesRegisterCleanly(t *testing.T) {
	e := NewEngine()
	names := make([]string, 0)
	for _, p := range e.List() {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "preferences-long-term")
	assert.Contains(t, names, "operational-logs-short-term")
	assert.Contains(t, names, "knowledge-connectors-long-term")
}

func TestEvaluatePreferenceIsLongTermWithDedupeAndImportance(t *testing.T) {
	e := NewEngine()
	decision, err := e.Evaluate(models.PolicyContext{Type: "preference"})
	require.NoError(t, err)
	assert.Equal(t, models.StoreLongTerm, decision.Store)
	require.NotNil(t, decision.DedupeThreshold)
	assert.Equal(t, 0.9, *decision.DedupeThreshold)
	require.NotNil(t, decision.ImportanceScore)
	assert.Equal(t, 1.5, *decision.ImportanceScore)
	assert.Contains(t, decision.AppliedPolicies, "preferences-long-term")
}

func TestEvaluateLogTypeIsShortTermWithTTL(t *testing.T) {
	e := NewEngine()
	decision, err := e.Evaluate(models.PolicyContext{Type: "log"})
	require.NoError(t, err)
	assert.Equal(t, models.StoreShortTerm, decision.Store)
	require.NotNil(t, decision.TTLSeconds)
	assert.Equal(t, 14*24*3600, *decision.TTLSeconds)
	assert.False(t, decision.GraphEnrich)
}

func TestEvaluateKnowledgeConnectorEnrichesGraph(t *testing.T) {
	e := NewEngine()
	decision, err := e.Evaluate(models.PolicyContext{SourceConnector: "notion"})
	require.NoError(t, err)
	assert.Equal(t, models.StoreLongTerm, decision.Store)
	assert.True(t, decision.GraphEnrich)
}

func TestEvaluateNoMatchKeepsDefault(t *testing.T) {
	e := NewEngine()
	decision, err := e.Evaluate(models.PolicyContext{Type: "task"})
	require.NoError(t, err)
	assert.Equal(t, models.StoreLongTerm, decision.Store)
	assert.False(t, decision.GraphEnrich)
	assert.Nil(t, decision.TTLSeconds)
	assert.Empty(t, decision.AppliedPolicies)
}

func TestEvaluateLastWriterWinsByOrder(t *testing.T) {
	e := &Engine{policies: map[string]*compiledPolicy{}}
	require.NoError(t, e.Register(models.StoragePolicy{Name: "first", Match: `Type == "fact"`, Order: 1, SetStore: models.StoreShortTerm}))
	require.NoError(t, e.Register(models.StoragePolicy{Name: "second", Match: `Type == "fact"`, Order: 2, SetStore: models.StoreLongTerm}))

	decision, err := e.Evaluate(models.PolicyContext{Type: "fact"})
	require.NoError(t, err)
	assert.Equal(t, models.StoreLongTerm, decision.Store)
	assert.Equal(t, []string{"first", "second"}, decision.AppliedPolicies)
}

func TestRegisterRejectsInvalidExpression(t *testing.T) {
	e := &Engine{policies: map[string]*compiledPolicy{}}
	err := e.Register(models.StoragePolicy{Name: "broken", Match: `Type ===`})
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidArgument, apiErr.Kind)
}

func TestPreviewValidatesWithoutRegistering(t *testing.T) {
	require.NoError(t, Preview(`Type == "preference"`))
	require.Error(t, Preview(`Type ===`))
}

func TestRemoveDeletesPolicy(t *testing.T) {
	e := NewEngine()
	e.Remove("preferences-long-term")
	_, ok := e.Get("preferences-long-term")
	assert.False(t, ok)
}
