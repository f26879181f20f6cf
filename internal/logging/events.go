// Package logging centralizes Capsule's structured zerolog event
// builders, so the policy-decision, recipe-usage, vector-metrics, and
// capture-decision log lines emitted across internal/write,
// internal/retrieval, and internal/capture share one consistent shape
// instead of each package hand-assembling its own log.Info() call.
package logging

import (
	"github.com/rs/zerolog/log"

	"github.com/capsule-memory/capsule/pkg/models"
)

// PolicyDecision logs the outcome of evaluating storage policies over a
// memory at write time (spec.md §4.1 step 11).
func PolicyDecision(tenancy models.Tenancy, memoryType string, applied []string, retention models.RetentionClass, pinned, graphEnrich bool) {
	log.Info().
		Str("event", "policy_decision").
		Str("tenancy", tenancy.Key()).
		Str("type", memoryType).
		Strs("appliedPolicies", applied).
		Str("retention", string(retention)).
		Bool("pinned", pinned).
		Bool("graphEnrich", graphEnrich).
		Msg("policy decision")
}

// RecipeUsage logs one retrieval call's recipe, latencies, and which
// adaptive optimizations ran (spec.md §4.7 step 9).
func RecipeUsage(tenancy models.Tenancy, recipeName string, resultCount int, rewriteApplied, rerankApplied, hotSetCacheHit bool, rewriteLatencyMs, rerankLatencyMs int64) {
	log.Info().
		Str("event", "recipe_usage").
		Str("tenancy", tenancy.Key()).
		Str("recipe", recipeName).
		Int("results", resultCount).
		Bool("rewriteApplied", rewriteApplied).
		Int64("rewriteLatencyMs", rewriteLatencyMs).
		Bool("rerankApplied", rerankApplied).
		Int64("rerankLatencyMs", rerankLatencyMs).
		Bool("hotSetCacheHit", hotSetCacheHit).
		Msg("recipe usage")
}

// VectorMetrics logs a single vector search's candidate count and the
// dimensionality used, useful for tracking dimension-mismatch fallbacks
// in production (spec.md §3 invariants).
func VectorMetrics(tenancy models.Tenancy, candidateCount, queryDimensions int, dimensionMismatch bool) {
	log.Info().
		Str("event", "vector_metrics").
		Str("tenancy", tenancy.Key()).
		Int("candidates", candidateCount).
		Int("queryDimensions", queryDimensions).
		Bool("dimensionMismatch", dimensionMismatch).
		Msg("vector metrics")
}

// CaptureDecision logs a capture candidate's score and routing decision
// (spec.md §4.8).
func CaptureDecision(tenancy models.Tenancy, candidateID string, score float64, status models.CandidateStatus, category string) {
	log.Info().
		Str("event", "capture_decision").
		Str("tenancy", tenancy.Key()).
		Str("candidateId", candidateID).
		Float64("score", score).
		Str("status", string(status)).
		Str("category", category).
		Msg("capture decision")
}
