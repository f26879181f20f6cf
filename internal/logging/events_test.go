package logging

import (
	"testing"

	"github.com/capsule-memory/capsule/pkg/models"
)

func testTenancy() models.Tenancy {
	return models.Tenancy{OrgID: "org-1", ProjectID: "proj-1", SubjectID: "subj-1"}
}

// These event builders write to the global zerolog logger; there is no
// return value to assert on, so the tests exist to guarantee the calls
// never panic on zero-value or edge-case inputs.

func TestPolicyDecisionDoesNotPanic(t *testing.T) {
	PolicyDecision(testTenancy(), "preference", []string{"docs-sync"}, models.RetentionReplaceable, true, false)
	PolicyDecision(testTenancy(), "", nil, "", false, false)
}

func TestRecipeUsageDoesNotPanic(t *testing.T) {
	RecipeUsage(testTenancy(), "default", 3, true, false, true, 12, 0)
}

func TestVectorMetricsDoesNotPanic(t *testing.T) {
	VectorMetrics(testTenancy(), 10, 1024, false)
}

func TestCaptureDecisionDoesNotPanic(t *testing.T) {
	CaptureDecision(testTenancy(), "candidate-1", 0.75, models.CandidatePending, "preference")
}
