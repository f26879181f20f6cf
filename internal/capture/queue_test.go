package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/internal/embeddings"
	"github.com/capsule-memory/capsule/internal/pii"
	"github.com/capsule-memory/capsule/internal/policy"
	"github.com/capsule-memory/capsule/internal/store"
	"github.com/capsule-memory/capsule/internal/write"
	"github.com/capsule-memory/capsule/pkg/models"
)

func testTenancy() models.Tenancy {
	return models.Tenancy{OrgID: "org-1", ProjectID: "proj-1", SubjectID: "subj-1"}
}

func newTestQueue() (*Queue, *store.InMemoryStore) {
	s := store.NewInMemoryStore("")
	wp := &write.Pipeline{
		Store: s, GraphJobs: s,
		Embedder: embeddings.NewDeterministicDriver(32),
		Policies: policy.NewEngine(),
		Keys:     pii.NewKeyProvider("test-secret"),
		MaxMemories: 100,
	}
	return &Queue{Store: s, Write: wp, Threshold: 0.5}, s
}

func TestSubmitRecommendedGoesPending(t *testing.T) {
	q, _ := newTestQueue()
	c, err := q.Submit(context.Background(), testTenancy(), Event{
		Role: "user", Content: "Remember, I always prefer to be called Lex in future conversations.",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CandidatePending, c.Status)
}

func TestSubmitAutoAcceptCreatesMemory(t *testing.T) {
	q, _ := newTestQueue()
	c, err := q.Submit(context.Background(), testTenancy(), Event{
		Role: "user", Content: "Remember, I always prefer to be called Lex in future conversations.",
		AutoAccept: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CandidateApproved, c.Status)
	assert.NotEmpty(t, c.MemoryID)
}

func TestSubmitLowScoreIsIgnored(t *testing.T) {
	q, _ := newTestQueue()
	c, err := q.Submit(context.Background(), testTenancy(), Event{Role: "assistant", Content: "ok"})
	require.NoError(t, err)
	assert.Equal(t, models.CandidateIgnored, c.Status)
}

func TestApprovePendingCreatesMemory(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()
	ten := testTenancy()
	c, err := q.Submit(ctx, ten, Event{Role: "user", Content: "I always prefer dark roast coffee, remember that for me."})
	require.NoError(t, err)
	require.Equal(t, models.CandidatePending, c.Status)

	approved, mem, err := q.Approve(ctx, ten, c.ID, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, models.CandidateApproved, approved.Status)
	assert.Equal(t, mem.ID, approved.MemoryID)
}

func TestApproveNonPendingFails(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()
	ten := testTenancy()
	c, err := q.Submit(ctx, ten, Event{Role: "assistant", Content: "ok"})
	require.NoError(t, err)
	require.Equal(t, models.CandidateIgnored, c.Status)

	_, _, err = q.Approve(ctx, ten, c.ID, "subj-1")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidState, apiErr.Kind)
}

func TestRejectPending(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()
	ten := testTenancy()
	c, err := q.Submit(ctx, ten, Event{Role: "user", Content: "I always prefer dark roast coffee, remember that for me."})
	require.NoError(t, err)

	rejected, err := q.Reject(ctx, ten, c.ID, "not useful")
	require.NoError(t, err)
	assert.Equal(t, models.CandidateRejected, rejected.Status)
}

func TestListFiltersByStatus(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()
	ten := testTenancy()
	_, err := q.Submit(ctx, ten, Event{Role: "user", Content: "I always prefer dark roast coffee, remember that for me."})
	require.NoError(t, err)
	_, err = q.Submit(ctx, ten, Event{Role: "assistant", Content: "ok"})
	require.NoError(t, err)

	pending, err := q.List(ctx, ten, models.CandidatePending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
