package capture

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/internal/logging"
	"github.com/capsule-memory/capsule/internal/write"
	"github.com/capsule-memory/capsule/pkg/contracts"
	"github.com/capsule-memory/capsule/pkg/models"
)

// Queue scores conversation events into capture candidates and manages
// their pending/approved/rejected/ignored lifecycle.
type Queue struct {
	Store     contracts.CandidateStore
	Write     *write.Pipeline
	Threshold float64
}

// Submit scores one event and inserts the resulting candidate,
// auto-accepting straight into a memory when both recommended and the
// caller opted into autoAccept.
func (q *Queue) Submit(ctx context.Context, tenancy models.Tenancy, e Event) (*models.CaptureCandidate, error) {
	score := ScoreEvent(e, q.Threshold)
	now := time.Now().UTC()

	signals := map[string]float64{"score": score.Value}

	c := &models.CaptureCandidate{
		ID:        uuid.NewString(),
		Tenancy:   tenancy,
		Content:   e.Content,
		Type:      string(score.Category),
		Role:      e.Role,
		Score:     score.Value,
		Signals:   signals,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch {
	case score.Recommended && e.AutoAccept:
		result, err := q.Write.Create(ctx, write.Request{
			Tenancy: tenancy, Content: e.Content, Type: string(score.Category), Actor: e.Role,
		})
		if err != nil {
			return nil, err
		}
		c.Status = models.CandidateApproved
		c.MemoryID = result.Memory.ID
	case score.Recommended:
		c.Status = models.CandidatePending
	default:
		c.Status = models.CandidateIgnored
	}

	if err := q.Store.CreateCandidate(ctx, c); err != nil {
		return nil, apierr.Wrap(apierr.InvalidState, "failed to store capture candidate", err)
	}
	logging.CaptureDecision(tenancy, c.ID, score.Value, c.Status, string(score.Category))
	return c, nil
}

// Approve promotes a pending candidate into a memory.
func (q *Queue) Approve(ctx context.Context, tenancy models.Tenancy, id, actor string) (*models.CaptureCandidate, *models.Memory, error) {
	c, err := q.Store.GetCandidate(ctx, tenancy, id)
	if err != nil {
		return nil, nil, err
	}
	if c.Status != models.CandidatePending {
		return nil, nil, apierr.New(apierr.InvalidState, "candidate is not pending: "+string(c.Status))
	}

	result, err := q.Write.Create(ctx, write.Request{
		Tenancy: tenancy, Content: c.Content, Type: c.Type, Actor: actor,
	})
	if err != nil {
		return nil, nil, err
	}

	c.Status = models.CandidateApproved
	c.MemoryID = result.Memory.ID
	c.UpdatedAt = time.Now().UTC()
	if err := q.Store.UpdateCandidate(ctx, c); err != nil {
		return nil, nil, apierr.Wrap(apierr.InvalidState, "failed to persist approval", err)
	}
	return c, &result.Memory, nil
}

// Reject marks a pending candidate rejected. When a reason is given, the
// rejection time is recorded in its signals under "rejectedAt"; the
// reason text itself is not stored.
func (q *Queue) Reject(ctx context.Context, tenancy models.Tenancy, id, reason string) (*models.CaptureCandidate, error) {
	c, err := q.Store.GetCandidate(ctx, tenancy, id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.CandidatePending {
		return nil, apierr.New(apierr.InvalidState, "candidate is not pending: "+string(c.Status))
	}

	c.Status = models.CandidateRejected
	c.UpdatedAt = time.Now().UTC()
	if reason != "" {
		if c.Signals == nil {
			c.Signals = map[string]float64{}
		}
		c.Signals["rejectedAt"] = float64(c.UpdatedAt.Unix())
	}
	if err := q.Store.UpdateCandidate(ctx, c); err != nil {
		return nil, apierr.Wrap(apierr.InvalidState, "failed to persist rejection", err)
	}
	return c, nil
}

// List returns candidates for a tenancy, optionally filtered by status.
func (q *Queue) List(ctx context.Context, tenancy models.Tenancy, status models.CandidateStatus) ([]models.CaptureCandidate, error) {
	return q.Store.ListCandidates(ctx, tenancy, status)
}
