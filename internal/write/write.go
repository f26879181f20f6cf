// Package write implements the memory create pipeline: idempotency
// replay, the ACL and PII invariant checks, embedding, metadata
// normalization, policy evaluation, retention classification, encryption, insertion, eviction
// enforcement, and graph-job enqueue — in that order, mirroring the
// teacher's multi-stage pipeline shape in internal/workflow/engine.go
// (a named sequence of steps run against a shared context, each able to
// short-circuit with a typed error) generalized from a workflow DAG step
// executor to a fixed write pipeline.
package write

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/internal/logging"
	"github.com/capsule-memory/capsule/internal/pii"
	"github.com/capsule-memory/capsule/internal/policy"
	"github.com/capsule-memory/capsule/internal/retention"
	"github.com/capsule-memory/capsule/pkg/contracts"
	"github.com/capsule-memory/capsule/pkg/models"
)

// Request is the caller-supplied create payload, authenticated tenancy
// attached by the HTTP layer.
type Request struct {
	Tenancy         models.Tenancy
	Content         string
	Pinned          bool
	Tags            []string
	Type            string
	TTLSeconds      *int
	IdempotencyKey  string
	Source          models.Source
	ACL             *models.ACL
	PIIFlags        map[string]bool
	RetentionHint   models.RetentionClass
	BYOKKeyRef      string
	ImportanceScore *float64
	RecencyScore    *float64
	Actor           string
}

// Result is returned to the HTTP layer after a successful create.
type Result struct {
	Memory          models.Memory
	Explanation     string
	ForgottenID     string
	ReplayedExisting bool
}

// Pipeline wires the collaborators a create operation needs.
type Pipeline struct {
	Store       contracts.MemoryStore
	GraphJobs   contracts.GraphJobStore
	Embedder    contracts.EmbeddingDriver
	Policies    *policy.Engine
	Keys        *pii.KeyProvider
	MaxMemories int
}

// Create runs the full write pipeline for one new memory.
func (p *Pipeline) Create(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, apierr.New(apierr.InvalidArgument, "content must not be empty")
	}

	if req.IdempotencyKey != "" {
		if existing, err := p.Store.FindByIdempotencyKey(ctx, req.Tenancy, req.IdempotencyKey); err == nil {
			return &Result{Memory: *existing, Explanation: "replayed idempotent request.", ReplayedExisting: true}, nil
		}
	}

	acl := models.ACL{Visibility: "private"}
	if req.ACL != nil {
		acl = *req.ACL
	}
	if acl.Visibility == "shared" && len(acl.SharedWith) == 0 {
		return nil, apierr.New(apierr.InvalidArgument, "shared visibility requires at least one subject")
	}

	hasSensitivePII := false
	hasPIIFlags := len(req.PIIFlags) > 0
	for _, flagged := range req.PIIFlags {
		if flagged {
			hasSensitivePII = true
			break
		}
	}
	if hasSensitivePII && acl.Visibility != "private" {
		return nil, apierr.New(apierr.InvalidArgument, "PII-flagged content requires private visibility")
	}

	vectors, err := p.Embedder.Embed(ctx, []string{req.Content})
	if err != nil {
		return nil, apierr.Wrap(apierr.Upstream, "embedding failed", err)
	}
	var embedding []float32
	var embeddingNorm float64
	if len(vectors) > 0 {
		embedding, embeddingNorm = l2Normalize(vectors[0])
	}

	tags := normalizeTags(req.Tags)

	policyCtx := models.PolicyContext{
		Type:            req.Type,
		SourceConnector: req.Source.Connector,
		Tags:            tags,
		Pinned:          req.Pinned,
	}
	decision, err := p.Policies.Evaluate(policyCtx)
	if err != nil {
		return nil, err
	}

	pinned := req.Pinned

	ttlSeconds := req.TTLSeconds
	if ttlSeconds == nil {
		ttlSeconds = decision.TTLSeconds
	}
	class := retention.Resolve(retention.Classification{
		Provided:   req.RetentionHint,
		Pinned:     pinned,
		TTLSeconds: derefInt(ttlSeconds),
	})
	now := time.Now().UTC()
	ttlSeconds, expiresAt := retention.NormalizeTTL(class, ttlSeconds, now)

	importance := 1.0
	if pinned {
		importance = 1.5
	}
	if decision.ImportanceScore != nil {
		importance = *decision.ImportanceScore
	}
	if req.ImportanceScore != nil {
		importance = *req.ImportanceScore
	}
	recency := 1.0
	if req.RecencyScore != nil {
		recency = *req.RecencyScore
	}

	m := &models.Memory{
		ID:              uuid.NewString(),
		Tenancy:         req.Tenancy,
		Type:            req.Type,
		Content:         req.Content,
		Tags:            tags,
		Pinned:          pinned,
		Source:          req.Source,
		ACL:             acl,
		Embedding:       embedding,
		EmbeddingNorm:   embeddingNorm,
		EmbeddingModel:  p.Embedder.Kind(),
		ImportanceScore: importance,
		RecencyScore:    recency,
		Store:           decision.Store,
		DedupeThreshold: decision.DedupeThreshold,
		Retention:       class,
		TTLSeconds:      ttlSeconds,
		ExpiresAt:       expiresAt,
		StorageState:    models.StorageActive,
		GraphEnrich:     decision.GraphEnrich,
		PolicyName:      strings.Join(decision.AppliedPolicies, ","),
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
		Provenance: []models.ProvenanceEntry{
			{Event: "created", Actor: req.Actor, Timestamp: now},
		},
	}

	if hasPIIFlags {
		if hasSensitivePII {
			env, err := p.Keys.EncryptFlags(req.PIIFlags, req.BYOKKeyRef)
			if err != nil {
				return nil, apierr.Wrap(apierr.InvalidState, "PII encryption failed", err)
			}
			m.PII = env
		} else {
			m.PIIFlags = req.PIIFlags
		}
	}

	logging.PolicyDecision(req.Tenancy, req.Type, decision.AppliedPolicies, class, pinned, decision.GraphEnrich)

	if err := p.Store.CreateMemory(ctx, m); err != nil {
		return nil, apierr.Wrap(apierr.InvalidState, "failed to store memory", err)
	}

	forgottenID := retention.EnforceCap(ctx, p.Store, req.Tenancy, p.MaxMemories)

	if decision.GraphEnrich && p.GraphJobs != nil {
		job := &models.GraphJob{
			ID: uuid.NewString(), MemoryID: m.ID, Tenancy: m.Tenancy,
			Status: models.GraphJobPending, CreatedAt: now, UpdatedAt: now,
		}
		if err := p.GraphJobs.CreateGraphJob(ctx, job); err != nil {
			log.Warn().Err(err).Str("memoryId", m.ID).Msg("graph job enqueue failed")
		}
	}

	return &Result{Memory: *m, Explanation: "memory created.", ForgottenID: forgottenID}, nil
}

// l2Normalize returns v scaled to unit length along with its
// pre-normalization magnitude.
func l2Normalize(v []float32) ([]float32, float64) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v, 0
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, norm
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

