// Package update implements the partial memory update pipeline: fields
// may be set, cleared, or left alone; ACL/PII invariants are re-checked
// against the merged result; retention is recomputed when pinning,
// retention, or TTL changed; and every mutation appends a provenance
// event, mirroring the Create pipeline's ordered-stage shape in
// internal/write/write.go.
package update

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/internal/pii"
	"github.com/capsule-memory/capsule/internal/retention"
	"github.com/capsule-memory/capsule/pkg/contracts"
	"github.com/capsule-memory/capsule/pkg/models"
)

// Request carries only the fields the caller wants to change; nil means
// "leave as-is" for pointer fields.
type Request struct {
	Tenancy     models.Tenancy
	ID          string
	Content     *string
	Pinned      *bool
	Tags        []string // nil means unchanged; non-nil (even empty) replaces
	Type        *string
	TTLSeconds  *int
	ClearTTL    bool
	ACL         *models.ACL
	Retention   models.RetentionClass // empty means unchanged
	GraphEnrich *bool
	PIIFlags    map[string]bool // nil means unchanged; non-nil (even empty) replaces
	BYOKKeyRef  string
	Actor       string
}

// Result mirrors write.Result's explanation shape for the HTTP layer.
type Result struct {
	Memory      models.Memory
	Explanation string
}

// Pipeline wires the collaborators an update operation needs.
type Pipeline struct {
	Store     contracts.MemoryStore
	GraphJobs contracts.GraphJobStore
	Keys      *pii.KeyProvider
}

// Update applies a partial update to an existing memory within the
// caller's tenancy.
func (p *Pipeline) Update(ctx context.Context, req Request) (*Result, error) {
	existing, err := p.Store.GetMemory(ctx, req.Tenancy, req.ID)
	if err != nil {
		return nil, err
	}

	mutated := false
	m := *existing

	if req.Content != nil {
		m.Content = *req.Content
		mutated = true
	}
	if req.Pinned != nil && *req.Pinned != m.Pinned {
		m.Pinned = *req.Pinned
		mutated = true
	}
	if req.Tags != nil {
		m.Tags = req.Tags
		mutated = true
	}
	if req.Type != nil {
		m.Type = *req.Type
		mutated = true
	}

	effectiveACL := m.ACL
	if req.ACL != nil {
		effectiveACL = *req.ACL
	}
	if effectiveACL.Visibility != "private" && p.isSensitivePII(m.PII, req.BYOKKeyRef) {
		return nil, apierr.New(apierr.InvalidArgument, "cannot widen visibility while PII is sensitive")
	}
	if req.ACL != nil {
		m.ACL = *req.ACL
		mutated = true
	}

	if req.PIIFlags != nil {
		if isSensitiveFlags(req.PIIFlags) {
			if effectiveACL.Visibility != "private" {
				return nil, apierr.New(apierr.InvalidArgument, "cannot set sensitive PII while effective visibility is non-private")
			}
			env, err := p.Keys.EncryptFlags(req.PIIFlags, req.BYOKKeyRef)
			if err != nil {
				return nil, apierr.Wrap(apierr.InvalidState, "PII encryption failed", err)
			}
			m.PII = env
			m.PIIFlags = nil
		} else {
			m.PII = nil
			m.PIIFlags = req.PIIFlags
		}
		mutated = true
	}

	retentionChanged := false
	if req.Retention != "" && req.Retention != m.Retention {
		m.Retention = req.Retention
		retentionChanged = true
		mutated = true
	}

	ttlChanged := false
	effectiveTTL := m.TTLSeconds
	if req.ClearTTL {
		effectiveTTL = nil
		ttlChanged = true
	} else if req.TTLSeconds != nil {
		effectiveTTL = req.TTLSeconds
		ttlChanged = true
	}

	graphChanged := req.GraphEnrich != nil && *req.GraphEnrich != m.GraphEnrich
	if !mutated && !retentionChanged && !ttlChanged && !graphChanged {
		return &Result{Memory: *existing, Explanation: "No changes applied."}, nil
	}

	if retentionChanged || ttlChanged || (req.Pinned != nil && mutated) {
		class := retention.Resolve(retention.Classification{
			Provided:   m.Retention,
			Pinned:     m.Pinned,
			TTLSeconds: derefInt(effectiveTTL),
		})
		m.Retention = class
		m.TTLSeconds, m.ExpiresAt = retention.NormalizeTTL(class, effectiveTTL, time.Now().UTC())
	}

	graphEnqueued := req.GraphEnrich != nil && *req.GraphEnrich && !m.GraphEnrich
	if req.GraphEnrich != nil {
		m.GraphEnrich = *req.GraphEnrich
		mutated = true
	}

	now := time.Now().UTC()
	m.UpdatedAt = now
	m.Provenance = append(m.Provenance, models.ProvenanceEntry{Event: "updated", Actor: req.Actor, Timestamp: now})

	if err := p.Store.UpdateMemory(ctx, &m); err != nil {
		return nil, apierr.Wrap(apierr.InvalidState, "failed to persist update", err)
	}

	explanation := "memory updated."
	if graphEnqueued && p.GraphJobs != nil {
		job := &models.GraphJob{
			ID: uuid.NewString(), MemoryID: m.ID, Tenancy: m.Tenancy,
			Status: models.GraphJobPending, CreatedAt: now, UpdatedAt: now,
		}
		if err := p.GraphJobs.CreateGraphJob(ctx, job); err != nil {
			log.Warn().Err(err).Str("memoryId", m.ID).Msg("graph job enqueue failed")
		} else {
			explanation = "memory updated; graph enrichment enqueued."
		}
	}
	return &Result{Memory: m, Explanation: explanation}, nil
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func isSensitiveFlags(flags map[string]bool) bool {
	for _, v := range flags {
		if v {
			return true
		}
	}
	return false
}

// isSensitivePII reports whether an existing encrypted PII envelope
// carries at least one true flag, decrypting with the caller's BYOK key
// ref when supplied. A decrypt failure is treated as sensitive, since
// the flags cannot be verified as safe.
func (p *Pipeline) isSensitivePII(env *models.PIIEnvelope, byokKeyRef string) bool {
	if env == nil {
		return false
	}
	toDecrypt := *env
	if byokKeyRef != "" {
		toDecrypt.KeyRef = byokKeyRef
	}
	flags, err := p.Keys.DecryptFlags(&toDecrypt)
	if err != nil {
		return true
	}
	return isSensitiveFlags(flags)
}
