// Package contracts defines the service boundary interfaces used across
// Capsule Memory's engines and HTTP surface, the way the control plane
// this codebase is adapted from keeps a single contracts package as the
// seam between wiring code and concrete implementations.
package contracts

import (
	"context"

	"github.com/capsule-memory/capsule/pkg/models"
)

// ── Embedding driver ─────────────────────────────────────────

// EmbeddingDriver generates dense vector embeddings from text.
type EmbeddingDriver interface {
	Kind() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	MaxBatchSize() int
	HealthCheck(ctx context.Context) error
}

// ── Rewriter driver ──────────────────────────────────────────

// RewriterDriver rewrites a raw query into a retrieval-optimized query
// before embedding, e.g. expanding pronouns or folding in recent turns.
type RewriterDriver interface {
	Kind() string
	Rewrite(ctx context.Context, query string, recentTurns []string) (string, error)
	HealthCheck(ctx context.Context) error
}

// ── Reranker driver ──────────────────────────────────────────

// RerankResult pairs a candidate memory ID with a reranker-assigned score.
type RerankResult struct {
	MemoryID string
	Score    float64
}

// RerankerDriver re-scores a shortlist of candidates against a query
// using a model better suited to fine-grained relevance than cosine
// similarity alone.
type RerankerDriver interface {
	Kind() string
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)
	HealthCheck(ctx context.Context) error
}

// RerankCandidate is one candidate memory passed into a reranker call.
type RerankCandidate struct {
	MemoryID string
	Content  string
}

// ── Document store ───────────────────────────────────────────

// MemoryStore persists Memory records.
type MemoryStore interface {
	CreateMemory(ctx context.Context, m *models.Memory) error
	GetMemory(ctx context.Context, tenancy models.Tenancy, id string) (*models.Memory, error)
	UpdateMemory(ctx context.Context, m *models.Memory) error
	DeleteMemory(ctx context.Context, tenancy models.Tenancy, id string) error
	ListMemories(ctx context.Context, tenancy models.Tenancy, filter ListFilter) ([]models.Memory, error)
	FindByIdempotencyKey(ctx context.Context, tenancy models.Tenancy, key string) (*models.Memory, error)
	CountMemories(ctx context.Context, tenancy models.Tenancy) (int, error)
	SearchByVector(ctx context.Context, tenancy models.Tenancy, vector []float32, topK int) ([]ScoredMemory, error)
}

// ScoredMemory pairs a memory with its similarity score from a vector search.
type ScoredMemory struct {
	Memory models.Memory
	Score  float64
}

// ListFilter narrows a ListMemories call.
type ListFilter struct {
	Type      string
	Tag       string
	PinnedOnly bool
	Limit     int
	Offset    int
}

// CandidateStore persists capture candidates.
type CandidateStore interface {
	CreateCandidate(ctx context.Context, c *models.CaptureCandidate) error
	GetCandidate(ctx context.Context, tenancy models.Tenancy, id string) (*models.CaptureCandidate, error)
	UpdateCandidate(ctx context.Context, c *models.CaptureCandidate) error
	ListCandidates(ctx context.Context, tenancy models.Tenancy, status models.CandidateStatus) ([]models.CaptureCandidate, error)
}

// GraphJobStore persists background entity-extraction jobs.
type GraphJobStore interface {
	CreateGraphJob(ctx context.Context, j *models.GraphJob) error
	ClaimNextGraphJob(ctx context.Context) (*models.GraphJob, error)
	UpdateGraphJob(ctx context.Context, j *models.GraphJob) error
}

// GraphEntityStore persists extracted graph entities.
type GraphEntityStore interface {
	UpsertGraphEntity(ctx context.Context, tenancy models.Tenancy, name, kind, memoryID string) error
	FindEntitiesForMemory(ctx context.Context, tenancy models.Tenancy, memoryID string) ([]models.GraphEntity, error)
	ExpandMemoryIDs(ctx context.Context, tenancy models.Tenancy, memoryIDs []string) ([]string, error)
}

// DocumentStore composes all store concerns plus lifecycle management.
// The in-memory backend implements it fully; named backend stubs
// (mongo/pgvector/qdrant) satisfy the interface but return a
// NotProvisioned apierr.Error from every read/write method beyond
// HealthCheck.
type DocumentStore interface {
	MemoryStore
	CandidateStore
	GraphJobStore
	GraphEntityStore

	Kind() string
	HealthCheck(ctx context.Context) error
	Close() error
}

// ── Cache ────────────────────────────────────────────────────

// Cache is a generic bounded, TTL-aware cache used for the retrieval
// pipeline's hot-set and rewrite caches.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}
