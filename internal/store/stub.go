package store

import (
	"context"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/pkg/contracts"
	"github.com/capsule-memory/capsule/pkg/models"
)

// stubStore is a named, health-checkable document store backend that has
// not been provisioned. Every read/write method returns NotProvisioned;
// only Kind/HealthCheck/Close are meaningful. mongo and qdrant are shipped
// as bare stubs — pgvectorStore (pgvector.go) additionally dials Postgres
// so its HealthCheck is real connectivity, not a constant.
type stubStore struct {
	kind string
}

func newStub(kind string) *stubStore { return &stubStore{kind: kind} }

func (s *stubStore) Kind() string { return s.kind }

func (s *stubStore) HealthCheck(_ context.Context) error {
	return apierr.New(apierr.NotProvisioned, s.kind+" backend is not provisioned")
}

func (s *stubStore) Close() error { return nil }

func (s *stubStore) notProvisioned() error {
	return apierr.New(apierr.NotProvisioned, s.kind+" backend is not provisioned; only the memory backend is functional")
}

func (s *stubStore) CreateMemory(context.Context, *models.Memory) error { return s.notProvisioned() }
func (s *stubStore) GetMemory(context.Context, models.Tenancy, string) (*models.Memory, error) {
	return nil, s.notProvisioned()
}
func (s *stubStore) UpdateMemory(context.Context, *models.Memory) error { return s.notProvisioned() }
func (s *stubStore) DeleteMemory(context.Context, models.Tenancy, string) error {
	return s.notProvisioned()
}
func (s *stubStore) ListMemories(context.Context, models.Tenancy, contracts.ListFilter) ([]models.Memory, error) {
	return nil, s.notProvisioned()
}
func (s *stubStore) FindByIdempotencyKey(context.Context, models.Tenancy, string) (*models.Memory, error) {
	return nil, s.notProvisioned()
}
func (s *stubStore) CountMemories(context.Context, models.Tenancy) (int, error) {
	return 0, s.notProvisioned()
}
func (s *stubStore) SearchByVector(context.Context, models.Tenancy, []float32, int) ([]contracts.ScoredMemory, error) {
	return nil, s.notProvisioned()
}

func (s *stubStore) CreateCandidate(context.Context, *models.CaptureCandidate) error {
	return s.notProvisioned()
}
func (s *stubStore) GetCandidate(context.Context, models.Tenancy, string) (*models.CaptureCandidate, error) {
	return nil, s.notProvisioned()
}
func (s *stubStore) UpdateCandidate(context.Context, *models.CaptureCandidate) error {
	return s.notProvisioned()
}
func (s *stubStore) ListCandidates(context.Context, models.Tenancy, models.CandidateStatus) ([]models.CaptureCandidate, error) {
	return nil, s.notProvisioned()
}

func (s *stubStore) CreateGraphJob(context.Context, *models.GraphJob) error { return s.notProvisioned() }
func (s *stubStore) ClaimNextGraphJob(context.Context) (*models.GraphJob, error) {
	return nil, s.notProvisioned()
}
func (s *stubStore) UpdateGraphJob(context.Context, *models.GraphJob) error { return s.notProvisioned() }

func (s *stubStore) UpsertGraphEntity(context.Context, models.Tenancy, string, string, string) error {
	return s.notProvisioned()
}
func (s *stubStore) FindEntitiesForMemory(context.Context, models.Tenancy, string) ([]models.GraphEntity, error) {
	return nil, s.notProvisioned()
}
func (s *stubStore) ExpandMemoryIDs(context.Context, models.Tenancy, []string) ([]string, error) {
	return nil, s.notProvisioned()
}

// NewMongoStub returns the named, unprovisioned mongo backend.
func NewMongoStub() contracts.DocumentStore { return newStub("mongo") }

// NewQdrantStub returns the named, unprovisioned qdrant backend.
func NewQdrantStub() contracts.DocumentStore { return newStub("qdrant") }

var (
	_ contracts.DocumentStore = (*stubStore)(nil)
)
