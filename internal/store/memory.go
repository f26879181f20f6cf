// Package store provides implementations of the contracts.DocumentStore
// interface: the in-memory store, mirroring the teacher's mutex-guarded
// MemoryStore with debounced JSON snapshot persistence, repurposed to
// tenancy-scoped memory storage, and the named unprovisioned backends.
// The store runs no eviction loop; TTL expiry and cap eviction live in
// internal/retention.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/pkg/contracts"
	"github.com/capsule-memory/capsule/pkg/models"
	"github.com/rs/zerolog/log"
)

type snapshot struct {
	Memories    map[string]*models.Memory         `json:"memories"`
	Candidates  map[string]*models.CaptureCandidate `json:"candidates"`
	GraphJobs   map[string]*models.GraphJob        `json:"graphJobs"`
	GraphEntity map[string]*models.GraphEntity     `json:"graphEntities"`
}

// InMemoryStore implements contracts.DocumentStore with mutex-guarded maps.
// It is the default and only fully functional CAPSULE_VECTOR_STORE backend.
type InMemoryStore struct {
	mu sync.RWMutex

	memories   map[string]*models.Memory           // key: tenancy:id
	candidates map[string]*models.CaptureCandidate // key: tenancy:id
	graphJobs  map[string]*models.GraphJob         // key: id
	entities   map[string]*models.GraphEntity      // key: tenancy:name

	snapshotPath string
	saveMu       sync.Mutex
	saveCh       chan struct{}
	doneCh       chan struct{}
}

// NewInMemoryStore creates the in-memory store. If dataDir is non-empty,
// data is persisted to a JSON snapshot file within it.
func NewInMemoryStore(dataDir string) *InMemoryStore {
	s := &InMemoryStore{
		memories:   make(map[string]*models.Memory),
		candidates: make(map[string]*models.CaptureCandidate),
		graphJobs:  make(map[string]*models.GraphJob),
		entities:   make(map[string]*models.GraphEntity),
		saveCh:     make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("cannot create data dir, persistence disabled")
		} else {
			s.snapshotPath = filepath.Join(dataDir, "capsule-memory.json")
			s.loadSnapshot()
			go s.saveLoop()
		}
	}

	return s
}

func (s *InMemoryStore) Kind() string { return "memory" }

func (s *InMemoryStore) HealthCheck(_ context.Context) error { return nil }

func (s *InMemoryStore) Close() error {
	select {
	case <-s.doneCh:
		return nil
	default:
		close(s.doneCh)
	}
	if s.snapshotPath != "" {
		s.saveSnapshot()
	}
	return nil
}

func (s *InMemoryStore) requestSave() {
	if s.snapshotPath == "" {
		return
	}
	select {
	case s.saveCh <- struct{}{}:
	default:
	}
}

func (s *InMemoryStore) saveLoop() {
	for {
		select {
		case <-s.doneCh:
			return
		case <-s.saveCh:
			time.Sleep(500 * time.Millisecond)
			s.saveSnapshot()
		}
	}
}

func (s *InMemoryStore) saveSnapshot() {
	s.mu.RLock()
	snap := snapshot{
		Memories:    s.memories,
		Candidates:  s.candidates,
		GraphJobs:   s.graphJobs,
		GraphEntity: s.entities,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Msg("failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		log.Error().Err(err).Msg("failed to rename snapshot")
	}
}

func (s *InMemoryStore) loadSnapshot() {
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to read snapshot")
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Msg("failed to parse snapshot, starting fresh")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Memories != nil {
		s.memories = snap.Memories
	}
	if snap.Candidates != nil {
		s.candidates = snap.Candidates
	}
	if snap.GraphJobs != nil {
		s.graphJobs = snap.GraphJobs
	}
	if snap.GraphEntity != nil {
		s.entities = snap.GraphEntity
	}
	log.Info().Int("memories", len(s.memories)).Msg("snapshot loaded")
}

func tkey(t models.Tenancy, id string) string {
	return t.Key() + ":" + id
}

// ── Memory store ─────────────────────────────────────────────

func (s *InMemoryStore) CreateMemory(_ context.Context, m *models.Memory) error {
	s.mu.Lock()
	cp := *m
	s.memories[tkey(m.Tenancy, m.ID)] = &cp
	s.mu.Unlock()
	s.requestSave()
	return nil
}

func (s *InMemoryStore) GetMemory(_ context.Context, tenancy models.Tenancy, id string) (*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[tkey(tenancy, id)]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "memory not found: "+id)
	}
	cp := *m
	return &cp, nil
}

func (s *InMemoryStore) UpdateMemory(_ context.Context, m *models.Memory) error {
	s.mu.Lock()
	k := tkey(m.Tenancy, m.ID)
	if _, ok := s.memories[k]; !ok {
		s.mu.Unlock()
		return apierr.New(apierr.NotFound, "memory not found: "+m.ID)
	}
	cp := *m
	s.memories[k] = &cp
	s.mu.Unlock()
	s.requestSave()
	return nil
}

func (s *InMemoryStore) DeleteMemory(_ context.Context, tenancy models.Tenancy, id string) error {
	s.mu.Lock()
	k := tkey(tenancy, id)
	if _, ok := s.memories[k]; !ok {
		s.mu.Unlock()
		return apierr.New(apierr.NotFound, "memory not found: "+id)
	}
	delete(s.memories, k)
	s.mu.Unlock()
	s.requestSave()
	return nil
}

func (s *InMemoryStore) ListMemories(_ context.Context, tenancy models.Tenancy, filter contracts.ListFilter) ([]models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Memory
	prefix := tenancy.Key() + ":"
	for k, m := range s.memories {
		if !hasPrefix(k, prefix) {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.PinnedOnly && !m.Pinned {
			continue
		}
		if filter.Tag != "" && !containsTag(m.Tags, filter.Tag) {
			continue
		}
		result = append(result, *m)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.ImportanceScore != b.ImportanceScore {
			return a.ImportanceScore > b.ImportanceScore
		}
		if a.RecencyScore != b.RecencyScore {
			return a.RecencyScore > b.RecencyScore
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []models.Memory{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *InMemoryStore) FindByIdempotencyKey(_ context.Context, tenancy models.Tenancy, key string) (*models.Memory, error) {
	if key == "" {
		return nil, apierr.New(apierr.NotFound, "no idempotency key")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := tenancy.Key() + ":"
	for k, m := range s.memories {
		if hasPrefix(k, prefix) && m.IdempotencyKey == key {
			cp := *m
			return &cp, nil
		}
	}
	return nil, apierr.New(apierr.NotFound, "no memory for idempotency key")
}

// ListTenancies returns the distinct tenancies holding at least one
// memory, for the retention janitor's background sweep.
func (s *InMemoryStore) ListTenancies(_ context.Context) ([]models.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[models.Tenancy]bool)
	for _, m := range s.memories {
		seen[m.Tenancy] = true
	}
	out := make([]models.Tenancy, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out, nil
}

func (s *InMemoryStore) CountMemories(_ context.Context, tenancy models.Tenancy) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := tenancy.Key() + ":"
	count := 0
	for k := range s.memories {
		if hasPrefix(k, prefix) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) SearchByVector(_ context.Context, tenancy models.Tenancy, vector []float32, topK int) ([]contracts.ScoredMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := tenancy.Key() + ":"
	type scored struct {
		m     *models.Memory
		score float64
	}
	var candidates []scored
	for k, m := range s.memories {
		if !hasPrefix(k, prefix) || len(m.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{m: m, score: similarity(vector, m.Embedding)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]contracts.ScoredMemory, topK)
	for i := 0; i < topK; i++ {
		out[i] = contracts.ScoredMemory{Memory: *candidates[i].m, Score: candidates[i].score}
	}
	return out, nil
}

// similarity computes cosine similarity when dimensions match, and falls
// back to a truncated dot product over the shared prefix otherwise.
func similarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if len(a) == len(b) {
		if normA == 0 || normB == 0 {
			return 0
		}
		return dot / (sqrt(normA) * sqrt(normB))
	}
	// Dimension mismatch: truncated dot product over the shared prefix,
	// divided by the shared length.
	if n == 0 {
		return 0
	}
	return dot / float64(n)
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z = z - (z*z-x)/(2*z)
	}
	return z
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ── Candidate store ──────────────────────────────────────────

func (s *InMemoryStore) CreateCandidate(_ context.Context, c *models.CaptureCandidate) error {
	s.mu.Lock()
	cp := *c
	s.candidates[tkey(c.Tenancy, c.ID)] = &cp
	s.mu.Unlock()
	s.requestSave()
	return nil
}

func (s *InMemoryStore) GetCandidate(_ context.Context, tenancy models.Tenancy, id string) (*models.CaptureCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[tkey(tenancy, id)]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "candidate not found: "+id)
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) UpdateCandidate(_ context.Context, c *models.CaptureCandidate) error {
	s.mu.Lock()
	k := tkey(c.Tenancy, c.ID)
	if _, ok := s.candidates[k]; !ok {
		s.mu.Unlock()
		return apierr.New(apierr.NotFound, "candidate not found: "+c.ID)
	}
	cp := *c
	s.candidates[k] = &cp
	s.mu.Unlock()
	s.requestSave()
	return nil
}

func (s *InMemoryStore) ListCandidates(_ context.Context, tenancy models.Tenancy, status models.CandidateStatus) ([]models.CaptureCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := tenancy.Key() + ":"
	var result []models.CaptureCandidate
	for k, c := range s.candidates {
		if !hasPrefix(k, prefix) {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// ── Graph job store ──────────────────────────────────────────

func (s *InMemoryStore) CreateGraphJob(_ context.Context, j *models.GraphJob) error {
	s.mu.Lock()
	cp := *j
	s.graphJobs[j.ID] = &cp
	s.mu.Unlock()
	s.requestSave()
	return nil
}

// graphJobBackoffElapsed reports whether an errored job has waited out
// its attempts-scaled exponential backoff since it was last updated,
// in addition to the attempts >= MaxAttempts cutoff applied by the
// worker itself.
func graphJobBackoffElapsed(j *models.GraphJob) bool {
	if j.Attempts == 0 {
		return true
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	var wait time.Duration
	for i := 0; i < j.Attempts; i++ {
		wait = bo.NextBackOff()
	}
	return time.Since(j.UpdatedAt) >= wait
}

// ClaimNextGraphJob returns the oldest pending job, or the oldest errored
// job whose retry backoff has elapsed, and marks it running.
func (s *InMemoryStore) ClaimNextGraphJob(_ context.Context) (*models.GraphJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.GraphJob
	for _, j := range s.graphJobs {
		if j.Status != models.GraphJobPending && j.Status != models.GraphJobError {
			continue
		}
		if j.Status == models.GraphJobError && !graphJobBackoffElapsed(j) {
			continue
		}
		if best == nil || j.UpdatedAt.Before(best.UpdatedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, apierr.New(apierr.NotFound, "no claimable graph job")
	}

	best.Status = models.GraphJobRunning
	best.UpdatedAt = time.Now().UTC()
	cp := *best
	return &cp, nil
}

func (s *InMemoryStore) UpdateGraphJob(_ context.Context, j *models.GraphJob) error {
	s.mu.Lock()
	cp := *j
	s.graphJobs[j.ID] = &cp
	s.mu.Unlock()
	s.requestSave()
	return nil
}

// ── Graph entity store ───────────────────────────────────────

func (s *InMemoryStore) UpsertGraphEntity(_ context.Context, tenancy models.Tenancy, name, kind, memoryID string) error {
	s.mu.Lock()
	k := tkey(tenancy, name)
	e, ok := s.entities[k]
	now := time.Now().UTC()
	if !ok {
		e = &models.GraphEntity{
			ID:        k,
			Tenancy:   tenancy,
			Name:      name,
			Kind:      kind,
			MemoryIDs: []string{memoryID},
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.entities[k] = e
	} else {
		if !containsTag(e.MemoryIDs, memoryID) {
			e.MemoryIDs = append(e.MemoryIDs, memoryID)
		}
		e.UpdatedAt = now
	}
	s.mu.Unlock()
	s.requestSave()
	return nil
}

func (s *InMemoryStore) FindEntitiesForMemory(_ context.Context, tenancy models.Tenancy, memoryID string) ([]models.GraphEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := tenancy.Key() + ":"
	var out []models.GraphEntity
	for k, e := range s.entities {
		if !hasPrefix(k, prefix) {
			continue
		}
		if containsTag(e.MemoryIDs, memoryID) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ExpandMemoryIDs(_ context.Context, tenancy models.Tenancy, memoryIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := tenancy.Key() + ":"
	seen := make(map[string]bool, len(memoryIDs))
	for _, id := range memoryIDs {
		seen[id] = true
	}
	for k, e := range s.entities {
		if !hasPrefix(k, prefix) {
			continue
		}
		linked := false
		for _, id := range e.MemoryIDs {
			if seen[id] {
				linked = true
				break
			}
		}
		if linked {
			for _, id := range e.MemoryIDs {
				seen[id] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

var _ contracts.DocumentStore = (*InMemoryStore)(nil)
