// Package retrieval implements the adaptive retrieval pipeline: an
// optional query rewrite, query embedding, candidate fetch through a
// hot-set cache, recipe-weighted scoring, optional graph expansion, and
// an optional rerank pass — mirroring the teacher's multi-stage
// pipeline shape also used by internal/write and internal/update, but
// read-oriented: each stage degrades gracefully instead of failing the
// whole request when an adaptive step (rewrite, rerank) is unavailable.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/internal/cache"
	"github.com/capsule-memory/capsule/internal/logging"
	"github.com/capsule-memory/capsule/internal/recipe"
	"github.com/capsule-memory/capsule/pkg/contracts"
	"github.com/capsule-memory/capsule/pkg/models"
)

const (
	defaultRewriteCacheTTL = 30 * time.Second
	defaultRewriteCacheMax = 50
	defaultHotSetCacheTTL  = 30 * time.Second
	defaultHotSetCacheMax  = 50

	defaultMinQueryLenForRewrite = 12
	defaultRewriteBudget         = 400 * time.Millisecond
	defaultRerankBudget          = 800 * time.Millisecond
	defaultMaxRerankCandidates   = 50
)

// Request is one retrieval call, scoped to the caller's tenancy.
type Request struct {
	Tenancy       models.Tenancy
	Query         string
	Prompt        string // system/task prompt, part of the rewrite cache key
	RecentTurns   []string
	RecipeName    string
	Limit         int
	DisableRewrite bool
	DisableRerank  bool
}

// ScoredResult is one memory surfaced by a retrieval call.
type ScoredResult struct {
	Memory      models.Memory
	Similarity  float64
	RecipeScore float64
	GraphHit    bool
}

// Metrics records which adaptive steps ran and how long they took.
type Metrics struct {
	RewriteApplied   bool
	RewriteLatencyMs int64
	RerankApplied    bool
	RerankLatencyMs  int64
	HotSetCacheHit   bool
}

// Result is returned to the HTTP layer after a retrieval call.
type Result struct {
	Query       string
	Recipe      string
	Results     []ScoredResult
	Explanation string
	Metrics     Metrics
}

// Pipeline wires the collaborators a retrieval call needs. Rewriter and
// Reranker are optional; a nil value simply disables that adaptive step.
type Pipeline struct {
	Store    contracts.DocumentStore
	Embedder contracts.EmbeddingDriver
	Recipes  *recipe.Engine
	Rewriter contracts.RewriterDriver
	Reranker contracts.RerankerDriver

	RewriteCache *cache.FIFO
	HotSetCache  *cache.FIFO

	MinQueryLenForRewrite int
	RewriteBudget         time.Duration
	RerankBudget          time.Duration
	MaxRerankCandidates   int
}

// NewPipeline constructs a retrieval pipeline with its two caches
// pre-sized to the documented defaults (TTL 30s, bounded 50, FIFO
// eviction).
func NewPipeline(store contracts.DocumentStore, embedder contracts.EmbeddingDriver, recipes *recipe.Engine) *Pipeline {
	return &Pipeline{
		Store:                 store,
		Embedder:              embedder,
		Recipes:               recipes,
		RewriteCache:          cache.New(defaultRewriteCacheMax, defaultRewriteCacheTTL),
		HotSetCache:           cache.New(defaultHotSetCacheMax, defaultHotSetCacheTTL),
		MinQueryLenForRewrite: defaultMinQueryLenForRewrite,
		RewriteBudget:         defaultRewriteBudget,
		RerankBudget:          defaultRerankBudget,
		MaxRerankCandidates:   defaultMaxRerankCandidates,
	}
}

// Search runs the full adaptive retrieval pipeline for one request.
func (p *Pipeline) Search(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, apierr.New(apierr.InvalidArgument, "query must not be empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	r, err := p.Recipes.Get(req.RecipeName)
	if err != nil {
		return nil, err
	}

	query := req.Query
	var metrics Metrics
	if rewritten, applied, latency := p.rewrite(ctx, req); applied {
		query = rewritten
		metrics.RewriteApplied = true
		metrics.RewriteLatencyMs = latency.Milliseconds()
	}

	vectors, err := p.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, apierr.Wrap(apierr.Upstream, "query embedding failed", err)
	}
	if len(vectors) == 0 {
		return nil, apierr.New(apierr.Upstream, "embedding driver returned no vector")
	}
	queryVector := l2Normalize(vectors[0])

	candidateLimit := limit * 5
	if candidateLimit < 50 {
		candidateLimit = 50
	}
	candidates, hit := p.fetchCandidates(ctx, req.Tenancy, r, candidateLimit)
	metrics.HotSetCacheHit = hit

	accessible := make([]models.Memory, 0, len(candidates))
	for _, m := range candidates {
		if Accessible(m, req.Tenancy.SubjectID) {
			accessible = append(accessible, m)
		}
	}

	scored := scoreCandidates(accessible, r, queryVector)

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].RecipeScore > scored[j].RecipeScore })
	if len(scored) > limit {
		scored = scored[:limit]
	}

	if r.GraphEnrich {
		scored = p.expandGraph(ctx, req.Tenancy, scored)
	}

	if rerankApplied, latency := p.rerank(ctx, req, query, scored); rerankApplied {
		metrics.RerankApplied = true
		metrics.RerankLatencyMs = latency.Milliseconds()
	}

	logging.RecipeUsage(req.Tenancy, r.Name, len(scored), metrics.RewriteApplied, metrics.RerankApplied, metrics.HotSetCacheHit, metrics.RewriteLatencyMs, metrics.RerankLatencyMs)
	logging.VectorMetrics(req.Tenancy, len(candidates), len(queryVector), false)

	return &Result{
		Query:       query,
		Recipe:      r.Name,
		Results:     scored,
		Explanation: "retrieved via recipe " + r.Name,
		Metrics:     metrics,
	}, nil
}

// rewrite applies the adaptive rewrite decision: skipped when disabled
// by the caller, no rewriter is configured, or the query is shorter
// than the configured minimum. A cache hit short-circuits the call.
func (p *Pipeline) rewrite(ctx context.Context, req Request) (string, bool, time.Duration) {
	if req.DisableRewrite || p.Rewriter == nil || len(req.Query) < p.MinQueryLenForRewrite {
		return "", false, 0
	}

	key := req.Prompt + "\x00" + req.Query
	if cached, ok := p.RewriteCache.Get(key); ok {
		if rewritten, ok := cached.(string); ok {
			return rewritten, true, 0
		}
	}

	start := time.Now()
	rewriteCtx, cancel := context.WithTimeout(ctx, p.RewriteBudget)
	defer cancel()

	rewritten, err := p.Rewriter.Rewrite(rewriteCtx, req.Query, req.RecentTurns)
	latency := time.Since(start)
	if err != nil || latency > p.RewriteBudget {
		log.Warn().Err(err).Dur("latency", latency).Msg("query rewrite skipped")
		return "", false, 0
	}

	p.RewriteCache.Set(key, rewritten)
	return rewritten, true, latency
}

// fetchCandidates returns up to N candidates, in ListMemories order,
// matching the recipe's filters, consulting the hot-set cache keyed by
// tenancy, filter signature, and candidate limit.
func (p *Pipeline) fetchCandidates(ctx context.Context, tenancy models.Tenancy, r models.Recipe, candidateLimit int) ([]models.Memory, bool) {
	key := hotSetKey(tenancy, r, candidateLimit)
	if cached, ok := p.HotSetCache.Get(key); ok {
		if memories, ok := cached.([]models.Memory); ok {
			return cloneMemories(memories), true
		}
	}

	filter := contracts.ListFilter{PinnedOnly: r.PinnedOnly, Limit: candidateLimit}
	if len(r.Types) == 1 {
		filter.Type = r.Types[0]
	}

	memories, err := p.Store.ListMemories(ctx, tenancy, filter)
	if err != nil {
		log.Warn().Err(err).Msg("candidate fetch failed")
		return nil, false
	}
	if len(r.Types) > 1 {
		memories = filterByTypes(memories, r.Types)
	}
	if r.Filter != "" {
		memories = p.filterByRecipeExpr(r, memories)
	}

	p.HotSetCache.Set(key, memories)
	return cloneMemories(memories), false
}

func (p *Pipeline) filterByRecipeExpr(r models.Recipe, memories []models.Memory) []models.Memory {
	out := make([]models.Memory, 0, len(memories))
	for _, m := range memories {
		ctx := models.RecipeContext{Type: m.Type, Tags: m.Tags, Pinned: m.Pinned}
		ok, err := p.Recipes.Matches(r.Name, ctx)
		if err != nil || !ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

// scoreCandidates computes cosine similarity and recipe score for each
// accessible candidate, preserving arrival order for stable tie-breaks.
func scoreCandidates(memories []models.Memory, r models.Recipe, queryVector []float32) []ScoredResult {
	out := make([]ScoredResult, 0, len(memories))
	for _, m := range memories {
		sim := similarity(queryVector, m)
		out = append(out, ScoredResult{
			Memory:      m,
			Similarity:  sim,
			RecipeScore: recipe.Score(r, sim, m.ImportanceScore, m.RecencyScore, m.Pinned, m.Retention),
		})
	}
	return out
}

// expandGraph looks up entities linked to the current result set and
// appends up to maxGraphExpansion new memories with a neutral score.
const maxGraphExpansion = 10

func (p *Pipeline) expandGraph(ctx context.Context, tenancy models.Tenancy, results []ScoredResult) []ScoredResult {
	baseIDs := make([]string, 0, len(results))
	for _, r := range results {
		baseIDs = append(baseIDs, r.Memory.ID)
	}

	expanded, err := p.Store.ExpandMemoryIDs(ctx, tenancy, baseIDs)
	if err != nil {
		log.Warn().Err(err).Msg("graph expansion failed")
		return results
	}

	existing := make(map[string]bool, len(baseIDs))
	for _, id := range baseIDs {
		existing[id] = true
	}

	toFetch := make([]string, 0, len(expanded))
	for _, id := range expanded {
		if existing[id] || len(toFetch) >= maxGraphExpansion {
			continue
		}
		existing[id] = true
		toFetch = append(toFetch, id)
	}

	fetched := make([]*models.Memory, len(toFetch))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range toFetch {
		i, id := i, id
		g.Go(func() error {
			m, err := p.Store.GetMemory(gctx, tenancy, id)
			if err != nil {
				return nil
			}
			fetched[i] = m
			return nil
		})
	}
	_ = g.Wait()

	for _, m := range fetched {
		if m != nil {
			results = append(results, ScoredResult{Memory: *m, GraphHit: true})
		}
	}
	return results
}

// rerank calls the configured reranker over the current shortlist and
// re-sorts by its returned scores; failures keep the prior order.
func (p *Pipeline) rerank(ctx context.Context, req Request, query string, scored []ScoredResult) (bool, time.Duration) {
	if req.DisableRerank || p.Reranker == nil || len(scored) == 0 || len(scored) > p.MaxRerankCandidates {
		return false, 0
	}

	candidates := make([]contracts.RerankCandidate, len(scored))
	for i, s := range scored {
		candidates[i] = contracts.RerankCandidate{MemoryID: s.Memory.ID, Content: s.Memory.Content}
	}

	start := time.Now()
	rerankCtx, cancel := context.WithTimeout(ctx, p.RerankBudget)
	defer cancel()

	ranked, err := p.Reranker.Rerank(rerankCtx, query, candidates)
	latency := time.Since(start)
	if err != nil || latency > p.RerankBudget {
		log.Warn().Err(err).Dur("latency", latency).Msg("rerank skipped")
		return false, 0
	}

	byID := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		byID[r.MemoryID] = r.Score
	}
	for i := range scored {
		if s, ok := byID[scored[i].Memory.ID]; ok {
			scored[i].RecipeScore = s
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].RecipeScore > scored[j].RecipeScore })
	return true, latency
}

// Accessible reports whether a memory is visible to subject s: it owns
// the memory, the memory is public, or it is shared and either
// unrestricted or s is an explicit recipient.
func Accessible(m models.Memory, s string) bool {
	if m.Tenancy.SubjectID == s {
		return true
	}
	switch m.ACL.Visibility {
	case "public":
		return true
	case "shared":
		return len(m.ACL.SharedWith) == 0 || containsString(m.ACL.SharedWith, s)
	default:
		return false
	}
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func filterByTypes(memories []models.Memory, types []string) []models.Memory {
	out := make([]models.Memory, 0, len(memories))
	for _, m := range memories {
		for _, t := range types {
			if m.Type == t {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func cloneMemories(in []models.Memory) []models.Memory {
	out := make([]models.Memory, len(in))
	copy(out, in)
	return out
}

func hotSetKey(tenancy models.Tenancy, r models.Recipe, candidateLimit int) string {
	return tenancy.Key() + ":" + r.Name + ":" + strconv.Itoa(candidateLimit)
}

// similarity computes cosine similarity between a (already L2-normalized)
// query vector and a stored memory's embedding. When dimensions match,
// both vectors are trusted to already be unit length (the write
// pipeline's stored-norm invariant), so cosine similarity reduces to a
// raw dot product — no norm recomputation needed. A zero EmbeddingNorm
// marks a degenerate all-zero embedding and short-circuits to 0. On a
// dimension mismatch (legacy rows), falls back to a truncated dot
// product over the shared prefix divided by the shared length.
func similarity(query []float32, m models.Memory) float64 {
	a, b := query, m.Embedding
	if len(a) == len(b) {
		if m.EmbeddingNorm == 0 {
			return 0
		}
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / float64(n)
}

func l2Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
