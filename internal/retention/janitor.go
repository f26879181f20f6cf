// Package retention classifies a memory's RetentionClass at write time
// and runs the background sweep that enforces it, adapted from the
// teacher's trace/audit-event janitor. Where that janitor archived or
// purged expired traces and audit events on a ticker, this one expires
// TTL-bound ephemeral memories and evicts the lowest-priority unpinned
// memory when a tenancy exceeds its configured cap — same ticker-driven
// background-sweep shape, repointed at Capsule's memory domain.
package retention

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/capsule-memory/capsule/pkg/contracts"
	"github.com/capsule-memory/capsule/pkg/models"
)

// priority ranks retention classes low to high; low priority is evicted
// first. permanent and irreplaceable are Protected and never evicted.
var priority = map[models.RetentionClass]int{
	models.RetentionEphemeral:   0,
	models.RetentionReplaceable: 1,
	models.RetentionPermanent:   3,
	models.RetentionIrreplaceable: 4,
}

// Protected reports whether a retention class is exempt from eviction.
func Protected(c models.RetentionClass) bool {
	return c == models.RetentionIrreplaceable || c == models.RetentionPermanent
}

// Classification is the input to Resolve: what the caller explicitly
// provided, if anything, plus the memory's pinned flag and effective TTL.
type Classification struct {
	Provided   models.RetentionClass // empty if the caller didn't specify one
	Pinned     bool
	TTLSeconds int // 0 if no TTL was set
}

// Resolve classifies a memory's retention per the deployment's default
// rules:
//  1. an explicitly provided class is used as-is
//  2. else a pinned memory is irreplaceable
//  3. else a short TTL (<=3 days) makes it ephemeral
//  4. else it is replaceable
func Resolve(c Classification) models.RetentionClass {
	switch c.Provided {
	case models.RetentionIrreplaceable, models.RetentionPermanent, models.RetentionReplaceable, models.RetentionEphemeral:
		return c.Provided
	}
	if c.Pinned {
		return models.RetentionIrreplaceable
	}
	if c.TTLSeconds > 0 && c.TTLSeconds <= 3*24*3600 {
		return models.RetentionEphemeral
	}
	return models.RetentionReplaceable
}

// defaultEphemeralTTL is applied when a memory is classified (or
// reclassified) ephemeral without an explicit TTL.
const defaultEphemeralTTL = 7 * 24 * time.Hour

// NormalizeTTL clears TTL/expiry for protected classes and fills in the
// default ephemeral TTL when one is missing.
func NormalizeTTL(class models.RetentionClass, ttlSeconds *int, now time.Time) (*int, *time.Time) {
	if Protected(class) {
		return nil, nil
	}
	if class == models.RetentionEphemeral && (ttlSeconds == nil || *ttlSeconds <= 0) {
		secs := int(defaultEphemeralTTL.Seconds())
		ttlSeconds = &secs
	}
	if ttlSeconds == nil {
		return nil, nil
	}
	expires := now.Add(time.Duration(*ttlSeconds) * time.Second)
	return ttlSeconds, &expires
}

// maxScanWindow bounds how many of a tenancy's oldest unpinned memories
// an eviction scan inspects.
const maxScanWindow = 200

// SelectEvictionCandidate scans up to maxScanWindow of a tenancy's oldest
// unpinned memories, ignores protected classes, and returns the one with
// the lowest retention priority, breaking ties by oldest CreatedAt. It
// returns (nil, nil) if nothing is evictable.
func SelectEvictionCandidate(ctx context.Context, store contracts.MemoryStore, tenancy models.Tenancy) (*models.Memory, error) {
	all, err := store.ListMemories(ctx, tenancy, contracts.ListFilter{})
	if err != nil {
		return nil, err
	}

	// ListMemories puts pinned and high-importance memories first; eviction
	// scans oldest-first, so sort by CreatedAt and take the unpinned window.
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	candidates := make([]models.Memory, 0, maxScanWindow)
	for _, m := range all {
		if m.Pinned {
			continue
		}
		candidates = append(candidates, m)
		if len(candidates) == maxScanWindow {
			break
		}
	}

	var best *models.Memory
	for i := range candidates {
		m := &candidates[i]
		if m.Pinned || Protected(m.Retention) {
			continue
		}
		if best == nil || priority[m.Retention] < priority[best.Retention] {
			best = m
			continue
		}
		if priority[m.Retention] == priority[best.Retention] && m.CreatedAt.Before(best.CreatedAt) {
			best = m
		}
	}
	return best, nil
}

// EnforceCap evicts the lowest-priority unpinned memory if the tenancy's
// memory count exceeds maxMemories. It is called after every insert by
// the write pipeline; eviction failure is logged, never returned to the
// caller, per the spec's "retention eviction failure does not fail the
// write" propagation rule.
func EnforceCap(ctx context.Context, s contracts.MemoryStore, tenancy models.Tenancy, maxMemories int) (evictedID string) {
	if maxMemories <= 0 {
		return ""
	}
	count, err := s.CountMemories(ctx, tenancy)
	if err != nil {
		log.Warn().Err(err).Msg("retention: failed to count memories for eviction check")
		return ""
	}
	if count <= maxMemories {
		return ""
	}

	candidate, err := SelectEvictionCandidate(ctx, s, tenancy)
	if err != nil {
		log.Warn().Err(err).Msg("retention: eviction candidate scan failed")
		return ""
	}
	if candidate == nil {
		log.Info().Str("tenancy", tenancy.Key()).Msg("retention: no eviction candidate found")
		return ""
	}
	if err := s.DeleteMemory(ctx, tenancy, candidate.ID); err != nil {
		log.Warn().Err(err).Str("memoryId", candidate.ID).Msg("retention: eviction delete failed")
		return ""
	}
	log.Info().Str("tenancy", tenancy.Key()).Str("memoryId", candidate.ID).Str("retention", string(candidate.Retention)).
		Msg("retention: evicted memory on insert overflow")
	return candidate.ID
}

// TenancyLister is satisfied by a store that can enumerate the distinct
// tenancies it holds memories for, so the background sweep doesn't need
// to guess at tenant IDs. InMemoryStore implements it.
type TenancyLister interface {
	ListTenancies(ctx context.Context) ([]models.Tenancy, error)
}

// Janitor periodically sweeps every known tenancy, deleting memories
// whose TTL has expired. Eviction-on-overflow (EnforceCap) runs inline
// in the write pipeline instead, since it must happen synchronously with
// the insert that triggered it.
type Janitor struct {
	store    contracts.MemoryStore
	tenants  TenancyLister
	interval time.Duration
}

// NewJanitor creates a janitor sweeping on the given interval. Intervals
// under a minute are raised to one minute.
func NewJanitor(store contracts.MemoryStore, tenants TenancyLister, interval time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Janitor{store: store, tenants: tenants, interval: interval}
}

// Start runs the sweep on a ticker until ctx is canceled, mirroring the
// teacher's run-once-then-tick shape.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().Dur("interval", j.interval).Msg("retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retention janitor stopped")
			return
		case <-ticker.C:
			j.runCycle(ctx)
		}
	}
}

// runCycle expires TTL-bound memories across every known tenancy.
func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	tenancies, err := j.tenants.ListTenancies(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("retention janitor: failed to list tenancies")
		return
	}

	now := time.Now().UTC()
	purged := 0
	for _, tenancy := range tenancies {
		purged += j.sweepTenancy(ctx, tenancy, now)
	}

	if purged > 0 {
		log.Info().Int("purged", purged).Int("tenancies", len(tenancies)).Dur("elapsed", time.Since(start)).
			Msg("retention cycle complete")
	}
}

func (j *Janitor) sweepTenancy(ctx context.Context, tenancy models.Tenancy, now time.Time) int {
	memories, err := j.store.ListMemories(ctx, tenancy, contracts.ListFilter{})
	if err != nil {
		log.Warn().Err(err).Str("tenancy", tenancy.Key()).Msg("retention janitor: failed to list memories")
		return 0
	}

	purged := 0
	for _, m := range memories {
		if m.ExpiresAt == nil || m.ExpiresAt.After(now) {
			continue
		}
		if err := j.store.DeleteMemory(ctx, tenancy, m.ID); err != nil {
			log.Warn().Err(err).Str("memoryId", m.ID).Msg("retention janitor: purge failed")
			continue
		}
		purged++
	}
	return purged
}
