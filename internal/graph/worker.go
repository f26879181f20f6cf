// Package graph implements the background entity-extraction worker:
// poll for a claimable job, load its memory, extract entities by
// regex, upsert the graph index, and retry bounded failures with
// exponential backoff — grounded on the teacher's single periodic
// background task idiom (a ticker loop, the same shape as
// internal/retention.Janitor.Start, plus a single-start guard that the
// Janitor does not have) combined with
// cenkalti/backoff/v4 for the retry delay the teacher's own job
// retries elsewhere in the pack use.
package graph

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/capsule-memory/capsule/pkg/contracts"
	"github.com/capsule-memory/capsule/pkg/models"
)

// MaxAttempts caps retries for an errored job before it is abandoned.
const MaxAttempts = 3

// maxEntitiesPerMemory caps the number of distinct entities extracted
// from a single memory.
const maxEntitiesPerMemory = 25

var capitalizedTokenRe = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2})\b`)

// Worker polls for claimable graph jobs on an interval and processes
// them one at a time — a single process-wide background task, never
// more than one job in flight.
type Worker struct {
	Store    contracts.DocumentStore
	Interval time.Duration

	startOnce sync.Once
}

// NewWorker constructs a worker polling at the given interval.
func NewWorker(store contracts.DocumentStore, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{Store: store, Interval: interval}
}

// Start runs the poll loop until ctx is canceled. Calling Start more
// than once is a no-op; the sync.Once guard prevents duplicate timers
// if the server wires this up twice by mistake.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.loop(ctx)
	})
}

func (w *Worker) loop(ctx context.Context) {
	log.Info().Dur("interval", w.Interval).Msg("graph worker started")
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("graph worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick claims and processes at most one job.
func (w *Worker) tick(ctx context.Context) {
	job, err := w.Store.ClaimNextGraphJob(ctx)
	if err != nil {
		return // nothing claimable; not an error worth logging every tick
	}
	if job.Attempts >= MaxAttempts {
		job.Status = models.GraphJobError
		job.LastErr = "max attempts exceeded"
		_ = w.Store.UpdateGraphJob(ctx, job)
		return
	}

	w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job *models.GraphJob) {
	job.Attempts++

	mem, err := w.Store.GetMemory(ctx, job.Tenancy, job.MemoryID)
	if err != nil {
		w.fail(ctx, job, "memory not found: "+err.Error())
		return
	}

	entities := ExtractEntities(mem.Content, mem.Tags)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	upsertErr := backoff.Retry(func() error {
		for _, e := range entities {
			if err := w.Store.UpsertGraphEntity(ctx, job.Tenancy, e.Name, e.Kind, job.MemoryID); err != nil {
				return err
			}
		}
		return nil
	}, bo)

	if upsertErr != nil {
		w.fail(ctx, job, upsertErr.Error())
		return
	}

	job.Status = models.GraphJobDone
	job.LastErr = ""
	job.UpdatedAt = time.Now().UTC()
	if err := w.Store.UpdateGraphJob(ctx, job); err != nil {
		log.Warn().Err(err).Str("jobId", job.ID).Msg("graph worker: failed to persist job success")
		return
	}
	log.Info().Str("jobId", job.ID).Str("memoryId", job.MemoryID).Int("entities", len(entities)).Msg("graph job complete")
}

func (w *Worker) fail(ctx context.Context, job *models.GraphJob, reason string) {
	job.Status = models.GraphJobError
	job.LastErr = reason
	job.UpdatedAt = time.Now().UTC()
	if err := w.Store.UpdateGraphJob(ctx, job); err != nil {
		log.Warn().Err(err).Str("jobId", job.ID).Msg("graph worker: failed to persist job failure")
	}
	log.Warn().Str("jobId", job.ID).Str("reason", reason).Msg("graph job failed")
}

// extractedEntity pairs an entity name with its extraction kind.
type extractedEntity struct {
	Name string
	Kind string
}

// ExtractEntities finds capitalized-token sequences (length >= 3 runes,
// excluding all-caps acronyms) and "#tag" memory tags, deduplicates,
// and caps the result at maxEntitiesPerMemory.
func ExtractEntities(content string, tags []string) []extractedEntity {
	seen := make(map[string]bool)
	var out []extractedEntity

	for _, m := range capitalizedTokenRe.FindAllString(content, -1) {
		if len(m) < 3 || isAllCapsAcronym(m) {
			continue
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, extractedEntity{Name: m, Kind: "capitalized_token"})
		if len(out) >= maxEntitiesPerMemory {
			return out
		}
	}

	for _, tag := range tags {
		name := "#" + tag
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, extractedEntity{Name: name, Kind: "tag"})
		if len(out) >= maxEntitiesPerMemory {
			return out
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func isAllCapsAcronym(s string) bool {
	return s == strings.ToUpper(s)
}
