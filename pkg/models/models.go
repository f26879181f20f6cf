// Package models defines the Capsule Memory domain types shared across
// the store, engines, and HTTP surface.
package models

import "time"

// ── Tenancy ──────────────────────────────────────────────────

// Tenancy identifies the (org, project, subject) triple every memory
// and candidate belongs to.
type Tenancy struct {
	OrgID     string `json:"orgId"`
	ProjectID string `json:"projectId"`
	SubjectID string `json:"subjectId"`
}

// Key returns the flattened tenancy key used by store indexes.
func (t Tenancy) Key() string {
	return t.OrgID + ":" + t.ProjectID + ":" + t.SubjectID
}

// ── Memory ───────────────────────────────────────────────────

type RetentionClass string

const (
	RetentionIrreplaceable RetentionClass = "irreplaceable"
	RetentionPermanent     RetentionClass = "permanent"
	RetentionReplaceable   RetentionClass = "replaceable"
	RetentionEphemeral     RetentionClass = "ephemeral"
)

type StorageState string

const (
	StorageActive   StorageState = "active"
	StorageArchived StorageState = "archived"
	StorageEvicted  StorageState = "evicted"
)

// StorageTier is the storage-policy engine's placement decision for a
// memory, independent of its lifecycle StorageState.
type StorageTier string

const (
	StoreShortTerm    StorageTier = "short_term"
	StoreLongTerm     StorageTier = "long_term"
	StoreCapsuleGraph StorageTier = "capsule_graph"
)

// Source describes where a memory's content originated.
type Source struct {
	Connector string `json:"connector,omitempty"` // e.g. "chat", "slack", "docs-sync"
	URI       string `json:"uri,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// ACL governs which principals may read a memory beyond its owning subject.
type ACL struct {
	Visibility string   `json:"visibility"` // "private", "shared", "public"
	SharedWith []string `json:"sharedWith,omitempty"`
}

// ProvenanceEntry records one event in a memory's lifecycle.
type ProvenanceEntry struct {
	Event     string    `json:"event"` // "created", "updated", "policy_applied", "evicted"
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PIIEnvelope is the encrypted-at-rest form of a memory's PII flag map
// when any of those flags is sensitive; the memory's content is not
// encrypted.
type PIIEnvelope struct {
	Version int    `json:"version"`
	IV      string `json:"iv"`   // base64
	Tag     string `json:"tag"`  // base64
	Data    string `json:"data"` // base64 ciphertext
	KeyRef  string `json:"keyRef,omitempty"` // BYOK key identifier, empty = default process key
}

// Memory is a single unit of long-term agent memory.
type Memory struct {
	ID        string  `json:"id"`
	Tenancy   Tenancy `json:"tenancy"`

	Type    string            `json:"type"` // "preference", "fact", "task", "context"
	Content string            `json:"content,omitempty"`
	PII     *PIIEnvelope      `json:"pii,omitempty"`      // set when PII flags are sensitive
	PIIFlags map[string]bool  `json:"piiFlags,omitempty"` // set when PII flags are non-sensitive; mutually exclusive with PII
	Tags    []string          `json:"tags,omitempty"`
	Pinned  bool              `json:"pinned"`
	GraphEnrich bool          `json:"graphEnrich"`
	Source  Source            `json:"source,omitempty"`
	ACL     ACL               `json:"acl"`
	Meta    map[string]string `json:"meta,omitempty"`

	Embedding      []float32 `json:"-"` // never serialized to the wire, always L2-normalized
	EmbeddingNorm  float64   `json:"embeddingNorm"`  // pre-normalization magnitude
	EmbeddingModel string    `json:"embeddingModel"` // driver Kind() that produced Embedding

	ImportanceScore float64 `json:"importanceScore"` // [0,5]
	RecencyScore    float64 `json:"recencyScore"`    // [0,5]

	Store           StorageTier `json:"store"`
	DedupeThreshold *float64    `json:"dedupeThreshold,omitempty"`

	Retention    RetentionClass `json:"retention"`
	TTLSeconds   *int           `json:"ttlSeconds,omitempty"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
	StorageState StorageState   `json:"storageState"`
	PolicyName   string         `json:"policyName,omitempty"`

	Provenance []ProvenanceEntry `json:"provenance,omitempty"`

	IdempotencyKey string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ── Capture candidate ────────────────────────────────────────

type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateApproved CandidateStatus = "approved"
	CandidateRejected CandidateStatus = "rejected"
	CandidateIgnored  CandidateStatus = "ignored"
)

// CaptureCandidate is a scored, queued proposal to write a new memory,
// generated from conversational turns before being approved.
type CaptureCandidate struct {
	ID      string  `json:"id"`
	Tenancy Tenancy `json:"tenancy"`

	Content    string            `json:"content"`
	Type       string            `json:"type"`
	Role       string            `json:"role,omitempty"` // "user", "assistant", "system"
	Source     Source            `json:"source,omitempty"`
	Score      float64           `json:"score"`
	Signals    map[string]float64 `json:"signals,omitempty"`
	Status     CandidateStatus   `json:"status"`
	MemoryID   string            `json:"memoryId,omitempty"` // set once approved and written

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ── Graph job & entity ───────────────────────────────────────

type GraphJobStatus string

const (
	GraphJobPending GraphJobStatus = "pending"
	GraphJobRunning GraphJobStatus = "running"
	GraphJobDone    GraphJobStatus = "done"
	GraphJobError   GraphJobStatus = "error"
)

// GraphJob enqueues background entity extraction for a written memory.
type GraphJob struct {
	ID       string         `json:"id"`
	MemoryID string         `json:"memoryId"`
	Tenancy  Tenancy        `json:"tenancy"`
	Status   GraphJobStatus `json:"status"`
	Attempts int            `json:"attempts"`
	LastErr  string         `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GraphEntity is an extracted entity linked to the memories that mention it.
type GraphEntity struct {
	ID        string   `json:"id"`
	Tenancy   Tenancy  `json:"tenancy"`
	Name      string   `json:"name"`
	Kind      string   `json:"kind"` // "capitalized_token", "tag"
	MemoryIDs []string `json:"memoryIds"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ── Storage policy ───────────────────────────────────────────

// StoragePolicy declaratively routes a memory's storage tier, TTL,
// dedupe threshold, importance, and graph enrichment based on an
// expr-lang match predicate evaluated against its evaluation context.
type StoragePolicy struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Summary     string `json:"summary"`

	Match string `json:"match"` // expr-lang expression, evaluates to bool
	Order int    `json:"order"` // lower runs first; last writer wins on conflicting fields

	SetStore           StorageTier `json:"setStore,omitempty"`
	SetTTLSeconds       *int        `json:"setTtlSeconds,omitempty"`
	SetDedupeThreshold  *float64    `json:"setDedupeThreshold,omitempty"`
	SetImportanceScore  *float64    `json:"setImportanceScore,omitempty"`
	SetGraphEnrich      *bool       `json:"setGraphEnrich,omitempty"`
}

// PolicyContext is the flat evaluation environment exposed to a policy's
// match expression.
type PolicyContext struct {
	Type             string   `json:"type"`
	SourceConnector  string   `json:"source.connector"`
	Tags             []string `json:"tags"`
	Pinned           bool     `json:"pinned"`
}

// ── Recipe (retrieval configuration) ─────────────────────────

// Recipe is a named retrieval configuration: a filter over candidate
// memories plus scoring weights. This is distinct from a workflow DAG —
// a Capsule recipe only ever shapes how retrieval ranks and filters.
type Recipe struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Summary     string `json:"summary"`

	Filter string `json:"filter,omitempty"` // expr-lang expression over a candidate context

	PinnedOnly  bool `json:"pinnedOnly"`
	GraphEnrich bool `json:"graphEnrich"`
	Types       []string `json:"types,omitempty"`

	RecencyWeight     float64                        `json:"recencyWeight"`
	SemanticWeight    float64                        `json:"semanticWeight"`
	ImportanceWeight  float64                        `json:"importanceWeight"`
	PinnedBoost       float64                        `json:"pinnedBoost"`
	RetentionBoosts   map[RetentionClass]float64      `json:"retentionBoosts,omitempty"`
}

// RecipeContext is the flat evaluation environment exposed to a recipe's
// filter expression, built from one retrieval candidate.
type RecipeContext struct {
	Type       string   `json:"type"`
	Tags       []string `json:"tags"`
	Pinned     bool     `json:"pinned"`
	Similarity float64  `json:"similarity"`
}
