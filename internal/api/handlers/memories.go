package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capsule-memory/capsule/internal/api/middleware"
	"github.com/capsule-memory/capsule/internal/retrieval"
	"github.com/capsule-memory/capsule/internal/update"
	"github.com/capsule-memory/capsule/internal/write"
	"github.com/capsule-memory/capsule/pkg/contracts"
	"github.com/capsule-memory/capsule/pkg/models"
)

type createMemoryBody struct {
	Content       string            `json:"content"`
	Pinned        bool              `json:"pinned"`
	Tags          []string          `json:"tags"`
	Type          string            `json:"type"`
	TTLSeconds    *int              `json:"ttlSeconds"`
	Source        models.Source     `json:"source"`
	ACL           *models.ACL       `json:"acl"`
	PIIFlags      map[string]bool   `json:"pii"`
	RetentionHint models.RetentionClass `json:"retention"`
}

// CreateMemory handles POST /v1/memories.
func (h *Handlers) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var body createMemoryBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}

	tenancy := middleware.Tenancy(r.Context())
	result, err := h.Write.Create(r.Context(), write.Request{
		Tenancy:        tenancy,
		Content:        body.Content,
		Pinned:         body.Pinned,
		Tags:           body.Tags,
		Type:           body.Type,
		TTLSeconds:     body.TTLSeconds,
		Source:         body.Source,
		ACL:            body.ACL,
		PIIFlags:       body.PIIFlags,
		RetentionHint:  body.RetentionHint,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		BYOKKeyRef:     r.Header.Get("X-Capsule-BYOK"),
		Actor:          tenancy.SubjectID,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	status := http.StatusCreated
	if result.ReplayedExisting {
		status = http.StatusOK
	}
	respondData(w, status, map[string]any{
		"memory":            result.Memory,
		"explanation":       result.Explanation,
		"forgottenMemoryId": result.ForgottenID,
	})
}

// ListMemories handles GET /v1/memories.
func (h *Handlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	tenancy := middleware.Tenancy(r.Context())
	q := r.URL.Query()

	filter := contracts.ListFilter{
		Type:       q.Get("type"),
		Tag:        q.Get("tag"),
		PinnedOnly: q.Get("pinned") == "true",
		Limit:      200,
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}

	memories, err := h.Store.ListMemories(r.Context(), tenancy, filter)
	if err != nil {
		respondError(w, err)
		return
	}

	memories = applyListQueryFilters(memories, q)

	out := make([]models.Memory, 0, len(memories))
	for _, m := range memories {
		if retrieval.Accessible(m, tenancy.SubjectID) {
			out = append(out, m)
		}
	}

	respondData(w, http.StatusOK, map[string]any{"memories": out})
}

func applyListQueryFilters(memories []models.Memory, q map[string][]string) []models.Memory {
	visibility := first(q["visibility"])
	store := first(q["store"])
	retentionClass := first(q["retention"])
	subjectID := first(q["subjectId"])
	graphEnrich := first(q["graphEnrich"])

	if visibility == "" && store == "" && retentionClass == "" && subjectID == "" && graphEnrich == "" {
		return memories
	}

	out := make([]models.Memory, 0, len(memories))
	for _, m := range memories {
		if visibility != "" && m.ACL.Visibility != visibility {
			continue
		}
		if store != "" && string(m.Store) != store {
			continue
		}
		if retentionClass != "" && string(m.Retention) != retentionClass {
			continue
		}
		if subjectID != "" && m.Tenancy.SubjectID != subjectID {
			continue
		}
		if graphEnrich != "" && strconvBool(graphEnrich) != m.GraphEnrich {
			continue
		}
		out = append(out, m)
	}
	return out
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func strconvBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

type updateMemoryBody struct {
	Content     *string               `json:"content"`
	Pinned      *bool                 `json:"pinned"`
	Tags        []string              `json:"tags"`
	Type        *string               `json:"type"`
	TTLSeconds  *int                  `json:"ttlSeconds"`
	ClearTTL    bool                  `json:"clearTtl"`
	ACL         *models.ACL           `json:"acl"`
	Retention   models.RetentionClass `json:"retention"`
	GraphEnrich *bool                 `json:"graphEnrich"`
	PIIFlags    map[string]bool       `json:"pii"`
}

// UpdateMemory handles PATCH /v1/memories/{id}.
func (h *Handlers) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	var body updateMemoryBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}

	tenancy := middleware.Tenancy(r.Context())
	result, err := h.Update.Update(r.Context(), update.Request{
		Tenancy:     tenancy,
		ID:          chi.URLParam(r, "id"),
		Content:     body.Content,
		Pinned:      body.Pinned,
		Tags:        body.Tags,
		Type:        body.Type,
		TTLSeconds:  body.TTLSeconds,
		ClearTTL:    body.ClearTTL,
		ACL:         body.ACL,
		Retention:   body.Retention,
		GraphEnrich: body.GraphEnrich,
		PIIFlags:    body.PIIFlags,
		BYOKKeyRef:  r.Header.Get("X-Capsule-BYOK"),
		Actor:       tenancy.SubjectID,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondData(w, http.StatusOK, map[string]any{
		"memory":      result.Memory,
		"explanation": result.Explanation,
	})
}

type deleteMemoryBody struct {
	Reason string `json:"reason"`
}

// DeleteMemory handles DELETE /v1/memories/{id}.
func (h *Handlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	var body deleteMemoryBody
	_ = decodeJSON(r, &body) // an empty/absent body is fine; reason is optional

	tenancy := middleware.Tenancy(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.Store.DeleteMemory(r.Context(), tenancy, id); err != nil {
		respondError(w, err)
		return
	}

	respondData(w, http.StatusOK, map[string]any{"explanation": "memory deleted.", "reason": body.Reason})
}

type searchMemoriesBody struct {
	Query          string   `json:"query"`
	Prompt         string   `json:"prompt"`
	RecentTurns    []string `json:"recentTurns"`
	Recipe         string   `json:"recipe"`
	Limit          int      `json:"limit"`
}

// SearchMemories handles POST /v1/memories/search.
func (h *Handlers) SearchMemories(w http.ResponseWriter, r *http.Request) {
	var body searchMemoriesBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}

	tenancy := middleware.Tenancy(r.Context())
	result, err := h.Retrieval.Search(r.Context(), retrieval.Request{
		Tenancy:        tenancy,
		Query:          body.Query,
		Prompt:         body.Prompt,
		RecentTurns:    body.RecentTurns,
		RecipeName:     body.Recipe,
		Limit:          body.Limit,
		DisableRewrite: r.Header.Get("X-Capsule-Rewrite") == "false",
		DisableRerank:  r.Header.Get("X-Capsule-Rerank") == "false",
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondData(w, http.StatusOK, map[string]any{
		"query":       result.Query,
		"recipe":      result.Recipe,
		"results":     result.Results,
		"explanation": result.Explanation,
		"metrics":     result.Metrics,
	})
}
