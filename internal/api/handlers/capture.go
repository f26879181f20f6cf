package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capsule-memory/capsule/internal/api/middleware"
	"github.com/capsule-memory/capsule/internal/capture"
	"github.com/capsule-memory/capsule/pkg/models"
)

type captureEventBody struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Priority   string         `json:"priority"`
	Tags       []string       `json:"tags"`
	AutoAccept bool           `json:"autoAccept"`
}

type submitCaptureBody struct {
	Events []captureEventBody `json:"events"`
}

// SubmitCapture handles POST /v1/memories/capture.
func (h *Handlers) SubmitCapture(w http.ResponseWriter, r *http.Request) {
	var body submitCaptureBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}

	tenancy := middleware.Tenancy(r.Context())
	candidates := make([]models.CaptureCandidate, 0, len(body.Events))
	for _, e := range body.Events {
		c, err := h.Capture.Submit(r.Context(), tenancy, capture.Event{
			Role: e.Role, Content: e.Content, Metadata: e.Metadata,
			Priority: e.Priority, Tags: e.Tags, AutoAccept: e.AutoAccept,
		})
		if err != nil {
			respondError(w, err)
			return
		}
		candidates = append(candidates, *c)
	}

	respondData(w, http.StatusAccepted, map[string]any{"candidates": candidates})
}

// ListCapture handles GET /v1/memories/capture.
func (h *Handlers) ListCapture(w http.ResponseWriter, r *http.Request) {
	tenancy := middleware.Tenancy(r.Context())
	status := models.CandidateStatus(r.URL.Query().Get("status"))

	candidates, err := h.Capture.List(r.Context(), tenancy, status)
	if err != nil {
		respondError(w, err)
		return
	}

	respondData(w, http.StatusOK, map[string]any{"candidates": candidates})
}

// ApproveCapture handles POST /v1/memories/capture/{id}/approve.
func (h *Handlers) ApproveCapture(w http.ResponseWriter, r *http.Request) {
	tenancy := middleware.Tenancy(r.Context())
	candidate, memory, err := h.Capture.Approve(r.Context(), tenancy, chi.URLParam(r, "id"), tenancy.SubjectID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondData(w, http.StatusCreated, map[string]any{"candidate": candidate, "memory": memory})
}

type rejectCaptureBody struct {
	Reason string `json:"reason"`
}

// RejectCapture handles POST /v1/memories/capture/{id}/reject.
func (h *Handlers) RejectCapture(w http.ResponseWriter, r *http.Request) {
	var body rejectCaptureBody
	_ = decodeJSON(r, &body)

	tenancy := middleware.Tenancy(r.Context())
	candidate, err := h.Capture.Reject(r.Context(), tenancy, chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		respondError(w, err)
		return
	}

	respondData(w, http.StatusOK, map[string]any{"candidate": candidate})
}
