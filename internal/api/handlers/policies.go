package handlers

import (
	"net/http"

	"github.com/capsule-memory/capsule/pkg/models"
)

// ListPolicies handles GET /v1/memories/policies.
func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.Policies.List()
	summaries := make([]map[string]string, 0, len(policies))
	for _, p := range policies {
		summaries = append(summaries, map[string]string{
			"name": p.Name, "label": p.Label, "description": p.Description, "summary": p.Summary,
		})
	}
	respondData(w, http.StatusOK, map[string]any{"policies": summaries})
}

type previewPolicyBody struct {
	Type            string   `json:"type"`
	SourceConnector string   `json:"sourceConnector"`
	Tags            []string `json:"tags"`
	Pinned          bool     `json:"pinned"`
}

// PreviewPolicy handles POST /v1/memories/policies/preview.
func (h *Handlers) PreviewPolicy(w http.ResponseWriter, r *http.Request) {
	var body previewPolicyBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}

	decision, err := h.Policies.Evaluate(models.PolicyContext{
		Type:            body.Type,
		SourceConnector: body.SourceConnector,
		Tags:            body.Tags,
		Pinned:          body.Pinned,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondData(w, http.StatusOK, map[string]any{"decision": decision})
}
