package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/capsule-memory/capsule/internal/api/middleware"
	"github.com/capsule-memory/capsule/internal/retrieval"
	"github.com/capsule-memory/capsule/pkg/models"
)

// ListRecipes handles GET /v1/memories/recipes.
func (h *Handlers) ListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes := h.Recipes.List()
	summaries := make([]map[string]string, 0, len(recipes))
	for _, rc := range recipes {
		summaries = append(summaries, map[string]string{
			"name": rc.Name, "label": rc.Label, "description": rc.Description, "summary": rc.Summary,
		})
	}
	respondData(w, http.StatusOK, map[string]any{"recipes": summaries})
}

type previewRecipeBody struct {
	Query            string                         `json:"query"`
	Limit            int                            `json:"limit"`
	Filter           string                         `json:"filter"`
	PinnedOnly       bool                           `json:"pinnedOnly"`
	GraphEnrich      bool                           `json:"graphEnrich"`
	Types            []string                       `json:"types"`
	RecencyWeight    float64                        `json:"recencyWeight"`
	SemanticWeight   float64                        `json:"semanticWeight"`
	ImportanceWeight float64                        `json:"importanceWeight"`
	PinnedBoost      float64                        `json:"pinnedBoost"`
	RetentionBoosts  map[models.RetentionClass]float64 `json:"retentionBoosts"`
}

// PreviewRecipe handles POST /v1/memories/recipes/preview: registers
// the caller-supplied recipe under a throwaway name, runs a search with
// it, then tears the registration back down.
func (h *Handlers) PreviewRecipe(w http.ResponseWriter, r *http.Request) {
	var body previewRecipeBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}

	tempName := "preview-" + uuid.NewString()
	recipeDef := models.Recipe{
		Name: tempName, Filter: body.Filter, PinnedOnly: body.PinnedOnly,
		GraphEnrich: body.GraphEnrich, Types: body.Types,
		RecencyWeight: body.RecencyWeight, SemanticWeight: body.SemanticWeight,
		ImportanceWeight: body.ImportanceWeight, PinnedBoost: body.PinnedBoost,
		RetentionBoosts: body.RetentionBoosts,
	}
	if err := h.Recipes.Register(recipeDef); err != nil {
		respondError(w, err)
		return
	}
	defer h.Recipes.Remove(tempName)

	result, err := h.Retrieval.Search(r.Context(), retrieval.Request{
		Tenancy:    middleware.Tenancy(r.Context()),
		Query:      body.Query,
		RecipeName: tempName,
		Limit:      body.Limit,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondData(w, http.StatusOK, map[string]any{
		"results":     result.Results,
		"explanation": result.Explanation,
		"metrics":     result.Metrics,
	})
}
