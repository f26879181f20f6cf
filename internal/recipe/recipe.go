// Package recipe implements named retrieval configurations: a filter
// over retrieval candidates plus scoring weights, evaluated the same
// way internal/policy evaluates storage policies — an expr-lang/expr
// predicate compiled once at registration and run per candidate.
package recipe

import (
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/pkg/models"
)

type compiledRecipe struct {
	recipe  models.Recipe
	program *vm.Program // nil when Filter is empty — every candidate passes
}

// Engine holds the named recipes available to a retrieval call.
type Engine struct {
	mu      sync.RWMutex
	recipes map[string]*compiledRecipe
}

// NewEngine constructs an engine pre-loaded with the deployment's
// default recipes.
func NewEngine() *Engine {
	e := &Engine{recipes: make(map[string]*compiledRecipe)}
	for _, r := range builtins() {
		if err := e.Register(r); err != nil {
			panic("recipe: built-in recipe failed to compile: " + err.Error())
		}
	}
	return e
}

// Register compiles and stores a recipe. An empty Filter always matches.
func (e *Engine) Register(r models.Recipe) error {
	var program *vm.Program
	if r.Filter != "" {
		p, err := expr.Compile(r.Filter, expr.Env(models.RecipeContext{}), expr.AsBool())
		if err != nil {
			return apierr.Wrap(apierr.InvalidArgument, "recipe filter expression failed to compile", err)
		}
		program = p
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recipes[r.Name] = &compiledRecipe{recipe: r, program: program}
	return nil
}

// Remove unregisters a named recipe, used to clean up a temporary
// recipe registered for a preview call.
func (e *Engine) Remove(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.recipes, name)
}

// Get returns a named recipe, falling back to the "default" recipe when
// name is empty.
func (e *Engine) Get(name string) (models.Recipe, error) {
	if name == "" {
		name = "default"
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	cr, ok := e.recipes[name]
	if !ok {
		return models.Recipe{}, apierr.New(apierr.NotFound, "recipe not found: "+name)
	}
	return cr.recipe, nil
}

// List returns all registered recipes sorted by name.
func (e *Engine) List() []models.Recipe {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Recipe, 0, len(e.recipes))
	for _, cr := range e.recipes {
		out = append(out, cr.recipe)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Matches reports whether a candidate passes the named recipe's filter.
func (e *Engine) Matches(name string, ctx models.RecipeContext) (bool, error) {
	e.mu.RLock()
	cr, ok := e.recipes[name]
	e.mu.RUnlock()
	if !ok {
		return false, apierr.New(apierr.NotFound, "recipe not found: "+name)
	}
	if cr.program == nil {
		return true, nil
	}
	out, err := expr.Run(cr.program, ctx)
	if err != nil {
		return false, apierr.Wrap(apierr.InvalidState, "recipe filter failed at evaluation: "+name, err)
	}
	matched, _ := out.(bool)
	return matched, nil
}

// Score computes a candidate's rank under a recipe: a weighted sum of
// cosine similarity, importance, recency ([0,5] scores as stored on the
// memory), a flat boost for pinned memories, and a boost keyed by the
// memory's retention class.
func Score(r models.Recipe, similarity, importance, recency float64, pinned bool, retention models.RetentionClass) float64 {
	score := r.SemanticWeight*similarity + r.ImportanceWeight*importance + r.RecencyWeight*recency
	if pinned {
		score += r.PinnedBoost
	}
	score += r.RetentionBoosts[retention]
	return score
}

func builtins() []models.Recipe {
	return []models.Recipe{
		{
			Name:           "default",
			Label:          "Default retrieval",
			Description:    "Balanced semantic similarity and recency across all memory types, no pinning bias.",
			Summary:        "semantic 0.8, recency 0.2",
			SemanticWeight: 0.8,
			RecencyWeight:  0.2,
		},
		{
			Name:           "pinned-first",
			Label:          "Pinned memories first",
			Description:    "Heavily favors pinned memories, useful for persona/preference-anchored agents.",
			Summary:        "semantic 0.6, recency 0.1, pinned boost 0.5",
			SemanticWeight: 0.6,
			RecencyWeight:  0.1,
			PinnedBoost:    0.5,
		},
		{
			Name:           "recent-context",
			Label:          "Recent context",
			Description:    "Favors freshness over relevance, for fast-moving task/context memory types.",
			Summary:        "semantic 0.4, recency 0.6, filtered to task/context types",
			Filter:         `Type == "task" || Type == "context"`,
			SemanticWeight: 0.4,
			RecencyWeight:  0.6,
		},
	}
}
