// Package policy evaluates storage policies against a memory's
// evaluation context, deciding storage tier, TTL, graph enrichment, and
// dedupe threshold at write time. Where the teacher's workflow engine
// matched branch conditions with hand-rolled "key == value" string
// splitting and left a note that richer conditions should integrate
// expr-lang/expr, this engine takes that step: policy Match expressions
// are compiled and run with expr-lang/expr directly.
package policy

import (
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/pkg/models"
)

// compiledPolicy pairs a policy definition with its compiled match program,
// so programs are only compiled once per registration.
type compiledPolicy struct {
	policy  models.StoragePolicy
	program *vm.Program
}

// Engine holds the registered storage policies for a deployment and
// evaluates them against memories at write time.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
}

// NewEngine constructs an empty policy engine, then registers the
// built-in policies described in the deployment defaults.
func NewEngine() *Engine {
	e := &Engine{policies: make(map[string]*compiledPolicy)}
	for _, p := range builtins() {
		if err := e.Register(p); err != nil {
			log.Error().Err(err).Str("policy", p.Name).Msg("failed to register built-in policy")
		}
	}
	return e
}

// Register compiles and stores a storage policy. A bad Match expression
// is rejected with InvalidArgument so callers can surface it directly
// (e.g. a policy preview endpoint) rather than fail at evaluation time.
func (e *Engine) Register(p models.StoragePolicy) error {
	program, err := expr.Compile(p.Match, expr.Env(models.PolicyContext{}), expr.AsBool())
	if err != nil {
		return apierr.Wrap(apierr.InvalidArgument, "policy match expression failed to compile", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name] = &compiledPolicy{policy: p, program: program}
	return nil
}

// Remove deletes a registered policy by name. It is a no-op if absent.
func (e *Engine) Remove(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.policies, name)
}

// Get returns a registered policy definition by name.
func (e *Engine) Get(name string) (models.StoragePolicy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, ok := e.policies[name]
	if !ok {
		return models.StoragePolicy{}, false
	}
	return cp.policy, true
}

// List returns all registered policies ordered by Order, then name.
func (e *Engine) List() []models.StoragePolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.StoragePolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp.policy)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Decision is the outcome of evaluating all matching policies against a
// context, in Order, with each matching policy's non-zero fields
// overwriting the previous ones (last writer wins). Fields default to
// the documented no-match default: long_term storage, graph enrichment
// off, no TTL.
type Decision struct {
	Store           models.StorageTier
	TTLSeconds      *int
	DedupeThreshold *float64
	ImportanceScore *float64
	GraphEnrich     bool
	AppliedPolicies []string
}

// Evaluate runs every registered policy's Match predicate against ctx in
// Order and folds the matching policies' overrides into a Decision,
// seeded with the engine's no-match default.
func (e *Engine) Evaluate(ctx models.PolicyContext) (Decision, error) {
	e.mu.RLock()
	ordered := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		ordered = append(ordered, cp)
	}
	e.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].policy.Order != ordered[j].policy.Order {
			return ordered[i].policy.Order < ordered[j].policy.Order
		}
		return ordered[i].policy.Name < ordered[j].policy.Name
	})

	decision := Decision{Store: models.StoreLongTerm, GraphEnrich: false}
	for _, cp := range ordered {
		out, err := expr.Run(cp.program, ctx)
		if err != nil {
			return decision, apierr.Wrap(apierr.InvalidState, "policy match expression failed at evaluation: "+cp.policy.Name, err)
		}
		matched, _ := out.(bool)
		if !matched {
			continue
		}
		decision.AppliedPolicies = append(decision.AppliedPolicies, cp.policy.Name)
		if cp.policy.SetStore != "" {
			decision.Store = cp.policy.SetStore
		}
		if cp.policy.SetTTLSeconds != nil {
			decision.TTLSeconds = cp.policy.SetTTLSeconds
		}
		if cp.policy.SetDedupeThreshold != nil {
			decision.DedupeThreshold = cp.policy.SetDedupeThreshold
		}
		if cp.policy.SetImportanceScore != nil {
			decision.ImportanceScore = cp.policy.SetImportanceScore
		}
		if cp.policy.SetGraphEnrich != nil {
			decision.GraphEnrich = *cp.policy.SetGraphEnrich
		}
	}
	return decision, nil
}

// Preview compiles a candidate Match expression without registering it,
// for a policy-authoring UI to validate before save.
func Preview(match string) error {
	_, err := expr.Compile(match, expr.Env(models.PolicyContext{}), expr.AsBool())
	if err != nil {
		return apierr.Wrap(apierr.InvalidArgument, "policy match expression failed to compile", err)
	}
	return nil
}

func boolPtr(b bool) *bool       { return &b }
func intPtr(i int) *int          { return &i }
func floatPtr(f float64) *float64 { return &f }

// builtins returns the deployment's default storage policies.
func builtins() []models.StoragePolicy {
	return []models.StoragePolicy{
		{
			Name:               "preferences-long-term",
			Label:              "Preferences are long-term",
			Description:        "User preferences rarely change and are cheap to keep; keep them indefinitely with aggressive dedupe.",
			Summary:            "type == preference -> long_term, no ttl, dedupeThreshold 0.9, importance 1.5",
			Match:              `Type == "preference"`,
			Order:              10,
			SetStore:           models.StoreLongTerm,
			SetDedupeThreshold: floatPtr(0.9),
			SetImportanceScore: floatPtr(1.5),
		},
		{
			Name:           "operational-logs-short-term",
			Label:          "Operational logs are short-term",
			Description:    "Log-typed context is cheap to regenerate and decays fast.",
			Summary:        "type == log -> short_term, ttl 14 days, graphEnrich false",
			Match:          `Type == "log"`,
			Order:          20,
			SetStore:       models.StoreShortTerm,
			SetTTLSeconds:  intPtr(14 * 24 * 3600),
			SetGraphEnrich: boolPtr(false),
		},
		{
			Name:           "knowledge-connectors-long-term",
			Label:          "Synced knowledge is long-term",
			Description:    "Memories captured from a notion or drive connector reflect curated external knowledge.",
			Summary:        "source.connector in [notion, drive] -> long_term, graphEnrich true",
			Match:          `SourceConnector == "notion" || SourceConnector == "drive"`,
			Order:          30,
			SetStore:       models.StoreLongTerm,
			SetGraphEnrich: boolPtr(true),
		},
	}
}
