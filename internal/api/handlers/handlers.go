// Package handlers implements the /v1/memories* HTTP surface: JSON
// request/response marshaling, tenancy/header extraction, and
// delegation into the internal/write, internal/update,
// internal/retrieval, internal/policy, internal/recipe, and
// internal/capture packages. Mirrors the teacher's per-resource
// handler-struct-with-store-field shape and its
// respondJSON/respondError helper pair.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/internal/capture"
	"github.com/capsule-memory/capsule/internal/pii"
	"github.com/capsule-memory/capsule/internal/policy"
	"github.com/capsule-memory/capsule/internal/recipe"
	"github.com/capsule-memory/capsule/internal/retrieval"
	"github.com/capsule-memory/capsule/internal/update"
	"github.com/capsule-memory/capsule/internal/write"
	"github.com/capsule-memory/capsule/pkg/contracts"
)

// Handlers wires every collaborator the /v1/memories* routes need.
type Handlers struct {
	Store     contracts.DocumentStore
	Write     *write.Pipeline
	Update    *update.Pipeline
	Retrieval *retrieval.Pipeline
	Policies  *policy.Engine
	Recipes   *recipe.Engine
	Capture   *capture.Queue
	Keys      *pii.KeyProvider
}

// envelope is the {data, status} / {error, status} response shape every
// handler in this package replies with.
type envelope struct {
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status"`
}

func respondData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data, Status: status})
}

// respondError maps a typed apierr.Error to its HTTP status; any other
// error is logged and surfaced as 500 without leaking internals.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	if apiErr, ok := apierr.As(err); ok {
		status = apierr.HTTPStatus(apiErr.Kind)
		message = apiErr.Message
	} else {
		log.Error().Err(err).Msg("unhandled handler error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: message, Status: status})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apierr.New(apierr.InvalidArgument, "request body is required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apierr.Wrap(apierr.InvalidArgument, "malformed JSON body", err)
	}
	return nil
}
