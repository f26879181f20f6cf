package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/capsule-memory/capsule/internal/api/handlers"
	"github.com/capsule-memory/capsule/internal/api/middleware"
	"github.com/capsule-memory/capsule/internal/capture"
	"github.com/capsule-memory/capsule/internal/embeddings"
	"github.com/capsule-memory/capsule/internal/pii"
	"github.com/capsule-memory/capsule/internal/policy"
	"github.com/capsule-memory/capsule/internal/recipe"
	"github.com/capsule-memory/capsule/internal/retrieval"
	"github.com/capsule-memory/capsule/internal/store"
	"github.com/capsule-memory/capsule/internal/update"
	"github.com/capsule-memory/capsule/internal/write"
	"github.com/capsule-memory/capsule/pkg/models"
)

func newTestHandlers(t *testing.T) *handlers.Handlers {
	t.Helper()
	s := store.NewInMemoryStore("")
	embedder := embeddings.NewDeterministicDriver(32)
	policies := policy.NewEngine()
	recipes := recipe.NewEngine()
	keys := pii.NewKeyProvider("test-secret")

	writePipeline := &write.Pipeline{Store: s, GraphJobs: s, Embedder: embedder, Policies: policies, Keys: keys, MaxMemories: 1000}

	return &handlers.Handlers{
		Store:     s,
		Write:     writePipeline,
		Update:    &update.Pipeline{Store: s, GraphJobs: s, Keys: keys},
		Retrieval: retrieval.NewPipeline(s, embedder, recipes),
		Policies:  policies,
		Recipes:   recipes,
		Capture:   &capture.Queue{Store: s, Write: writePipeline, Threshold: 0.5},
		Keys:      keys,
	}
}

// serve builds a tenancy-carrying request for path/body, runs it through
// the real TenantExtractor middleware, and hands it to fn. urlParams sets
// chi URL params (e.g. "id") the handler reads via chi.URLParam.
func serve(method, path string, body any, urlParams map[string]string, fn http.HandlerFunc) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		buf, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(buf))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-Capsule-Org", "org-1")
	req.Header.Set("X-Capsule-Project", "proj-1")
	req.Header.Set("X-Capsule-Subject", "subj-1")

	if len(urlParams) > 0 {
		chiCtx := chi.NewRouteContext()
		for k, v := range urlParams {
			chiCtx.URLParams.Add(k, v)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, chiCtx))
	}

	rec := httptest.NewRecorder()
	middleware.TenantExtractor(fn).ServeHTTP(rec, req)
	return rec
}

func TestCreateMemoryAndListMemories(t *testing.T) {
	h := newTestHandlers(t)

	createRec := serve(http.MethodPost, "/v1/memories", map[string]any{
		"content": "the user prefers dark mode",
	}, nil, h.CreateMemory)
	require.Equal(t, http.StatusCreated, createRec.Code)

	listRec := serve(http.MethodGet, "/v1/memories", nil, nil, h.ListMemories)
	require.Equal(t, http.StatusOK, listRec.Code)

	var body struct {
		Data struct {
			Memories []models.Memory `json:"memories"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &body))
	require.Len(t, body.Data.Memories, 1)
	require.Equal(t, "the user prefers dark mode", body.Data.Memories[0].Content)
}

func TestCreateMemoryRejectsEmptyContent(t *testing.T) {
	h := newTestHandlers(t)
	rec := serve(http.MethodPost, "/v1/memories", map[string]any{"content": ""}, nil, h.CreateMemory)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteMemoryThenListIsEmpty(t *testing.T) {
	h := newTestHandlers(t)

	createRec := serve(http.MethodPost, "/v1/memories", map[string]any{"content": "forget me later"}, nil, h.CreateMemory)
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created struct {
		Data struct {
			Memory models.Memory `json:"memory"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	delRec := serve(http.MethodDelete, "/v1/memories/"+created.Data.Memory.ID, nil, map[string]string{"id": created.Data.Memory.ID}, h.DeleteMemory)
	require.Equal(t, http.StatusOK, delRec.Code)

	listRec := serve(http.MethodGet, "/v1/memories", nil, nil, h.ListMemories)
	var listBody struct {
		Data struct {
			Memories []models.Memory `json:"memories"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listBody))
	require.Empty(t, listBody.Data.Memories)
}

func TestSearchMemoriesUnknownRecipeFails(t *testing.T) {
	h := newTestHandlers(t)
	rec := serve(http.MethodPost, "/v1/memories/search", map[string]any{
		"query": "dark mode preference", "recipe": "does-not-exist",
	}, nil, h.SearchMemories)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReflectsStoreHealth(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListPoliciesReturnsBuiltins(t *testing.T) {
	h := newTestHandlers(t)
	rec := serve(http.MethodGet, "/v1/memories/policies", nil, nil, h.ListPolicies)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListRecipesReturnsBuiltins(t *testing.T) {
	h := newTestHandlers(t)
	rec := serve(http.MethodGet, "/v1/memories/recipes", nil, nil, h.ListRecipes)
	require.Equal(t, http.StatusOK, rec.Code)
}
