// Package server provides the public entry point for initializing the
// Capsule Memory service.
//
// This package exists in pkg/ (not internal/) so that a separate binary
// or a hosted multi-tenant control plane can import it and compose the
// service with its own overrides — same layering reason the control
// plane this codebase is adapted from keeps server.go in pkg/.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/capsule-memory/capsule/internal/api"
	"github.com/capsule-memory/capsule/internal/api/handlers"
	"github.com/capsule-memory/capsule/internal/api/middleware"
	"github.com/capsule-memory/capsule/internal/capture"
	"github.com/capsule-memory/capsule/internal/config"
	"github.com/capsule-memory/capsule/internal/embeddings"
	"github.com/capsule-memory/capsule/internal/graph"
	"github.com/capsule-memory/capsule/internal/pii"
	"github.com/capsule-memory/capsule/internal/policy"
	"github.com/capsule-memory/capsule/internal/recipe"
	"github.com/capsule-memory/capsule/internal/retention"
	"github.com/capsule-memory/capsule/internal/retrieval"
	"github.com/capsule-memory/capsule/internal/store"
	"github.com/capsule-memory/capsule/internal/telemetry"
	"github.com/capsule-memory/capsule/internal/update"
	"github.com/capsule-memory/capsule/internal/write"
	"net/http"

	"github.com/capsule-memory/capsule/pkg/contracts"
)

// Server holds the initialized Capsule Memory service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the document store backend.
	Store contracts.DocumentStore

	// Embeddings holds registered embedding drivers.
	Embeddings *embeddings.Registry

	// Policies is the storage policy engine.
	Policies *policy.Engine

	// Recipes is the retrieval recipe engine.
	Recipes *recipe.Engine

	// Retrieval is the adaptive retrieval pipeline.
	Retrieval *retrieval.Pipeline

	// Write is the memory create pipeline.
	Write *write.Pipeline

	// Update is the memory update pipeline.
	Update *update.Pipeline

	// Capture is the conversational capture queue.
	Capture *capture.Queue

	// Config is the loaded service configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// RetentionJanitor sweeps TTL-expired memories on a ticker.
	RetentionJanitor *retention.Janitor

	// GraphWorker extracts entities from newly written memories.
	GraphWorker *graph.Worker

	// cancelBackground stops the janitor and graph worker goroutines.
	cancelBackground context.CancelFunc

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes the service from environment configuration and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	docStore, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init document store: %w", err)
	}
	log.Info().Str("backend", docStore.Kind()).Msg("document store initialized")

	embedder, embReg, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("init embedding driver: %w", err)
	}
	log.Info().Str("provider", embedder.Kind()).Int("dims", embedder.Dimensions()).Msg("embedding driver initialized")

	keys := pii.NewKeyProvider(cfg.PII.KeySecret)
	policies := policy.NewEngine()
	recipes := recipe.NewEngine()

	writePipeline := &write.Pipeline{
		Store:       docStore,
		GraphJobs:   docStore,
		Embedder:    embedder,
		Policies:    policies,
		Keys:        keys,
		MaxMemories: cfg.Retention.MaxPerTenancy,
	}
	updatePipeline := &update.Pipeline{
		Store:     docStore,
		GraphJobs: docStore,
		Keys:      keys,
	}
	captureQueue := &capture.Queue{
		Store:     docStore,
		Write:     writePipeline,
		Threshold: 0.5,
	}

	retrievalPipeline := retrieval.NewPipeline(docStore, embedder, recipes)

	var janitor *retention.Janitor
	lister := tenancyLister(docStore)
	if lister != nil {
		janitor = retention.NewJanitor(docStore, lister, cfg.Retention.SweepInterval)
	}
	worker := graph.NewWorker(docStore, 5*time.Second)

	bgCtx, cancel := context.WithCancel(context.Background())
	if janitor != nil {
		go janitor.Start(bgCtx)
	} else {
		log.Warn().Str("backend", docStore.Kind()).Msg("store backend does not support tenancy enumeration, retention janitor disabled")
	}
	go worker.Start(bgCtx)
	log.Info().Msg("background workers started")

	h := &handlers.Handlers{
		Store:     docStore,
		Write:     writePipeline,
		Update:    updatePipeline,
		Retrieval: retrievalPipeline,
		Policies:  policies,
		Recipes:   recipes,
		Capture:   captureQueue,
		Keys:      keys,
	}

	auth := middleware.NewAPIKeyAuth(cfg.Auth.APIKeys)
	router := api.NewRouter(cfg, h, auth)

	return &Server{
		Handler:          router,
		Store:            docStore,
		Embeddings:       embReg,
		Policies:         policies,
		Recipes:          recipes,
		Retrieval:        retrievalPipeline,
		Write:            writePipeline,
		Update:           updatePipeline,
		Capture:          captureQueue,
		Config:           cfg,
		Port:             cfg.Port,
		RetentionJanitor: janitor,
		GraphWorker:      worker,
		cancelBackground: cancel,
		ShutdownFunc:     shutdown,
	}, nil
}

// buildStore selects the document store backend per CAPSULE_VECTOR_STORE.
// Only "memory" is functional; the rest are named, health-checkable
// stubs a deployment can point at ahead of that backend's buildout.
func buildStore(ctx context.Context, cfg config.StoreConfig) (contracts.DocumentStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewInMemoryStore(cfg.DataDir), nil
	case "pgvector":
		return store.NewPgvectorStore(ctx, cfg.PgvectorURL)
	case "mongo":
		return store.NewMongoStub(), nil
	case "qdrant":
		return store.NewQdrantStub(), nil
	default:
		return nil, fmt.Errorf("unknown CAPSULE_VECTOR_STORE backend: %s", cfg.Backend)
	}
}

// buildEmbedder selects the embedding driver per CAPSULE_EMBEDDING_PROVIDER
// and also registers it in a lookup registry, so a future driver (e.g. a
// rerank-capable provider) can be discovered by name.
func buildEmbedder(cfg config.EmbeddingConfig) (contracts.EmbeddingDriver, *embeddings.Registry, error) {
	reg := embeddings.NewRegistry()

	var driver contracts.EmbeddingDriver
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, nil, fmt.Errorf("CAPSULE_EMBEDDING_PROVIDER=openai requires OPENAI_API_KEY")
		}
		driver = embeddings.NewOpenAIDriver(cfg.OpenAIKey, cfg.OpenAIModel)
	case "ollama":
		if cfg.OllamaURL == "" {
			return nil, nil, fmt.Errorf("CAPSULE_EMBEDDING_PROVIDER=ollama requires OLLAMA_URL")
		}
		driver = embeddings.NewOllamaDriver(cfg.OllamaURL, cfg.OllamaModel)
	case "", "deterministic":
		driver = embeddings.NewDeterministicDriver(cfg.Dimensions)
	default:
		return nil, nil, fmt.Errorf("unknown CAPSULE_EMBEDDING_PROVIDER: %s", cfg.Provider)
	}

	reg.Register(driver.Kind(), driver)
	return driver, reg, nil
}

// tenancyLister adapts the concrete store's ListTenancies into the
// interface the janitor depends on, returning nil when the backend
// doesn't support enumeration (the stub backends don't).
func tenancyLister(s contracts.DocumentStore) retention.TenancyLister {
	if l, ok := s.(retention.TenancyLister); ok {
		return l
	}
	return nil
}

// Shutdown stops all background goroutines and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBackground != nil {
		s.cancelBackground()
	}
	if s.ShutdownFunc != nil {
		return s.ShutdownFunc(ctx)
	}
	return nil
}
