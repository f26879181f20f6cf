package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capsule-memory/capsule/internal/apierr"
	"github.com/capsule-memory/capsule/pkg/contracts"
	"github.com/capsule-memory/capsule/pkg/models"
)

// pgvectorStore is a named backend for a Postgres instance carrying the
// pgvector extension. It is not provisioned for reads/writes — the
// schema and query plan for cosine search over pgvector columns are a
// follow-on piece of work — but HealthCheck dials the pool for real so
// operators can tell "not configured" apart from "configured but down"
// before the backend is built out.
type pgvectorStore struct {
	stubStore
	pool *pgxpool.Pool
}

// NewPgvectorStore creates a pool for the given DSN (pgxpool.New
// validates the config; the pool connects lazily per pgx's own
// contract) and returns a DocumentStore whose HealthCheck pings it.
func NewPgvectorStore(ctx context.Context, dsn string) (contracts.DocumentStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: parse dsn: %w", err)
	}
	return &pgvectorStore{stubStore: stubStore{kind: "pgvector"}, pool: pool}, nil
}

func (s *pgvectorStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return apierr.Wrap(apierr.Upstream, "pgvector: ping failed", err)
	}
	return apierr.New(apierr.NotProvisioned, "pgvector backend is reachable but schema is not provisioned")
}

func (s *pgvectorStore) Close() error {
	s.pool.Close()
	return nil
}

var _ contracts.DocumentStore = (*pgvectorStore)(nil)
