package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"autodoc-pipeline/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// NewPgxPool returns a live *pgxpool.Pool for cfg.
func NewPgxPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.ConnectConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.Connect failed: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the pipeline tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
