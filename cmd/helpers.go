package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rb-x/pwnflow/internal/config"
	"github.com/rb-x/pwnflow/internal/container"
	"github.com/rb-x/pwnflow/internal/export"
	"github.com/rb-x/pwnflow/internal/graph"
	"github.com/rb-x/pwnflow/internal/importer"
	"github.com/rb-x/pwnflow/internal/legacy"
	"github.com/rb-x/pwnflow/internal/orchestrator"
	"github.com/rb-x/pwnflow/internal/seal"
)

// components bundles the wired core services for one command invocation.
type components struct {
	Pool    *pgxpool.Pool
	Store   graph.Store
	Codec   *container.Codec
	Export  *export.Service
	Import  *importer.Service
	Orch    *orchestrator.Orchestrator
	logger  *zap.Logger
}

// initializeComponents connects to the graph store and builds the service
// graph. useMemory swaps Postgres for the in-memory store, useful for
// inspecting containers without a database.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, useMemory bool) (*components, error) {
	c := &components{logger: logger}

	if useMemory {
		c.Store = graph.NewMemory(logger)
	} else {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		c.Pool = pool
		store, err := graph.NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		c.Store = store
	}

	sealer := seal.New(cfg.Crypto.PBKDF2Iterations, cfg.Crypto.GeneratedPasswordLength)
	c.Codec = container.New(sealer, Version, logger)
	c.Export = export.NewService(export.NewAssembler(c.Store, logger), c.Codec, logger)
	c.Import = importer.NewService(c.Store, c.Codec, logger)
	c.Orch = orchestrator.New(c.Store, legacy.New(logger), cfg.Importer, logger)
	return c, nil
}

func (c *components) Shutdown() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}
