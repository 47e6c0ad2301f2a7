package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"mindgrate/backend/internal/config"
	"mindgrate/backend/internal/logging"
	"mindgrate/backend/internal/repository"
	"mindgrate/backend/internal/services"
	"mindgrate/backend/internal/worker"
)

// app holds the components shared by every command.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	pool   *pgxpool.Pool
	store  *repository.PostgresStore

	mindops *services.MindOpService
	vectors *services.VectorService
	follows *services.FollowService
	collab  *services.CollaborationService
	worker  *worker.CollaborationWorker
}

func loadBase(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	pool, err := repository.NewPool(ctx, cfg.DSN(), cfg.DB.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("database initialization failed: %w", err)
	}
	logger.Debug("database connected", "max_conns", pool.Config().MaxConns)

	return &app{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		store:  repository.NewPostgresStore(pool),
	}, nil
}

// newApp loads the configuration, connects to the database and builds the
// service layer.
func newApp(ctx context.Context) (*app, error) {
	a, err := loadBase(ctx)
	if err != nil {
		return nil, err
	}

	embedder, generator, err := services.NewProviders(ctx, a.cfg, a.logger.With("component", "providers"))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("provider initialization failed: %w", err)
	}

	svcLogger := a.logger.With("component", "services")
	a.vectors = services.NewVectorService(a.store, embedder, services.VectorConfig{
		ChunkSize:      a.cfg.Vector.ChunkSize,
		ChunkOverlap:   a.cfg.Vector.ChunkOverlap,
		MatchThreshold: a.cfg.Vector.MatchThreshold,
		MatchCount:     a.cfg.Vector.MatchCount,
	}, svcLogger)
	a.follows = services.NewFollowService(a.store, a.store, svcLogger)
	a.collab = services.NewCollaborationService(a.store, a.store, a.cfg.Worker.MaxAttempts, svcLogger)
	a.mindops = services.NewMindOpService(a.store, a.vectors, a.follows, a.collab, generator, svcLogger)

	a.worker = worker.NewCollaborationWorker(a.collab, a.mindops, worker.Config{
		PollInterval: a.cfg.Worker.PollInterval,
		BatchSize:    a.cfg.Worker.BatchSize,
		Concurrency:  a.cfg.Worker.Concurrency,
		Lease:        a.cfg.Worker.Lease,
	}, a.logger.With("component", "worker"))
	a.mindops.SetTaskProcessor(a.worker)

	a.logger.Info("service layer initialized",
		"llm_provider", a.cfg.LLM.Provider,
		"embeddings_provider", a.cfg.Embeddings.Provider,
	)
	return a, nil
}

func (a *app) close() {
	a.pool.Close()
	_ = a.logger.Sync()
}
