package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mindgrate/backend/internal/auth"
	"mindgrate/backend/internal/config"
	"mindgrate/backend/internal/logging"
	"mindgrate/backend/internal/repository"
	"mindgrate/backend/internal/services"
	"mindgrate/backend/pkg/models"
)

type demoMindOp struct {
	UserID      string
	Name        string
	Description string
	Sheet       string
}

// The first entry belongs to the dev bypass user so a local server with
// dev_mode_bypass can use the seeded network straight away.
var demoMindOps = []demoMindOp{
	{
		UserID:      auth.DevUser.ID,
		Name:        "Dev Workspace",
		Description: "Local development MindOp.",
		Sheet:       "topic,notes\nroadmap,Ship the collaboration inbox in Q3\nhiring,Two backend engineers starting next month\n",
	},
	{
		UserID:      "00000000-0000-4000-8000-00000000a001",
		Name:        "Sales Analytics",
		Description: "Quarterly sales figures by region.",
		Sheet:       "region,quarter,revenue\nEMEA,Q1,120000\nEMEA,Q2,135000\nAPAC,Q1,98000\nAPAC,Q2,101500\n",
	},
	{
		UserID:      "00000000-0000-4000-8000-00000000a002",
		Name:        "Support Desk",
		Description: "Ticket volumes and common customer issues.",
		Sheet:       "week,tickets,top_issue\n1,310,password reset\n2,284,billing address\n3,402,export timeout\n",
	},
}

var (
	envFile  string
	withData bool
)

var rootCmd = &cobra.Command{
	Use:          "seed",
	Short:        "Seed demo MindOps, follow relationships and data",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env", "", "Path to .env file")
	rootCmd.Flags().BoolVar(&withData, "with-data", false, "Ingest the demo spreadsheets (calls the embeddings provider)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	pool, err := repository.NewPool(ctx, cfg.DSN(), cfg.DB.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if _, err := repository.Migrate(ctx, pool); err != nil {
		return err
	}
	store := repository.NewPostgresStore(pool)

	var (
		embedder  services.Embedder
		generator services.Generator
	)
	if withData {
		if embedder, generator, err = services.NewProviders(ctx, cfg, logger); err != nil {
			return err
		}
	}
	vectors := services.NewVectorService(store, embedder, services.VectorConfig{
		ChunkSize:      cfg.Vector.ChunkSize,
		ChunkOverlap:   cfg.Vector.ChunkOverlap,
		MatchThreshold: cfg.Vector.MatchThreshold,
		MatchCount:     cfg.Vector.MatchCount,
	}, logger)
	follows := services.NewFollowService(store, store, logger)
	collab := services.NewCollaborationService(store, store, cfg.Worker.MaxAttempts, logger)
	mindops := services.NewMindOpService(store, vectors, follows, collab, generator, logger)

	seeded := make([]*models.MindOp, 0, len(demoMindOps))
	for _, d := range demoMindOps {
		desc := d.Description
		m, created, err := mindops.SaveMine(ctx, d.UserID, d.Name, &desc)
		if err != nil {
			return fmt.Errorf("seeding MindOp %q: %w", d.Name, err)
		}
		logger.Info("seeded mindop", "name", m.Name, "id", m.ID, "created", created)
		seeded = append(seeded, m)

		if withData {
			res, err := mindops.IngestSpreadsheet(ctx, d.UserID, strings.ToLower(strings.ReplaceAll(d.Name, " ", "_"))+".csv", strings.NewReader(d.Sheet))
			if err != nil {
				return fmt.Errorf("ingesting data for %q: %w", d.Name, err)
			}
			logger.Info("ingested demo data", "name", m.Name, "chunks", res.Chunks)
		}
	}

	// The dev MindOp follows every other demo MindOp, and the follow is
	// approved by the target's owner.
	dev := demoMindOps[0]
	for i, target := range seeded[1:] {
		req, err := follows.Request(ctx, dev.UserID, target.ID)
		if err != nil {
			return fmt.Errorf("requesting follow of %q: %w", target.Name, err)
		}
		if req.Status == models.FollowPending {
			if req, err = follows.Decide(ctx, demoMindOps[i+1].UserID, req.ID, true); err != nil {
				return fmt.Errorf("approving follow of %q: %w", target.Name, err)
			}
		}
		logger.Info("seeded follow", "target", target.Name, "status", req.Status)
	}

	logger.Info("seeding complete")
	return nil
}
