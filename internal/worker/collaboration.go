// Package worker processes collaboration tasks on behalf of their target
// MindOps.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

// finishTimeout bounds the final status write after the caller's context is
// gone.
const finishTimeout = 10 * time.Second

// TaskService is the part of the collaboration lifecycle the worker drives.
type TaskService interface {
	Claim(ctx context.Context, id string) (*models.CollaborationTask, error)
	ClaimNext(ctx context.Context, limit int) ([]*models.CollaborationTask, error)
	Complete(ctx context.Context, id, response string, metadata models.Metadata) (*models.CollaborationTask, error)
	Fail(ctx context.Context, id, message string, retryable bool) (*models.CollaborationTask, error)
	Release(ctx context.Context, id string) (*models.CollaborationTask, error)
	ReapStale(ctx context.Context, lease time.Duration) (int64, error)
}

// Answerer answers a query from a MindOp's data.
type Answerer interface {
	GetMindOp(ctx context.Context, id string) (*models.MindOp, error)
	Answer(ctx context.Context, m *models.MindOp, query string) (*models.Answer, error)
}

// Logger is the logging surface used by the worker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Config controls polling and parallelism.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	Lease        time.Duration
}

// Stats summarises one polling round.
type Stats struct {
	Reaped    int64 `json:"reaped"`
	Claimed   int   `json:"claimed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Released  int64 `json:"released"`
}

// CollaborationWorker claims pending tasks and answers them from the target
// MindOp's data.
type CollaborationWorker struct {
	tasks    TaskService
	answerer Answerer
	cfg      Config
	logger   Logger
}

// NewCollaborationWorker creates a new CollaborationWorker.
func NewCollaborationWorker(tasks TaskService, answerer Answerer, cfg Config, logger Logger) *CollaborationWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &CollaborationWorker{tasks: tasks, answerer: answerer, cfg: cfg, logger: logger}
}

// ProcessTask claims a pending task by ID and processes it. A task whose
// processing failed is returned without error; the failure is recorded on
// the task. If ctx is cancelled mid-answer the task goes back to pending and
// ctx's error is returned.
func (w *CollaborationWorker) ProcessTask(ctx context.Context, id string) (*models.CollaborationTask, error) {
	task, err := w.tasks.Claim(ctx, id)
	if err != nil {
		return nil, err
	}
	return w.process(ctx, task)
}

func (w *CollaborationWorker) process(ctx context.Context, task *models.CollaborationTask) (*models.CollaborationTask, error) {
	started := time.Now()
	answer, err := w.answer(ctx, task)

	// The outcome is written even after ctx is cancelled.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err != nil && ctx.Err() != nil {
		// Interrupted, not failed: hand the task back untouched.
		w.logger.Warn("collaboration task interrupted", "task_id", task.ID, "attempt", task.Attempts, "error", err)
		if _, rerr := w.tasks.Release(finishCtx, task.ID); rerr != nil {
			w.logger.Warn("failed to release collaboration task", "task_id", task.ID, "error", rerr)
		}
		return nil, ctx.Err()
	}
	if err != nil {
		retryable := apperr.IsRetryable(err)
		w.logger.Warn("collaboration task failed", "task_id", task.ID, "attempt", task.Attempts, "retryable", retryable, "error", err)
		return w.tasks.Fail(finishCtx, task.ID, err.Error(), retryable)
	}

	metadata := models.Metadata{
		"model":         answer.Model,
		"source_count":  len(answer.Sources),
		"processing_ms": time.Since(started).Milliseconds(),
	}
	done, err := w.tasks.Complete(finishCtx, task.ID, answer.Text, metadata)
	if err != nil {
		return nil, err
	}
	w.logger.Info("collaboration task complete", "task_id", task.ID, "attempt", task.Attempts)
	return done, nil
}

func (w *CollaborationWorker) answer(ctx context.Context, task *models.CollaborationTask) (*models.Answer, error) {
	target, err := w.answerer.GetMindOp(ctx, task.TargetMindOpID)
	if err != nil {
		return nil, err
	}
	return w.answerer.Answer(ctx, target, task.Query)
}

// RunOnce requeues stale tasks, then claims and processes one batch.
func (w *CollaborationWorker) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	if w.cfg.Lease > 0 {
		n, err := w.tasks.ReapStale(ctx, w.cfg.Lease)
		if err != nil {
			return stats, err
		}
		stats.Reaped = n
	}

	claimed, err := w.tasks.ClaimNext(ctx, w.cfg.BatchSize)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(claimed)

	var completed, failed, released atomic.Int64
	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, task := range claimed {
		g.Go(func() error {
			done, err := w.process(ctx, task)
			switch {
			case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
				released.Add(1)
			case err != nil:
				w.logger.Error("failed to record collaboration task outcome", "task_id", task.ID, "error", err)
			case done.Status == models.TaskComplete:
				completed.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Completed = completed.Load()
	stats.Failed = failed.Load()
	stats.Released = released.Load()
	if stats.Claimed > 0 || stats.Reaped > 0 {
		w.logger.Info("collaboration batch processed", "claimed", stats.Claimed, "completed", stats.Completed, "failed", stats.Failed, "released", stats.Released, "reaped", stats.Reaped)
	}
	return stats, nil
}

// Run polls for work until ctx is cancelled.
func (w *CollaborationWorker) Run(ctx context.Context) error {
	w.logger.Info("collaboration worker started", "interval", w.cfg.PollInterval.String(), "batch_size", w.cfg.BatchSize, "concurrency", w.cfg.Concurrency)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("collaboration worker round failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("collaboration worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}
