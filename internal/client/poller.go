package client

import (
	"context"
	"errors"
	"time"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

// Logger is the logging surface used by the poller.
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

// DeliveryClient is the part of Client the poller needs.
type DeliveryClient interface {
	Deliveries(ctx context.Context) ([]*models.CollaborationTask, error)
	MarkDelivered(ctx context.Context, taskID string) (*models.CollaborationTask, error)
}

// DeliveryHandler receives a finished task. Returning an error leaves a
// completed task undelivered so it is offered again on the next poll.
type DeliveryHandler func(ctx context.Context, task *models.CollaborationTask) error

// DeliveryPoller hands finished collaboration tasks to a handler and marks
// completed ones delivered. Failed tasks cannot be marked delivered; they
// are handed over once per failure and remembered in memory.
type DeliveryPoller struct {
	client   DeliveryClient
	handle   DeliveryHandler
	interval time.Duration
	logger   Logger

	reportedFailures map[string]time.Time
}

// NewDeliveryPoller creates a new DeliveryPoller.
func NewDeliveryPoller(c DeliveryClient, interval time.Duration, handle DeliveryHandler, logger Logger) *DeliveryPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &DeliveryPoller{
		client:           c,
		handle:           handle,
		interval:         interval,
		logger:           logger,
		reportedFailures: make(map[string]time.Time),
	}
}

// Run polls immediately and then every interval until ctx is cancelled.
// Poll errors are logged and do not stop the loop.
func (p *DeliveryPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrSessionExpired) {
				return err
			}
			p.logger.Warn("delivery poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce fetches pending deliveries and processes them. It returns the
// number of tasks handed to the handler.
func (p *DeliveryPoller) PollOnce(ctx context.Context) (int, error) {
	tasks, err := p.client.Deliveries(ctx)
	if err != nil {
		return 0, err
	}

	handled := 0
	stillFailed := make(map[string]bool)
	for _, task := range tasks {
		if ctx.Err() != nil {
			return handled, ctx.Err()
		}
		if !task.Status.Deliverable() {
			continue
		}
		switch task.Status {
		case models.TaskFailed:
			stillFailed[task.ID] = true
			if seen, ok := p.reportedFailures[task.ID]; ok && seen.Equal(task.UpdatedAt) {
				continue
			}
			if err := p.handle(ctx, task); err != nil {
				p.logger.Warn("delivery handler failed", "task_id", task.ID, "error", err)
				continue
			}
			p.reportedFailures[task.ID] = task.UpdatedAt
			handled++

		case models.TaskComplete:
			if err := p.handle(ctx, task); err != nil {
				p.logger.Warn("delivery handler failed", "task_id", task.ID, "error", err)
				continue
			}
			handled++
			if _, err := p.client.MarkDelivered(ctx, task.ID); err != nil {
				if apperr.IsConflict(err) {
					p.logger.Debug("task already delivered", "task_id", task.ID)
					continue
				}
				p.logger.Warn("failed to mark task delivered", "task_id", task.ID, "error", err)
			}
		}
	}

	for id := range p.reportedFailures {
		if !stillFailed[id] {
			delete(p.reportedFailures, id)
		}
	}
	return handled, nil
}
