package services

import (
	"context"
	"strings"
	"time"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/internal/repository"
	"mindgrate/backend/pkg/models"
)

const maxErrorMessage = 2000

// CollaborationService drives collaboration tasks through their lifecycle.
// Every transition is a compare-and-set in the store, so concurrent workers
// and requesters cannot overwrite each other.
type CollaborationService struct {
	tasks       repository.CollaborationStore
	mindops     repository.MindOpStore
	maxAttempts int
	logger      Logger
	metrics     *instruments
}

// NewCollaborationService creates a new CollaborationService. maxAttempts
// bounds requester retries; zero means unlimited.
func NewCollaborationService(tasks repository.CollaborationStore, mindops repository.MindOpStore, maxAttempts int, logger Logger) *CollaborationService {
	if logger == nil {
		logger = nopLogger{}
	}
	return &CollaborationService{
		tasks:       tasks,
		mindops:     mindops,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     newInstruments(),
	}
}

// Create stores a new pending task.
func (s *CollaborationService) Create(ctx context.Context, requesterMindOpID, targetMindOpID, query string, metadata models.Metadata) (*models.CollaborationTask, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("query is required")
	}
	task := &models.CollaborationTask{
		RequesterMindOpID: requesterMindOpID,
		TargetMindOpID:    targetMindOpID,
		Query:             query,
		Status:            models.TaskPending,
		Metadata:          metadata,
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	s.metrics.recordTransition(ctx, string(models.TaskPending))
	s.logger.Info("collaboration task created", "task_id", task.ID, "requester", requesterMindOpID, "target", targetMindOpID)
	return task, nil
}

// Get retrieves a task by ID.
func (s *CollaborationService) Get(ctx context.Context, id string) (*models.CollaborationTask, error) {
	if err := requireUUID("task_id", id); err != nil {
		return nil, err
	}
	return s.tasks.GetTask(ctx, id)
}

func (s *CollaborationService) transition(ctx context.Context, id string, from []models.TaskStatus, update models.TaskUpdate) (*models.CollaborationTask, error) {
	for _, st := range from {
		if !st.CanTransitionTo(update.Status) {
			return nil, apperr.Internal(nil, "illegal task transition %s -> %s", st, update.Status)
		}
	}
	task, err := s.tasks.TransitionTask(ctx, id, from, update)
	if err != nil {
		return nil, err
	}
	s.metrics.recordTransition(ctx, string(update.Status))
	s.logger.Debug("collaboration task transitioned", "task_id", id, "status", update.Status, "attempts", task.Attempts)
	return task, nil
}

// Claim moves one pending task to processing.
func (s *CollaborationService) Claim(ctx context.Context, id string) (*models.CollaborationTask, error) {
	if err := requireUUID("task_id", id); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, []models.TaskStatus{models.TaskPending}, models.TaskUpdate{
		Status:            models.TaskProcessing,
		IncrementAttempts: true,
	})
}

// Release returns a task whose processing was interrupted to pending so
// another worker can pick it up.
func (s *CollaborationService) Release(ctx context.Context, id string) (*models.CollaborationTask, error) {
	return s.transition(ctx, id, []models.TaskStatus{models.TaskProcessing}, models.TaskUpdate{
		Status: models.TaskPending,
	})
}

// ClaimNext claims up to limit pending tasks, oldest first.
func (s *CollaborationService) ClaimNext(ctx context.Context, limit int) ([]*models.CollaborationTask, error) {
	tasks, err := s.tasks.ClaimPendingTasks(ctx, limit)
	if err != nil {
		return nil, err
	}
	for range tasks {
		s.metrics.recordTransition(ctx, string(models.TaskProcessing))
	}
	return tasks, nil
}

// Complete records the target's answer.
func (s *CollaborationService) Complete(ctx context.Context, id, response string, metadata models.Metadata) (*models.CollaborationTask, error) {
	return s.transition(ctx, id, []models.TaskStatus{models.TaskProcessing}, models.TaskUpdate{
		Status:     models.TaskComplete,
		Response:   &response,
		ClearError: true,
		Metadata:   metadata,
	})
}

// Fail records why processing failed. retryable is stored in the task
// metadata so requesters can decide whether to retry.
func (s *CollaborationService) Fail(ctx context.Context, id, message string, retryable bool) (*models.CollaborationTask, error) {
	if r := []rune(message); len(r) > maxErrorMessage {
		message = string(r[:maxErrorMessage])
	}
	return s.transition(ctx, id, []models.TaskStatus{models.TaskProcessing}, models.TaskUpdate{
		Status:       models.TaskFailed,
		ErrorMessage: &message,
		Metadata:     models.Metadata{"retryable": retryable},
	})
}

// ListForRequester lists tasks sent by the caller's MindOp.
func (s *CollaborationService) ListForRequester(ctx context.Context, userID string, statuses []models.TaskStatus) ([]*models.CollaborationTask, error) {
	mine, err := ownMindOp(ctx, s.mindops, userID)
	if err != nil {
		return nil, err
	}
	return s.tasks.ListTasks(ctx, models.TaskFilter{RequesterMindOpID: mine.ID, Statuses: statuses})
}

// ListForTarget lists tasks sent to the caller's MindOp.
func (s *CollaborationService) ListForTarget(ctx context.Context, userID string, statuses []models.TaskStatus) ([]*models.CollaborationTask, error) {
	mine, err := ownMindOp(ctx, s.mindops, userID)
	if err != nil {
		return nil, err
	}
	return s.tasks.ListTasks(ctx, models.TaskFilter{TargetMindOpID: mine.ID, Statuses: statuses})
}

// PendingDeliveries lists the caller's tasks that finished processing and
// have not been acknowledged.
func (s *CollaborationService) PendingDeliveries(ctx context.Context, userID string) ([]*models.CollaborationTask, error) {
	var deliverable []models.TaskStatus
	for _, st := range models.AllTaskStatuses {
		if st.Deliverable() {
			deliverable = append(deliverable, st)
		}
	}
	return s.ListForRequester(ctx, userID, deliverable)
}

func (s *CollaborationService) requesterTask(ctx context.Context, userID, id string) (*models.CollaborationTask, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mine, err := ownMindOp(ctx, s.mindops, userID)
	if err != nil {
		return nil, err
	}
	if task.RequesterMindOpID != mine.ID {
		return nil, apperr.Forbidden("task belongs to another MindOp")
	}
	return task, nil
}

// MarkDelivered acknowledges a completed task. It fails with a conflict if
// the task is no longer complete, for example when it was already delivered.
func (s *CollaborationService) MarkDelivered(ctx context.Context, userID, id string) (*models.CollaborationTask, error) {
	if _, err := s.requesterTask(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, []models.TaskStatus{models.TaskComplete}, models.TaskUpdate{
		Status: models.TaskDelivered,
	})
}

// Retry returns a failed task to pending. Attempts are kept.
func (s *CollaborationService) Retry(ctx context.Context, userID, id string) (*models.CollaborationTask, error) {
	task, err := s.requesterTask(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if s.maxAttempts > 0 && task.Attempts >= s.maxAttempts {
		return nil, apperr.Conflict("task has used all %d attempts", s.maxAttempts)
	}
	return s.transition(ctx, id, []models.TaskStatus{models.TaskFailed}, models.TaskUpdate{
		Status:     models.TaskPending,
		ClearError: true,
		Metadata:   models.Metadata{"retried_at": time.Now().UTC().Format(time.RFC3339)},
	})
}

// ReapStale returns tasks stuck in processing for longer than lease to
// pending.
func (s *CollaborationService) ReapStale(ctx context.Context, lease time.Duration) (int64, error) {
	n, err := s.tasks.ResetStaleTasks(ctx, time.Now().Add(-lease))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("requeued stale collaboration tasks", "count", n, "lease", lease.String())
	}
	return n, nil
}
