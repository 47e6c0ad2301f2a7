package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

const taskColumns = "id, requester_mindop_id, target_mindop_id, query, status, response, error_message, metadata, attempts, created_at, updated_at"

func scanTask(row pgx.Row) (*models.CollaborationTask, error) {
	var t models.CollaborationTask
	err := row.Scan(&t.ID, &t.RequesterMindOpID, &t.TargetMindOpID, &t.Query, &t.Status,
		&t.Response, &t.ErrorMessage, &t.Metadata, &t.Attempts, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func statusStrings(statuses []models.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// CreateTask inserts a task in the pending state.
func (s *PostgresStore) CreateTask(ctx context.Context, task *models.CollaborationTask) error {
	if task.Metadata == nil {
		task.Metadata = models.Metadata{}
	}
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO mindop_collaboration_tasks (requester_mindop_id, target_mindop_id, query, status, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, attempts, created_at, updated_at`,
		task.RequesterMindOpID, task.TargetMindOpID, task.Query, string(task.Status), task.Metadata,
	).Scan(&task.ID, &task.Attempts, &task.CreatedAt, &task.UpdatedAt)
	return translate(err, "collaboration task")
}

// GetTask retrieves a task by its ID.
func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.CollaborationTask, error) {
	t, err := scanTask(s.db.QueryRow(ctx, "SELECT "+taskColumns+" FROM mindop_collaboration_tasks WHERE id = $1", id))
	return t, translate(err, "collaboration task")
}

// ListTasks lists tasks matching every non-empty filter field, newest first.
func (s *PostgresStore) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.CollaborationTask, error) {
	return queryRows(ctx, s.db, "collaboration task", scanTask, `
		SELECT `+taskColumns+` FROM mindop_collaboration_tasks
		WHERE ($1 = '' OR requester_mindop_id::text = $1)
		  AND ($2 = '' OR target_mindop_id::text = $2)
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3))
		ORDER BY created_at DESC
		LIMIT $4`,
		filter.RequesterMindOpID, filter.TargetMindOpID, statusStrings(filter.Statuses), clampLimit(filter.Limit, 100, 500))
}

// TransitionTask is a compare-and-set on the status column.
func (s *PostgresStore) TransitionTask(ctx context.Context, id string, from []models.TaskStatus, update models.TaskUpdate) (*models.CollaborationTask, error) {
	metadata := update.Metadata
	if metadata == nil {
		metadata = models.Metadata{}
	}
	attempts := 0
	if update.IncrementAttempts {
		attempts = 1
	}

	t, err := scanTask(s.db.QueryRow(ctx, `
		UPDATE mindop_collaboration_tasks SET
			status        = $3,
			response      = COALESCE($4, response),
			error_message = CASE WHEN $6 THEN NULL ELSE COALESCE($5, error_message) END,
			metadata      = metadata || $7,
			attempts      = attempts + $8,
			updated_at    = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+taskColumns,
		id, statusStrings(from), string(update.Status), update.Response, update.ErrorMessage,
		update.ClearError, metadata, attempts))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, translate(err, "collaboration task")
	}

	current, getErr := s.GetTask(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, apperr.Conflict("collaboration task is %s, cannot move to %s", current.Status, update.Status)
}

// ClaimPendingTasks claims the oldest pending tasks for this worker.
func (s *PostgresStore) ClaimPendingTasks(ctx context.Context, limit int) ([]*models.CollaborationTask, error) {
	return queryRows(ctx, s.db, "collaboration task", scanTask, `
		UPDATE mindop_collaboration_tasks SET
			status = 'processing_by_target', attempts = attempts + 1, updated_at = now()
		WHERE id IN (
			SELECT id FROM mindop_collaboration_tasks
			WHERE status = 'pending_target_processing'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		clampLimit(limit, 10, 100))
}

// ResetStaleTasks requeues tasks whose worker stopped before finishing.
func (s *PostgresStore) ResetStaleTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE mindop_collaboration_tasks
		SET status = 'pending_target_processing',
		    metadata = metadata || '{"requeued": true}'::jsonb,
		    updated_at = now()
		WHERE status = 'processing_by_target' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, translate(err, "collaboration task")
	}
	return tag.RowsAffected(), nil
}
