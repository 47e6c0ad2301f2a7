package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

const followColumns = "id, requester_mindop_id, target_mindop_id, status, created_at, updated_at"

func scanFollow(row pgx.Row) (*models.FollowRequest, error) {
	var f models.FollowRequest
	err := row.Scan(&f.ID, &f.RequesterMindOpID, &f.TargetMindOpID, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertFollowRequest creates a pending request. An existing rejected request
// is reset to pending; a pending or approved one is returned unchanged.
func (s *PostgresStore) UpsertFollowRequest(ctx context.Context, req *models.FollowRequest) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO follow_requests (requester_mindop_id, target_mindop_id, status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (requester_mindop_id, target_mindop_id) DO UPDATE
		SET status = CASE WHEN follow_requests.status = 'rejected' THEN 'pending' ELSE follow_requests.status END,
		    updated_at = CASE WHEN follow_requests.status = 'rejected' THEN now() ELSE follow_requests.updated_at END
		RETURNING `+followColumns,
		req.RequesterMindOpID, req.TargetMindOpID)
	stored, err := scanFollow(row)
	if err != nil {
		return translate(err, "follow request")
	}
	*req = *stored
	return nil
}

// GetFollowRequest retrieves a follow request by its ID.
func (s *PostgresStore) GetFollowRequest(ctx context.Context, id string) (*models.FollowRequest, error) {
	f, err := scanFollow(s.db.QueryRow(ctx, "SELECT "+followColumns+" FROM follow_requests WHERE id = $1", id))
	return f, translate(err, "follow request")
}

// ListFollowRequests lists requests matching every non-empty filter field,
// newest first.
func (s *PostgresStore) ListFollowRequests(ctx context.Context, filter models.FollowRequestFilter) ([]*models.FollowRequest, error) {
	return queryRows(ctx, s.db, "follow request", scanFollow, `
		SELECT `+followColumns+` FROM follow_requests
		WHERE ($1 = '' OR requester_mindop_id::text = $1)
		  AND ($2 = '' OR target_mindop_id::text = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4`,
		filter.RequesterMindOpID, filter.TargetMindOpID, string(filter.Status), clampLimit(filter.Limit, 100, 500))
}

// SetFollowStatus moves a request from one status to another.
func (s *PostgresStore) SetFollowStatus(ctx context.Context, id string, from, to models.FollowStatus) (*models.FollowRequest, error) {
	f, err := scanFollow(s.db.QueryRow(ctx, `
		UPDATE follow_requests SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+followColumns, id, string(from), string(to)))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, translate(err, "follow request")
	}
	current, getErr := s.GetFollowRequest(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, apperr.Conflict("follow request is %s, not %s", current.Status, from)
}

// HasApprovedFollow reports whether the requester may collaborate with the
// target.
func (s *PostgresStore) HasApprovedFollow(ctx context.Context, requesterMindOpID, targetMindOpID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM follow_requests
			WHERE requester_mindop_id = $1 AND target_mindop_id = $2 AND status = 'approved'
		)`, requesterMindOpID, targetMindOpID).Scan(&ok)
	return ok, translate(err, "follow request")
}
