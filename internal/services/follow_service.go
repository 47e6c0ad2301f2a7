package services

import (
	"context"

	"github.com/google/uuid"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/internal/repository"
	"mindgrate/backend/pkg/models"
)

// FollowService manages follow requests between MindOps.
type FollowService struct {
	follows repository.FollowStore
	mindops repository.MindOpStore
	logger  Logger
}

// NewFollowService creates a new FollowService.
func NewFollowService(follows repository.FollowStore, mindops repository.MindOpStore, logger Logger) *FollowService {
	if logger == nil {
		logger = nopLogger{}
	}
	return &FollowService{follows: follows, mindops: mindops, logger: logger}
}

func requireUUID(field, v string) error {
	if _, err := uuid.Parse(v); err != nil {
		return apperr.Validation("%s must be a UUID", field)
	}
	return nil
}

// ownMindOp returns the caller's MindOp, failing with a validation error if
// they have not created one yet.
func ownMindOp(ctx context.Context, store repository.MindOpStore, userID string) (*models.MindOp, error) {
	m, err := store.GetMindOpByUser(ctx, userID)
	if apperr.IsNotFound(err) {
		return nil, apperr.Validation("create your MindOp first")
	}
	return m, err
}

// Request asks to follow targetMindOpID from the caller's MindOp.
func (s *FollowService) Request(ctx context.Context, userID, targetMindOpID string) (*models.FollowRequest, error) {
	if err := requireUUID("target_mindop_id", targetMindOpID); err != nil {
		return nil, err
	}
	mine, err := ownMindOp(ctx, s.mindops, userID)
	if err != nil {
		return nil, err
	}
	if mine.ID == targetMindOpID {
		return nil, apperr.Validation("a MindOp cannot follow itself")
	}
	if _, err := s.mindops.GetMindOp(ctx, targetMindOpID); err != nil {
		return nil, err
	}

	req := &models.FollowRequest{RequesterMindOpID: mine.ID, TargetMindOpID: targetMindOpID}
	if err := s.follows.UpsertFollowRequest(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info("follow requested", "request_id", req.ID, "requester", mine.ID, "target", targetMindOpID, "status", req.Status)
	return req, nil
}

// ListIncoming lists requests targeting the caller's MindOp. An empty status
// lists all of them.
func (s *FollowService) ListIncoming(ctx context.Context, userID string, status models.FollowStatus) ([]*models.FollowRequest, error) {
	mine, err := ownMindOp(ctx, s.mindops, userID)
	if err != nil {
		return nil, err
	}
	return s.follows.ListFollowRequests(ctx, models.FollowRequestFilter{TargetMindOpID: mine.ID, Status: status})
}

// ListOutgoing lists requests made by the caller's MindOp.
func (s *FollowService) ListOutgoing(ctx context.Context, userID string, status models.FollowStatus) ([]*models.FollowRequest, error) {
	mine, err := ownMindOp(ctx, s.mindops, userID)
	if err != nil {
		return nil, err
	}
	return s.follows.ListFollowRequests(ctx, models.FollowRequestFilter{RequesterMindOpID: mine.ID, Status: status})
}

// Decide approves or rejects a pending request targeting the caller's MindOp.
func (s *FollowService) Decide(ctx context.Context, userID, requestID string, approve bool) (*models.FollowRequest, error) {
	if err := requireUUID("id", requestID); err != nil {
		return nil, err
	}
	req, err := s.follows.GetFollowRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	mine, err := ownMindOp(ctx, s.mindops, userID)
	if err != nil {
		return nil, err
	}
	if req.TargetMindOpID != mine.ID {
		return nil, apperr.Forbidden("only the target MindOp's owner may decide a follow request")
	}

	to := models.FollowRejected
	if approve {
		to = models.FollowApproved
	}
	decided, err := s.follows.SetFollowStatus(ctx, requestID, models.FollowPending, to)
	if err != nil {
		return nil, err
	}
	s.logger.Info("follow request decided", "request_id", requestID, "status", to)
	return decided, nil
}

// CanCollaborate reports whether requester may send collaboration tasks to
// target.
func (s *FollowService) CanCollaborate(ctx context.Context, requesterMindOpID, targetMindOpID string) (bool, error) {
	if requesterMindOpID == targetMindOpID {
		return false, nil
	}
	return s.follows.HasApprovedFollow(ctx, requesterMindOpID, targetMindOpID)
}
