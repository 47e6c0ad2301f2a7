package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

// FollowRequestBody is the body of POST /api/v1/follow-requests.
type FollowRequestBody struct {
	TargetMindOpID string `json:"target_mindop_id" validate:"required,uuid"`
}

// CreateFollowRequest asks to follow another MindOp
// (POST /api/v1/follow-requests)
func (s *Server) CreateFollowRequest(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	var body FollowRequestBody
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}
	req, err := s.Follows.Request(c.Request().Context(), user.ID, body.TargetMindOpID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, req)
}

// ListFollowRequests lists follow requests to or from the caller's MindOp
// (GET /api/v1/follow-requests)
func (s *Server) ListFollowRequests(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	direction, err := queryString(c, "direction")
	if err != nil {
		return err
	}
	status, err := queryFollowStatus(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	var reqs []*models.FollowRequest
	switch models.FollowDirection(direction) {
	case models.FollowIncoming, "":
		reqs, err = s.Follows.ListIncoming(ctx, user.ID, status)
	case models.FollowOutgoing:
		reqs, err = s.Follows.ListOutgoing(ctx, user.ID, status)
	default:
		return apperr.Validation("direction must be incoming or outgoing")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"follow_requests": reqs})
}

// ApproveFollowRequest (POST /api/v1/follow-requests/:id/approve)
func (s *Server) ApproveFollowRequest(c echo.Context) error {
	return s.decide(c, true)
}

// RejectFollowRequest (POST /api/v1/follow-requests/:id/reject)
func (s *Server) RejectFollowRequest(c echo.Context) error {
	return s.decide(c, false)
}

func (s *Server) decide(c echo.Context, approve bool) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	req, err := s.Follows.Decide(c.Request().Context(), user.ID, id, approve)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}
