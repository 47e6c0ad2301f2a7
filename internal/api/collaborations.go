package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/internal/auth"
	"mindgrate/backend/pkg/models"
)

// Worker function actions.
const (
	ActionProcess        = "process"
	ActionProcessPending = "process_pending"
)

// WorkerRequest is the body of POST /functions/v1/collaboration-worker.
type WorkerRequest struct {
	Action string `json:"action" validate:"required,oneof=process process_pending"`
	TaskID string `json:"task_id,omitempty" validate:"omitempty,uuid"`
}

// ListCollaborations lists tasks the caller's MindOp sent or received
// (GET /api/v1/collaborations)
func (s *Server) ListCollaborations(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	role, err := queryString(c, "role")
	if err != nil {
		return err
	}
	statuses, err := queryTaskStatuses(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	var tasks []*models.CollaborationTask
	switch models.TaskRole(role) {
	case models.TaskRoleRequester, "":
		tasks, err = s.Collaborations.ListForRequester(ctx, user.ID, statuses)
	case models.TaskRoleTarget:
		tasks, err = s.Collaborations.ListForTarget(ctx, user.ID, statuses)
	default:
		return apperr.Validation("role must be requester or target")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": tasks})
}

// ListDeliveries returns finished tasks waiting to be picked up by the caller
// (GET /api/v1/collaborations/deliveries)
func (s *Server) ListDeliveries(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	tasks, err := s.Collaborations.PendingDeliveries(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": tasks})
}

// MarkDelivered records that the requester has received a response
// (POST /api/v1/collaborations/:id/delivered)
func (s *Server) MarkDelivered(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	task, err := s.Collaborations.MarkDelivered(c.Request().Context(), user.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

// RetryCollaboration queues a failed task again
// (POST /api/v1/collaborations/:id/retry)
func (s *Server) RetryCollaboration(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	task, err := s.Collaborations.Retry(c.Request().Context(), user.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, task)
}

// CollaborationWorkerFunction runs the collaboration worker on demand
// (POST /functions/v1/collaboration-worker). A single task may be processed
// by the service role or by the owner of the target MindOp; draining the
// queue needs the service role.
func (s *Server) CollaborationWorkerFunction(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req WorkerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if req.Action == ActionProcessPending {
		if !auth.HasRole(user, auth.RoleServiceRole) {
			return apperr.Forbidden("process_pending requires the service role")
		}
		stats, err := s.Worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, stats)
	}

	if req.TaskID == "" {
		return apperr.Validation("task_id is required for action process")
	}
	if !auth.HasRole(user, auth.RoleServiceRole) {
		if err := s.requireTaskTarget(c, user.ID, req.TaskID); err != nil {
			return err
		}
	}
	task, err := s.Worker.ProcessTask(ctx, req.TaskID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) requireTaskTarget(c echo.Context, userID, taskID string) error {
	ctx := c.Request().Context()
	mine, err := s.MindOps.GetMine(ctx, userID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return apperr.Forbidden("only the target MindOp may process this task")
		}
		return err
	}
	task, err := s.Collaborations.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.TargetMindOpID != mine.ID {
		return apperr.Forbidden("only the target MindOp may process this task")
	}
	return nil
}
