package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

// SaveMindOpRequest is the body of PUT /api/v1/mindops/me.
type SaveMindOpRequest struct {
	Name        string  `json:"name" validate:"required,max=120"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
}

// GetMyMindOp returns the caller's MindOp
// (GET /api/v1/mindops/me)
func (s *Server) GetMyMindOp(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	m, err := s.MindOps.GetMine(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

// PutMyMindOp creates or updates the caller's MindOp
// (PUT /api/v1/mindops/me)
func (s *Server) PutMyMindOp(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	var req SaveMindOpRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	m, created, err := s.MindOps.SaveMine(c.Request().Context(), user.ID, req.Name, req.Description)
	if err != nil {
		return err
	}
	if created {
		return c.JSON(http.StatusCreated, m)
	}
	return c.JSON(http.StatusOK, m)
}

// IngestMyMindOp loads a CSV upload into the caller's MindOp
// (POST /api/v1/mindops/me/ingest)
func (s *Server) IngestMyMindOp(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.Validation("multipart field \"file\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return apperr.Validation("unreadable upload: %v", err)
	}
	defer f.Close()

	res, err := s.MindOps.IngestSpreadsheet(c.Request().Context(), user.ID, fh.Filename, f)
	if err != nil {
		return err
	}
	s.Logger.Info("spreadsheet ingested", "user_id", user.ID, "file", fh.Filename, "rows", res.Rows, "chunks", res.Chunks)
	return c.JSON(http.StatusCreated, res)
}

// MindOpFunction answers a query against the caller's MindOp or opens a
// collaboration with another one
// (POST /functions/v1/mindop-service)
func (s *Server) MindOpFunction(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	var req models.QueryRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := s.MindOps.Query(c.Request().Context(), user.ID, req)
	if err != nil {
		return err
	}
	if resp.Task != nil && resp.Task.Status == models.TaskPending {
		return c.JSON(http.StatusAccepted, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// SearchMindOpsFunction finds other users' MindOps by name or description
// (GET /functions/v1/search-mindops)
func (s *Server) SearchMindOpsFunction(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	term, err := queryString(c, "searchTerm")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	mindops, err := s.MindOps.SearchMindOps(c.Request().Context(), user.ID, term, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"mindops": mindops})
}
