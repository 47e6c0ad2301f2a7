package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

// VectorRequest is the body of POST /functions/v1/vector-service. Which
// fields are read depends on Action.
type VectorRequest struct {
	Action       string          `json:"action" validate:"required,oneof=embed search ingest"`
	Texts        []string        `json:"texts,omitempty"`
	Query        string          `json:"query,omitempty"`
	CollectionID string          `json:"collection_id,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Threshold    float64         `json:"threshold,omitempty"`
	Title        string          `json:"title,omitempty"`
	Content      string          `json:"content,omitempty"`
	Metadata     models.Metadata `json:"metadata,omitempty"`
}

// CollectionRequest is the body of POST /functions/v1/collection-service.
type CollectionRequest struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
}

// VectorFunction embeds text, searches, or ingests a document
// (POST /functions/v1/vector-service)
func (s *Server) VectorFunction(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	var req VectorRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	switch req.Action {
	case "embed":
		vecs, err := s.Vectors.Embed(ctx, req.Texts)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"embeddings": vecs})

	case "search":
		search := models.SearchRequest{
			Query:        req.Query,
			CollectionID: req.CollectionID,
			Limit:        req.Limit,
			Threshold:    req.Threshold,
		}
		if err := c.Validate(&search); err != nil {
			return err
		}
		resp, err := s.Vectors.Search(ctx, user.ID, search)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, resp)

	case "ingest":
		ingest := models.IngestRequest{
			CollectionID: req.CollectionID,
			Title:        req.Title,
			Content:      req.Content,
			Metadata:     req.Metadata,
		}
		if err := c.Validate(&ingest); err != nil {
			return err
		}
		res, err := s.Vectors.IngestDocument(ctx, user.ID, ingest)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, res)
	}
	return apperr.Validation("unknown action %q", req.Action)
}

// ListCollections (GET /functions/v1/collection-service)
func (s *Server) ListCollections(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	cols, err := s.Vectors.ListCollections(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"collections": cols})
}

// CreateCollection (POST /functions/v1/collection-service)
func (s *Server) CreateCollection(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	var req CollectionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	col, err := s.Vectors.CreateCollection(c.Request().Context(), user.ID, req.Name, req.Description)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, col)
}

// DeleteCollection removes a collection with its documents and embeddings
// (DELETE /functions/v1/collection-service/:id)
func (s *Server) DeleteCollection(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.Vectors.DeleteCollection(c.Request().Context(), user.ID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// VectorAnalytics (GET /functions/v1/vector-analytics)
func (s *Server) VectorAnalytics(c echo.Context) error {
	user, err := currentAccount(c)
	if err != nil {
		return err
	}
	a, err := s.Vectors.Analytics(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}
