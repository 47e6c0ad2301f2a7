// Package api contains the HTTP handlers for the Mindgrate REST API and the
// edge function endpoints.
package api

import (
	"context"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/internal/auth"
	"mindgrate/backend/internal/worker"
	"mindgrate/backend/pkg/models"
)

// maxUploadSize bounds spreadsheet uploads.
const maxUploadSize = "10M"

// Logger is the logging surface used by the handlers.
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

// MindOpAPI is the MindOp surface the handlers call.
type MindOpAPI interface {
	GetMine(ctx context.Context, userID string) (*models.MindOp, error)
	SaveMine(ctx context.Context, userID, name string, description *string) (*models.MindOp, bool, error)
	SearchMindOps(ctx context.Context, userID, term string, limit int) ([]*models.MindOp, error)
	Query(ctx context.Context, userID string, req models.QueryRequest) (*models.QueryResponse, error)
	IngestSpreadsheet(ctx context.Context, userID, filename string, r io.Reader) (*models.IngestResult, error)
}

// FollowAPI is the follow request surface the handlers call.
type FollowAPI interface {
	Request(ctx context.Context, userID, targetMindOpID string) (*models.FollowRequest, error)
	ListIncoming(ctx context.Context, userID string, status models.FollowStatus) ([]*models.FollowRequest, error)
	ListOutgoing(ctx context.Context, userID string, status models.FollowStatus) ([]*models.FollowRequest, error)
	Decide(ctx context.Context, userID, requestID string, approve bool) (*models.FollowRequest, error)
}

// CollaborationAPI is the collaboration task surface the handlers call.
type CollaborationAPI interface {
	Get(ctx context.Context, id string) (*models.CollaborationTask, error)
	ListForRequester(ctx context.Context, userID string, statuses []models.TaskStatus) ([]*models.CollaborationTask, error)
	ListForTarget(ctx context.Context, userID string, statuses []models.TaskStatus) ([]*models.CollaborationTask, error)
	PendingDeliveries(ctx context.Context, userID string) ([]*models.CollaborationTask, error)
	MarkDelivered(ctx context.Context, userID, id string) (*models.CollaborationTask, error)
	Retry(ctx context.Context, userID, id string) (*models.CollaborationTask, error)
}

// VectorAPI is the vector store surface the handlers call.
type VectorAPI interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Search(ctx context.Context, userID string, req models.SearchRequest) (*models.SearchResponse, error)
	IngestDocument(ctx context.Context, userID string, req models.IngestRequest) (*models.IngestResult, error)
	CreateCollection(ctx context.Context, userID, name string, description *string) (*models.Collection, error)
	ListCollections(ctx context.Context, userID string) ([]*models.Collection, error)
	DeleteCollection(ctx context.Context, userID, id string) error
	Analytics(ctx context.Context, userID string) (*models.Analytics, error)
}

// WorkerAPI triggers collaboration processing.
type WorkerAPI interface {
	ProcessTask(ctx context.Context, id string) (*models.CollaborationTask, error)
	RunOnce(ctx context.Context) (worker.Stats, error)
}

// Server holds the dependencies for the API server.
type Server struct {
	MindOps        MindOpAPI
	Follows        FollowAPI
	Collaborations CollaborationAPI
	Vectors        VectorAPI
	Worker         WorkerAPI
	Logger         Logger
}

// NewServer creates a new Server.
func NewServer(mindops MindOpAPI, follows FollowAPI, collab CollaborationAPI, vectors VectorAPI, w WorkerAPI, logger Logger) *Server {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Server{
		MindOps:        mindops,
		Follows:        follows,
		Collaborations: collab,
		Vectors:        vectors,
		Worker:         w,
		Logger:         logger,
	}
}

// RegisterHandlers mounts the REST routes on api (/api/v1) and the edge
// function routes on functions (/functions/v1). Both groups must already
// carry the auth middleware.
func RegisterHandlers(api, functions *echo.Group, s *Server) {
	api.GET("/mindops/me", s.GetMyMindOp)
	api.PUT("/mindops/me", s.PutMyMindOp)
	api.POST("/mindops/me/ingest", s.IngestMyMindOp, middleware.BodyLimit(maxUploadSize))

	api.POST("/follow-requests", s.CreateFollowRequest)
	api.GET("/follow-requests", s.ListFollowRequests)
	api.POST("/follow-requests/:id/approve", s.ApproveFollowRequest)
	api.POST("/follow-requests/:id/reject", s.RejectFollowRequest)

	api.GET("/collaborations", s.ListCollaborations)
	api.GET("/collaborations/deliveries", s.ListDeliveries)
	api.POST("/collaborations/:id/delivered", s.MarkDelivered)
	api.POST("/collaborations/:id/retry", s.RetryCollaboration)

	functions.POST("/mindop-service", s.MindOpFunction)
	functions.POST("/collaboration-worker", s.CollaborationWorkerFunction)
	functions.GET("/search-mindops", s.SearchMindOpsFunction)
	functions.POST("/vector-service", s.VectorFunction)
	functions.GET("/collection-service", s.ListCollections)
	functions.POST("/collection-service", s.CreateCollection)
	functions.DELETE("/collection-service/:id", s.DeleteCollection)
	functions.GET("/vector-analytics", s.VectorAnalytics)
}

// currentUser returns the caller stored by the auth middleware.
func currentUser(c echo.Context) (*auth.User, error) {
	u, ok := auth.UserFromContext(c.Request().Context())
	if !ok {
		return nil, apperr.Unauthorized("not authenticated")
	}
	return u, nil
}

// currentAccount is currentUser for endpoints scoped to the caller's own
// data. Service keys have no user and are refused.
func currentAccount(c echo.Context) (*auth.User, error) {
	u, err := currentUser(c)
	if err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, apperr.Forbidden("token is not bound to a user")
	}
	return u, nil
}

// bindAndValidate decodes the request body into dst and validates it.
func bindAndValidate(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Validation("invalid request body")
	}
	return c.Validate(dst)
}

// RequestLogger logs one line per request through the application logger.
func RequestLogger(logger Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				logger.Warn("request", append(args, "error", v.Error.Error())...)
				return nil
			}
			logger.Info("request", args...)
			return nil
		},
	})
}

// Configure installs the validator and the problem details error handler.
func Configure(e *echo.Echo, logger Logger) {
	e.HideBanner = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler(logger)
}
