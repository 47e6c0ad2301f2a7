package repository

import (
	"context"
	"time"

	"mindgrate/backend/pkg/models"
)

// MindOpStore persists MindOps.
type MindOpStore interface {
	// GetMindOp retrieves a MindOp by its ID.
	GetMindOp(ctx context.Context, id string) (*models.MindOp, error)
	// GetMindOpByUser retrieves the MindOp owned by a user.
	GetMindOpByUser(ctx context.Context, userID string) (*models.MindOp, error)
	// UpsertMindOp creates the user's MindOp or updates its name and
	// description. It reports whether a new row was created.
	UpsertMindOp(ctx context.Context, mindop *models.MindOp) (bool, error)
	// SearchMindOps matches name or description case-insensitively.
	SearchMindOps(ctx context.Context, term, excludeUserID string, limit int) ([]*models.MindOp, error)
}

// FollowStore persists follow requests.
type FollowStore interface {
	// UpsertFollowRequest creates a pending request, or resets an existing
	// rejected one back to pending.
	UpsertFollowRequest(ctx context.Context, req *models.FollowRequest) error
	GetFollowRequest(ctx context.Context, id string) (*models.FollowRequest, error)
	ListFollowRequests(ctx context.Context, filter models.FollowRequestFilter) ([]*models.FollowRequest, error)
	// SetFollowStatus moves a request from one status to another. It fails
	// with a conflict if the stored status is not from.
	SetFollowStatus(ctx context.Context, id string, from, to models.FollowStatus) (*models.FollowRequest, error)
	HasApprovedFollow(ctx context.Context, requesterMindOpID, targetMindOpID string) (bool, error)
}

// CollaborationStore persists collaboration tasks.
type CollaborationStore interface {
	CreateTask(ctx context.Context, task *models.CollaborationTask) error
	GetTask(ctx context.Context, id string) (*models.CollaborationTask, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.CollaborationTask, error)
	// TransitionTask applies update only if the stored status is one of
	// from. A mismatch yields a conflict error, a missing row not found.
	TransitionTask(ctx context.Context, id string, from []models.TaskStatus, update models.TaskUpdate) (*models.CollaborationTask, error)
	// ClaimPendingTasks moves up to limit pending tasks to processing,
	// skipping rows locked by other workers.
	ClaimPendingTasks(ctx context.Context, limit int) ([]*models.CollaborationTask, error)
	// ResetStaleTasks returns processing tasks last touched before cutoff to
	// pending.
	ResetStaleTasks(ctx context.Context, cutoff time.Time) (int64, error)
}

// VectorStore persists collections, documents and their embeddings.
type VectorStore interface {
	CreateCollection(ctx context.Context, c *models.Collection) error
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	GetCollectionByMindOp(ctx context.Context, mindopID string) (*models.Collection, error)
	ListCollections(ctx context.Context, userID string) ([]*models.Collection, error)
	DeleteCollection(ctx context.Context, id string) error
	// InsertDocument stores the document and all of its chunks atomically.
	InsertDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error
	// InsertDocuments stores several documents in one transaction; chunks[i]
	// belongs to docs[i].
	InsertDocuments(ctx context.Context, docs []*models.Document, chunks [][]*models.Chunk) error
	MatchEmbeddings(ctx context.Context, q models.MatchQuery) ([]*models.SearchHit, error)
	RecordSearchSession(ctx context.Context, s *models.SearchSession) error
	CollectionStats(ctx context.Context, userID string) ([]*models.CollectionStats, error)
	SearchStats(ctx context.Context, userID string, recent int) (*models.SearchStats, []*models.SearchSession, error)
}

// Repository is the full persistence surface of the service.
type Repository interface {
	MindOpStore
	FollowStore
	CollaborationStore
	VectorStore
	Ping(ctx context.Context) error
}
