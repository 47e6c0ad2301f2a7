package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

// MockStore satisfies repository.Repository.
type MockStore struct {
	mock.Mock
}

func ret[T any](args mock.Arguments) (T, error) {
	var zero T
	if args.Get(0) == nil {
		return zero, args.Error(1)
	}
	return args.Get(0).(T), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockStore) GetMindOp(ctx context.Context, id string) (*models.MindOp, error) {
	return ret[*models.MindOp](m.Called(ctx, id))
}

func (m *MockStore) GetMindOpByUser(ctx context.Context, userID string) (*models.MindOp, error) {
	return ret[*models.MindOp](m.Called(ctx, userID))
}

func (m *MockStore) UpsertMindOp(ctx context.Context, mindop *models.MindOp) (bool, error) {
	args := m.Called(ctx, mindop)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) SearchMindOps(ctx context.Context, term, excludeUserID string, limit int) ([]*models.MindOp, error) {
	return ret[[]*models.MindOp](m.Called(ctx, term, excludeUserID, limit))
}

func (m *MockStore) UpsertFollowRequest(ctx context.Context, req *models.FollowRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockStore) GetFollowRequest(ctx context.Context, id string) (*models.FollowRequest, error) {
	return ret[*models.FollowRequest](m.Called(ctx, id))
}

func (m *MockStore) ListFollowRequests(ctx context.Context, filter models.FollowRequestFilter) ([]*models.FollowRequest, error) {
	return ret[[]*models.FollowRequest](m.Called(ctx, filter))
}

func (m *MockStore) SetFollowStatus(ctx context.Context, id string, from, to models.FollowStatus) (*models.FollowRequest, error) {
	return ret[*models.FollowRequest](m.Called(ctx, id, from, to))
}

func (m *MockStore) HasApprovedFollow(ctx context.Context, requesterMindOpID, targetMindOpID string) (bool, error) {
	args := m.Called(ctx, requesterMindOpID, targetMindOpID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) CreateTask(ctx context.Context, task *models.CollaborationTask) error {
	return m.Called(ctx, task).Error(0)
}

func (m *MockStore) GetTask(ctx context.Context, id string) (*models.CollaborationTask, error) {
	return ret[*models.CollaborationTask](m.Called(ctx, id))
}

func (m *MockStore) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.CollaborationTask, error) {
	return ret[[]*models.CollaborationTask](m.Called(ctx, filter))
}

func (m *MockStore) TransitionTask(ctx context.Context, id string, from []models.TaskStatus, update models.TaskUpdate) (*models.CollaborationTask, error) {
	return ret[*models.CollaborationTask](m.Called(ctx, id, from, update))
}

func (m *MockStore) ClaimPendingTasks(ctx context.Context, limit int) ([]*models.CollaborationTask, error) {
	return ret[[]*models.CollaborationTask](m.Called(ctx, limit))
}

func (m *MockStore) ResetStaleTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) CreateCollection(ctx context.Context, c *models.Collection) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockStore) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	return ret[*models.Collection](m.Called(ctx, id))
}

func (m *MockStore) GetCollectionByMindOp(ctx context.Context, mindopID string) (*models.Collection, error) {
	return ret[*models.Collection](m.Called(ctx, mindopID))
}

func (m *MockStore) ListCollections(ctx context.Context, userID string) ([]*models.Collection, error) {
	return ret[[]*models.Collection](m.Called(ctx, userID))
}

func (m *MockStore) DeleteCollection(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStore) InsertDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error {
	return m.Called(ctx, doc, chunks).Error(0)
}

func (m *MockStore) InsertDocuments(ctx context.Context, docs []*models.Document, chunks [][]*models.Chunk) error {
	return m.Called(ctx, docs, chunks).Error(0)
}

func (m *MockStore) MatchEmbeddings(ctx context.Context, q models.MatchQuery) ([]*models.SearchHit, error) {
	return ret[[]*models.SearchHit](m.Called(ctx, q))
}

func (m *MockStore) RecordSearchSession(ctx context.Context, s *models.SearchSession) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockStore) CollectionStats(ctx context.Context, userID string) ([]*models.CollectionStats, error) {
	return ret[[]*models.CollectionStats](m.Called(ctx, userID))
}

func (m *MockStore) SearchStats(ctx context.Context, userID string, recent int) (*models.SearchStats, []*models.SearchSession, error) {
	args := m.Called(ctx, userID, recent)
	var stats *models.SearchStats
	if args.Get(0) != nil {
		stats = args.Get(0).(*models.SearchStats)
	}
	var sessions []*models.SearchSession
	if args.Get(1) != nil {
		sessions = args.Get(1).([]*models.SearchSession)
	}
	return stats, sessions, args.Error(2)
}

// fakeEmbedder returns a fixed-size vector per text and records the calls.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
	// failOn makes any batch containing this substring fail.
	failOn string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	for _, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, apperr.Unavailable(nil, "embedding provider rejected %q", f.failOn)
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return out, nil
}

type fakeGenerator struct {
	system, prompt string
	reply          string
	err            error
}

func (f *fakeGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	return f.reply, f.err
}

func (f *fakeGenerator) Model() string { return "fake-model" }
