package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

func setupStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Migrate on a throwaway pool so the real pool registers vector types
	// on connect.
	bootstrap, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	applied, err := Migrate(ctx, bootstrap)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	again, err := Migrate(ctx, bootstrap)
	require.NoError(t, err)
	require.Empty(t, again)
	bootstrap.Close()

	pool, err := NewPool(ctx, connStr, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewPostgresStore(pool)
}

func newMindOp(t *testing.T, store *PostgresStore, name string) *models.MindOp {
	t.Helper()
	m := &models.MindOp{UserID: uuid.New().String(), Name: name}
	created, err := store.UpsertMindOp(context.Background(), m)
	require.NoError(t, err)
	require.True(t, created)
	return m
}

func TestPostgresStore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	t.Run("MindOp upsert keeps one per user", func(t *testing.T) {
		m := newMindOp(t, store, "Sales Ops")
		desc := "quarterly numbers"
		update := &models.MindOp{UserID: m.UserID, Name: "Sales Ops v2", Description: &desc}
		created, err := store.UpsertMindOp(ctx, update)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, m.ID, update.ID)

		got, err := store.GetMindOpByUser(ctx, m.UserID)
		require.NoError(t, err)
		assert.Equal(t, "Sales Ops v2", got.Name)
		require.NotNil(t, got.Description)
		assert.Equal(t, desc, *got.Description)

		_, err = store.GetMindOp(ctx, uuid.New().String())
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("SearchMindOps excludes caller and escapes wildcards", func(t *testing.T) {
		mine := newMindOp(t, store, "Marketing 100% Data")
		newMindOp(t, store, "Marketing Team")
		newMindOp(t, store, "Finance")

		found, err := store.SearchMindOps(ctx, "marketing", mine.UserID, 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "Marketing Team", found[0].Name)

		found, err = store.SearchMindOps(ctx, "100%", "", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, mine.ID, found[0].ID)
	})

	t.Run("Follow requests", func(t *testing.T) {
		a := newMindOp(t, store, "Alpha")
		b := newMindOp(t, store, "Beta")

		req := &models.FollowRequest{RequesterMindOpID: a.ID, TargetMindOpID: b.ID}
		require.NoError(t, store.UpsertFollowRequest(ctx, req))
		assert.Equal(t, models.FollowPending, req.Status)

		ok, err := store.HasApprovedFollow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.SetFollowStatus(ctx, req.ID, models.FollowPending, models.FollowRejected)
		require.NoError(t, err)
		_, err = store.SetFollowStatus(ctx, req.ID, models.FollowPending, models.FollowApproved)
		assert.True(t, apperr.IsConflict(err))

		again := &models.FollowRequest{RequesterMindOpID: a.ID, TargetMindOpID: b.ID}
		require.NoError(t, store.UpsertFollowRequest(ctx, again))
		assert.Equal(t, req.ID, again.ID)
		assert.Equal(t, models.FollowPending, again.Status)

		_, err = store.SetFollowStatus(ctx, req.ID, models.FollowPending, models.FollowApproved)
		require.NoError(t, err)
		ok, err = store.HasApprovedFollow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		incoming, err := store.ListFollowRequests(ctx, models.FollowRequestFilter{TargetMindOpID: b.ID, Status: models.FollowApproved})
		require.NoError(t, err)
		require.Len(t, incoming, 1)

		self := &models.FollowRequest{RequesterMindOpID: a.ID, TargetMindOpID: a.ID}
		err = store.UpsertFollowRequest(ctx, self)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("Collaboration lifecycle", func(t *testing.T) {
		requester := newMindOp(t, store, "Requester")
		target := newMindOp(t, store, "Target")

		task := &models.CollaborationTask{
			RequesterMindOpID: requester.ID,
			TargetMindOpID:    target.ID,
			Query:             "what were Q3 sales?",
			Metadata:          models.Metadata{"source": "test"},
		}
		require.NoError(t, store.CreateTask(ctx, task))
		assert.Equal(t, models.TaskPending, task.Status)

		claimed, err := store.ClaimPendingTasks(ctx, 5)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, models.TaskProcessing, claimed[0].Status)
		assert.Equal(t, 1, claimed[0].Attempts)

		none, err := store.ClaimPendingTasks(ctx, 5)
		require.NoError(t, err)
		assert.Empty(t, none)

		response := "42"
		done, err := store.TransitionTask(ctx, task.ID, []models.TaskStatus{models.TaskProcessing}, models.TaskUpdate{
			Status:     models.TaskComplete,
			Response:   &response,
			ClearError: true,
			Metadata:   models.Metadata{"model": "test"},
		})
		require.NoError(t, err)
		assert.Equal(t, models.TaskComplete, done.Status)
		assert.Equal(t, "test", done.Metadata["source"])
		assert.Equal(t, "test", done.Metadata["model"])

		// A second delivery from a stale read must not win.
		_, err = store.TransitionTask(ctx, task.ID, []models.TaskStatus{models.TaskComplete}, models.TaskUpdate{Status: models.TaskDelivered})
		require.NoError(t, err)
		_, err = store.TransitionTask(ctx, task.ID, []models.TaskStatus{models.TaskComplete}, models.TaskUpdate{Status: models.TaskDelivered})
		assert.True(t, apperr.IsConflict(err))

		listed, err := store.ListTasks(ctx, models.TaskFilter{RequesterMindOpID: requester.ID, Statuses: []models.TaskStatus{models.TaskDelivered}})
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, "42", *listed[0].Response)
	})

	t.Run("ResetStaleTasks", func(t *testing.T) {
		requester := newMindOp(t, store, "Stale Requester")
		target := newMindOp(t, store, "Stale Target")
		task := &models.CollaborationTask{RequesterMindOpID: requester.ID, TargetMindOpID: target.ID, Query: "q"}
		require.NoError(t, store.CreateTask(ctx, task))
		_, err := store.TransitionTask(ctx, task.ID, []models.TaskStatus{models.TaskPending}, models.TaskUpdate{Status: models.TaskProcessing, IncrementAttempts: true})
		require.NoError(t, err)

		n, err := store.ResetStaleTasks(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		got, err := store.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskPending, got.Status)
		assert.Equal(t, true, got.Metadata["requeued"])

		// The worker that lost the lease finishes late and must not overwrite the requeued task.
		late := "too late"
		_, err = store.TransitionTask(ctx, task.ID, []models.TaskStatus{models.TaskProcessing}, models.TaskUpdate{
			Status:   models.TaskComplete,
			Response: &late,
		})
		assert.True(t, apperr.IsConflict(err))

		got, err = store.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskPending, got.Status)
		assert.Nil(t, got.Response)
	})

	t.Run("Vectors", func(t *testing.T) {
		owner := newMindOp(t, store, "Vector Owner")
		mindopID := owner.ID
		col := &models.Collection{UserID: owner.UserID, MindOpID: &mindopID, Name: owner.DefaultCollectionName()}
		require.NoError(t, store.CreateCollection(ctx, col))

		byMindOp, err := store.GetCollectionByMindOp(ctx, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, col.ID, byMindOp.ID)

		doc := &models.Document{CollectionID: col.ID, UserID: owner.UserID, Title: "row 1", Content: "apples and pears"}
		chunks := []*models.Chunk{
			{Index: 0, Content: "apples", Embedding: []float32{1, 0, 0}},
			{Index: 1, Content: "pears", Embedding: []float32{0, 1, 0}},
		}
		require.NoError(t, store.InsertDocument(ctx, doc, chunks))
		assert.NotEmpty(t, chunks[0].ID)

		hits, err := store.MatchEmbeddings(ctx, models.MatchQuery{
			Embedding:    []float32{0.9, 0.1, 0},
			Threshold:    0.5,
			Limit:        5,
			CollectionID: col.ID,
		})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "apples", hits[0].Content)
		assert.Equal(t, "row 1", hits[0].DocumentTitle)

		hits, err = store.MatchEmbeddings(ctx, models.MatchQuery{Embedding: []float32{0, 1, 0}, Limit: 5, UserID: uuid.New().String()})
		require.NoError(t, err)
		assert.Empty(t, hits)

		cid := col.ID
		require.NoError(t, store.RecordSearchSession(ctx, &models.SearchSession{UserID: owner.UserID, CollectionID: &cid, Query: "apples", ResultCount: 1, TookMs: 12}))
		stats, recent, err := store.SearchStats(ctx, owner.UserID, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalSearches)
		assert.InDelta(t, 12, stats.AvgTookMs, 0.001)
		require.Len(t, recent, 1)

		cstats, err := store.CollectionStats(ctx, owner.UserID)
		require.NoError(t, err)
		require.Len(t, cstats, 1)
		assert.Equal(t, int64(1), cstats[0].DocumentCount)
		assert.Equal(t, int64(2), cstats[0].ChunkCount)

		require.NoError(t, store.DeleteCollection(ctx, col.ID))
		assert.True(t, apperr.IsNotFound(store.DeleteCollection(ctx, col.ID)))
	})

	t.Run("InsertDocuments is atomic", func(t *testing.T) {
		owner := newMindOp(t, store, "Batch Owner")
		col := &models.Collection{UserID: owner.UserID, Name: "batch"}
		require.NoError(t, store.CreateCollection(ctx, col))

		good := &models.Document{CollectionID: col.ID, UserID: owner.UserID, Title: "row 1", Content: "a"}
		orphan := &models.Document{CollectionID: uuid.New().String(), UserID: owner.UserID, Title: "row 2", Content: "b"}
		err := store.InsertDocuments(ctx, []*models.Document{good, orphan}, [][]*models.Chunk{
			{{Index: 0, Content: "a", Embedding: []float32{1, 0, 0}}},
			{{Index: 0, Content: "b", Embedding: []float32{0, 1, 0}}},
		})
		require.Error(t, err)
		assert.Empty(t, good.ID)

		cstats, err := store.CollectionStats(ctx, owner.UserID)
		require.NoError(t, err)
		require.Len(t, cstats, 1)
		assert.Zero(t, cstats[0].DocumentCount)
		assert.Zero(t, cstats[0].ChunkCount)

		err = store.InsertDocuments(ctx, []*models.Document{good}, nil)
		assert.True(t, apperr.IsKind(err, apperr.KindInternal))
	})
}
