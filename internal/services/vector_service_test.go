package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

func newVectorFixture() (*MockStore, *fakeEmbedder, *VectorService) {
	store := new(MockStore)
	emb := &fakeEmbedder{}
	svc := NewVectorService(store, emb, VectorConfig{ChunkSize: 40, ChunkOverlap: 5, MatchThreshold: 0.3, MatchCount: 8}, nil)
	return store, emb, svc
}

func TestVectorService_Embed(t *testing.T) {
	_, emb, svc := newVectorFixture()

	_, err := svc.Embed(context.Background(), nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	_, err = svc.Embed(context.Background(), []string{"ok", " "})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	_, err = svc.Embed(context.Background(), make([]string, maxEmbedTexts+1))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	vectors, err := svc.Embed(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Len(t, emb.calls, 1)
}

func TestVectorService_IngestDocument(t *testing.T) {
	store, emb, svc := newVectorFixture()
	store.On("GetCollection", mock.Anything, collectionID).Return(&models.Collection{ID: collectionID, UserID: "alice"}, nil)

	_, err := svc.IngestDocument(context.Background(), "mallory", models.IngestRequest{CollectionID: collectionID, Title: "t", Content: "c"})
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	var stored []*models.Chunk
	store.On("InsertDocument", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Document).ID = "doc-1"
		stored = args.Get(2).([]*models.Chunk)
	}).Return(nil)

	content := strings.Repeat("lorem ipsum dolor sit amet ", 10)
	result, err := svc.IngestDocument(context.Background(), "alice", models.IngestRequest{
		CollectionID: collectionID, Title: "notes", Content: content,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, result.DocumentIDs)
	assert.Equal(t, len(stored), result.Chunks)
	require.Greater(t, len(stored), 1)
	for i, c := range stored {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.Embedding)
	}
	assert.Len(t, emb.calls, 1)
}

func TestVectorService_IngestDocumentBlank(t *testing.T) {
	store, _, svc := newVectorFixture()
	store.On("GetCollection", mock.Anything, collectionID).Return(&models.Collection{ID: collectionID, UserID: "alice"}, nil)

	_, err := svc.IngestDocument(context.Background(), "alice", models.IngestRequest{CollectionID: collectionID, Title: "empty", Content: "   "})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	store.AssertNotCalled(t, "InsertDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestVectorService_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("records a session", func(t *testing.T) {
		store, _, svc := newVectorFixture()
		store.On("MatchEmbeddings", mock.Anything, mock.MatchedBy(func(q models.MatchQuery) bool {
			return q.UserID == "alice" && q.CollectionID == "" && q.Limit == 3 && q.Threshold == 0.3
		})).Return([]*models.SearchHit{{ChunkID: "c1"}, {ChunkID: "c2"}}, nil)
		store.On("RecordSearchSession", mock.Anything, mock.MatchedBy(func(s *models.SearchSession) bool {
			return s.UserID == "alice" && s.ResultCount == 2 && s.CollectionID == nil && s.Query == "revenue"
		})).Return(nil)

		resp, err := svc.Search(ctx, "alice", models.SearchRequest{Query: "revenue", Limit: 3})
		require.NoError(t, err)
		assert.Len(t, resp.Results, 2)
		store.AssertExpectations(t)
	})

	t.Run("session failure does not fail the search", func(t *testing.T) {
		store, _, svc := newVectorFixture()
		store.On("GetCollection", mock.Anything, collectionID).Return(&models.Collection{ID: collectionID, UserID: "alice"}, nil)
		store.On("MatchEmbeddings", mock.Anything, mock.Anything).Return(nil, nil)
		store.On("RecordSearchSession", mock.Anything, mock.Anything).Return(apperr.Unavailable(nil, "db down"))

		resp, err := svc.Search(ctx, "alice", models.SearchRequest{Query: "revenue", CollectionID: collectionID, Threshold: 0.8})
		require.NoError(t, err)
		assert.NotNil(t, resp.Results)
		assert.Empty(t, resp.Results)
	})

	t.Run("foreign collection", func(t *testing.T) {
		store, _, svc := newVectorFixture()
		store.On("GetCollection", mock.Anything, collectionID).Return(&models.Collection{ID: collectionID, UserID: "bob"}, nil)

		_, err := svc.Search(ctx, "alice", models.SearchRequest{Query: "revenue", CollectionID: collectionID})
		assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	})
}

func TestVectorService_DeleteCollection(t *testing.T) {
	store, _, svc := newVectorFixture()
	store.On("GetCollection", mock.Anything, collectionID).Return(&models.Collection{ID: collectionID, UserID: "alice"}, nil)
	store.On("DeleteCollection", mock.Anything, collectionID).Return(nil).Once()

	assert.True(t, apperr.IsKind(svc.DeleteCollection(context.Background(), "bob", collectionID), apperr.KindForbidden))
	require.NoError(t, svc.DeleteCollection(context.Background(), "alice", collectionID))
	store.AssertExpectations(t)
}

func TestVectorService_Analytics(t *testing.T) {
	store, _, svc := newVectorFixture()
	store.On("CollectionStats", mock.Anything, "alice").Return(nil, nil)
	store.On("SearchStats", mock.Anything, "alice", 10).Return(&models.SearchStats{TotalSearches: 4, AvgTookMs: 12.5}, nil, nil)

	a, err := svc.Analytics(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotNil(t, a.Collections)
	assert.NotNil(t, a.RecentSearches)
	assert.Equal(t, int64(4), a.Searches.TotalSearches)
}
