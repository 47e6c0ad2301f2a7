package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/internal/repository"
	"mindgrate/backend/pkg/models"
)

const (
	maxEmbedTexts  = 100
	embedBatchSize = 64
)

// VectorConfig holds chunking and retrieval settings.
type VectorConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MatchThreshold float64
	MatchCount     int
}

// VectorService embeds documents and runs similarity search over them.
type VectorService struct {
	store    repository.VectorStore
	embedder Embedder
	cfg      VectorConfig
	logger   Logger
	metrics  *instruments
}

// NewVectorService creates a new VectorService.
func NewVectorService(store repository.VectorStore, embedder Embedder, cfg VectorConfig, logger Logger) *VectorService {
	if logger == nil {
		logger = nopLogger{}
	}
	return &VectorService{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		metrics:  newInstruments(),
	}
}

// Embed passes texts straight through to the embedding provider.
func (s *VectorService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apperr.Validation("texts must not be empty")
	}
	if len(texts) > maxEmbedTexts {
		return nil, apperr.Validation("at most %d texts per request", maxEmbedTexts)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, apperr.Validation("texts[%d] is blank", i)
		}
	}
	return s.embedder.Embed(ctx, texts)
}

// CreateCollection creates a collection owned by userID.
func (s *VectorService) CreateCollection(ctx context.Context, userID, name string, description *string) (*models.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("collection name is required")
	}
	c := &models.Collection{UserID: userID, Name: name, Description: description}
	if err := s.store.CreateCollection(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCollections lists the collections owned by userID.
func (s *VectorService) ListCollections(ctx context.Context, userID string) ([]*models.Collection, error) {
	return s.store.ListCollections(ctx, userID)
}

// DeleteCollection deletes a collection owned by userID.
func (s *VectorService) DeleteCollection(ctx context.Context, userID, id string) error {
	if _, err := s.ownedCollection(ctx, userID, id); err != nil {
		return err
	}
	return s.store.DeleteCollection(ctx, id)
}

func (s *VectorService) ownedCollection(ctx context.Context, userID, id string) (*models.Collection, error) {
	c, err := s.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, apperr.Forbidden("collection belongs to another user")
	}
	return c, nil
}

// MindOpCollection returns the collection linked to a MindOp.
func (s *VectorService) MindOpCollection(ctx context.Context, mindopID string) (*models.Collection, error) {
	return s.store.GetCollectionByMindOp(ctx, mindopID)
}

// EnsureMindOpCollection returns m's collection, creating it if needed.
func (s *VectorService) EnsureMindOpCollection(ctx context.Context, m *models.MindOp) (*models.Collection, error) {
	c, err := s.store.GetCollectionByMindOp(ctx, m.ID)
	if err == nil || !apperr.IsNotFound(err) {
		return c, err
	}
	desc := fmt.Sprintf("Spreadsheet data for %s", m.Name)
	c = &models.Collection{UserID: m.UserID, MindOpID: &m.ID, Name: m.DefaultCollectionName(), Description: &desc}
	if err := s.store.CreateCollection(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// IngestDocument chunks, embeds and stores a document in one of the
// caller's collections.
func (s *VectorService) IngestDocument(ctx context.Context, userID string, req models.IngestRequest) (*models.IngestResult, error) {
	col, err := s.ownedCollection(ctx, userID, req.CollectionID)
	if err != nil {
		return nil, err
	}
	doc := &models.Document{
		CollectionID: col.ID,
		UserID:       userID,
		Title:        req.Title,
		Content:      req.Content,
		Metadata:     req.Metadata,
	}
	n, err := s.storeDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &models.IngestResult{DocumentIDs: []string{doc.ID}, Chunks: n}, nil
}

// storeDocument embeds doc's content and persists it with its chunks.
func (s *VectorService) storeDocument(ctx context.Context, doc *models.Document) (int, error) {
	chunks, err := s.embedDocument(ctx, doc)
	if err != nil {
		return 0, err
	}
	if err := s.store.InsertDocument(ctx, doc, chunks); err != nil {
		return 0, err
	}
	s.metrics.chunksEmbedded.Add(ctx, int64(len(chunks)))
	s.logger.Debug("document stored", "document_id", doc.ID, "collection_id", doc.CollectionID, "chunks", len(chunks))
	return len(chunks), nil
}

// storeDocuments embeds every document before storing any, then stores them
// all in one transaction.
func (s *VectorService) storeDocuments(ctx context.Context, docs []*models.Document, concurrency int) (int, error) {
	chunks := make([][]*models.Chunk, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			c, err := s.embedDocument(gctx, doc)
			chunks[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := s.store.InsertDocuments(ctx, docs, chunks); err != nil {
		return 0, err
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	s.metrics.chunksEmbedded.Add(ctx, int64(total))
	s.logger.Debug("documents stored", "documents", len(docs), "chunks", total)
	return total, nil
}

// embedDocument splits doc's content into chunks and embeds them.
func (s *VectorService) embedDocument(ctx context.Context, doc *models.Document) ([]*models.Chunk, error) {
	texts, err := ChunkText(doc.Content, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		return nil, apperr.Internal(err, "chunking %q", doc.Title)
	}
	if len(texts) == 0 {
		return nil, apperr.Validation("document %q has no content", doc.Title)
	}

	chunks := make([]*models.Chunk, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		vectors, err := s.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding %q: %w", doc.Title, err)
		}
		for i, v := range vectors {
			chunks = append(chunks, &models.Chunk{Index: start + i, Content: texts[start+i], Embedding: v})
		}
	}
	return chunks, nil
}

// Search runs a semantic search over the caller's documents, optionally
// restricted to one collection, and records the search.
func (s *VectorService) Search(ctx context.Context, userID string, req models.SearchRequest) (*models.SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperr.Validation("query is required")
	}
	var collectionID *string
	if req.CollectionID != "" {
		if _, err := s.ownedCollection(ctx, userID, req.CollectionID); err != nil {
			return nil, err
		}
		collectionID = &req.CollectionID
	}

	started := time.Now()
	hits, err := s.match(ctx, req.Query, models.MatchQuery{
		Threshold:    s.threshold(req.Threshold),
		Limit:        s.limit(req.Limit),
		CollectionID: req.CollectionID,
		UserID:       userID,
	})
	if err != nil {
		return nil, err
	}
	took := time.Since(started).Milliseconds()
	s.metrics.searchDuration.Record(ctx, float64(took))

	session := &models.SearchSession{
		UserID:       userID,
		CollectionID: collectionID,
		Query:        req.Query,
		ResultCount:  len(hits),
		TookMs:       took,
	}
	if err := s.store.RecordSearchSession(ctx, session); err != nil {
		// Analytics only; the caller still gets results.
		s.logger.Warn("failed to record search session", "error", err)
	}

	return &models.SearchResponse{Query: req.Query, Results: hits, TookMs: took}, nil
}

// SearchCollection searches one collection without ownership checks or
// analytics. Callers must have authorised access to the collection.
func (s *VectorService) SearchCollection(ctx context.Context, collectionID, query string) ([]*models.SearchHit, error) {
	return s.match(ctx, query, models.MatchQuery{
		Threshold:    s.cfg.MatchThreshold,
		Limit:        s.cfg.MatchCount,
		CollectionID: collectionID,
	})
}

func (s *VectorService) match(ctx context.Context, query string, q models.MatchQuery) ([]*models.SearchHit, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	q.Embedding = vectors[0]
	hits, err := s.store.MatchEmbeddings(ctx, q)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []*models.SearchHit{}
	}
	return hits, nil
}

func (s *VectorService) threshold(requested float64) float64 {
	if requested > 0 {
		return requested
	}
	return s.cfg.MatchThreshold
}

func (s *VectorService) limit(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.cfg.MatchCount
}

// Analytics summarises the caller's collections and search history.
func (s *VectorService) Analytics(ctx context.Context, userID string) (*models.Analytics, error) {
	collections, err := s.store.CollectionStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats, recent, err := s.store.SearchStats(ctx, userID, 10)
	if err != nil {
		return nil, err
	}
	if collections == nil {
		collections = []*models.CollectionStats{}
	}
	if recent == nil {
		recent = []*models.SearchSession{}
	}
	return &models.Analytics{Collections: collections, Searches: *stats, RecentSearches: recent}, nil
}
