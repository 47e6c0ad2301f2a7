package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

const collectionColumns = "id, user_id, mindop_id, name, description, created_at"

func scanCollection(row pgx.Row) (*models.Collection, error) {
	var c models.Collection
	if err := row.Scan(&c.ID, &c.UserID, &c.MindOpID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCollection inserts a collection.
func (s *PostgresStore) CreateCollection(ctx context.Context, c *models.Collection) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO vectors.collections (user_id, mindop_id, name, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		c.UserID, c.MindOpID, c.Name, c.Description,
	).Scan(&c.ID, &c.CreatedAt)
	return translate(err, "collection")
}

// GetCollection retrieves a collection by its ID.
func (s *PostgresStore) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	c, err := scanCollection(s.db.QueryRow(ctx, "SELECT "+collectionColumns+" FROM vectors.collections WHERE id = $1", id))
	return c, translate(err, "collection")
}

// GetCollectionByMindOp retrieves the collection holding a MindOp's data.
func (s *PostgresStore) GetCollectionByMindOp(ctx context.Context, mindopID string) (*models.Collection, error) {
	c, err := scanCollection(s.db.QueryRow(ctx, "SELECT "+collectionColumns+" FROM vectors.collections WHERE mindop_id = $1", mindopID))
	return c, translate(err, "collection")
}

// ListCollections lists a user's collections by name.
func (s *PostgresStore) ListCollections(ctx context.Context, userID string) ([]*models.Collection, error) {
	return queryRows(ctx, s.db, "collection", scanCollection,
		"SELECT "+collectionColumns+" FROM vectors.collections WHERE user_id = $1 ORDER BY name", userID)
}

// DeleteCollection removes a collection with its documents and embeddings.
func (s *PostgresStore) DeleteCollection(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM vectors.collections WHERE id = $1", id)
	if err != nil {
		return translate(err, "collection")
	}
	if tag.RowsAffected() == 0 {
		return translate(pgx.ErrNoRows, "collection")
	}
	return nil
}

// InsertDocument stores a document and its chunks in one transaction.
func (s *PostgresStore) InsertDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error {
	return s.InsertDocuments(ctx, []*models.Document{doc}, [][]*models.Chunk{chunks})
}

// InsertDocuments stores documents and their chunks in one transaction.
// Either every document is stored or none is.
func (s *PostgresStore) InsertDocuments(ctx context.Context, docs []*models.Document, chunks [][]*models.Chunk) error {
	if len(docs) != len(chunks) {
		return apperr.Internal(nil, "%d documents with %d chunk sets", len(docs), len(chunks))
	}
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for i, doc := range docs {
			if err := insertDocument(ctx, tx, doc, chunks[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for _, doc := range docs {
			doc.ID = ""
		}
	}
	return translate(err, "document")
}

func insertDocument(ctx context.Context, tx pgx.Tx, doc *models.Document, chunks []*models.Chunk) error {
	if doc.Metadata == nil {
		doc.Metadata = models.Metadata{}
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO vectors.documents (collection_id, user_id, title, content, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		doc.CollectionID, doc.UserID, doc.Title, doc.Content, doc.Metadata,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		c.DocumentID = doc.ID
		c.CollectionID = doc.CollectionID
		batch.Queue(`
			INSERT INTO vectors.embeddings (document_id, collection_id, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			c.DocumentID, c.CollectionID, c.Index, c.Content, pgvector.NewVector(c.Embedding),
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&c.ID)
		})
	}
	return tx.SendBatch(ctx, batch).Close()
}

// MatchEmbeddings calls the similarity search function.
func (s *PostgresStore) MatchEmbeddings(ctx context.Context, q models.MatchQuery) ([]*models.SearchHit, error) {
	return queryRows(ctx, s.db, "embedding", func(row pgx.Row) (*models.SearchHit, error) {
		var h models.SearchHit
		err := row.Scan(&h.ChunkID, &h.DocumentID, &h.CollectionID, &h.DocumentTitle, &h.ChunkIndex, &h.Content, &h.Similarity)
		return &h, err
	}, `
		SELECT id, document_id, collection_id, document_title, chunk_index, content, similarity
		FROM vectors.match_embeddings($1, $2, $3, NULLIF($4, '')::uuid, NULLIF($5, '')::uuid)`,
		pgvector.NewVector(q.Embedding), q.Threshold, clampLimit(q.Limit, 8, 100), q.CollectionID, q.UserID)
}

// RecordSearchSession stores one search for analytics.
func (s *PostgresStore) RecordSearchSession(ctx context.Context, ss *models.SearchSession) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO vectors.search_sessions (user_id, collection_id, query, result_count, took_ms)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		ss.UserID, ss.CollectionID, ss.Query, ss.ResultCount, ss.TookMs,
	).Scan(&ss.ID, &ss.CreatedAt)
	return translate(err, "search session")
}

// CollectionStats counts documents and chunks per collection of a user.
func (s *PostgresStore) CollectionStats(ctx context.Context, userID string) ([]*models.CollectionStats, error) {
	return queryRows(ctx, s.db, "collection", func(row pgx.Row) (*models.CollectionStats, error) {
		var st models.CollectionStats
		err := row.Scan(&st.CollectionID, &st.Name, &st.DocumentCount, &st.ChunkCount)
		return &st, err
	}, `
		SELECT c.id, c.name,
		       (SELECT count(*) FROM vectors.documents d WHERE d.collection_id = c.id),
		       (SELECT count(*) FROM vectors.embeddings e WHERE e.collection_id = c.id)
		FROM vectors.collections c
		WHERE c.user_id = $1
		ORDER BY c.name`, userID)
}

// SearchStats aggregates a user's searches and returns the most recent ones.
func (s *PostgresStore) SearchStats(ctx context.Context, userID string, recent int) (*models.SearchStats, []*models.SearchSession, error) {
	var st models.SearchStats
	err := s.db.QueryRow(ctx, `
		SELECT count(*), COALESCE(avg(took_ms), 0)::float8
		FROM vectors.search_sessions WHERE user_id = $1`, userID,
	).Scan(&st.TotalSearches, &st.AvgTookMs)
	if err != nil {
		return nil, nil, translate(err, "search session")
	}

	sessions, err := queryRows(ctx, s.db, "search session", func(row pgx.Row) (*models.SearchSession, error) {
		var ss models.SearchSession
		err := row.Scan(&ss.ID, &ss.UserID, &ss.CollectionID, &ss.Query, &ss.ResultCount, &ss.TookMs, &ss.CreatedAt)
		return &ss, err
	}, `
		SELECT id, user_id, collection_id, query, result_count, took_ms, created_at
		FROM vectors.search_sessions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, clampLimit(recent, 10, 100))
	if err != nil {
		return nil, nil, err
	}
	return &st, sessions, nil
}
