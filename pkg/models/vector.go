package models

import (
	"time"
)

// Collection groups documents for retrieval. A MindOp's ingested data lives
// in a collection linked through MindOpID.
type Collection struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	MindOpID    *string   `json:"mindop_id,omitempty"`
	Name        string    `json:"name" validate:"required,max=200"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document is a unit of ingested text.
type Document struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Chunk is an embedded slice of a document.
type Chunk struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	CollectionID string    `json:"collection_id"`
	Index        int       `json:"chunk_index"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"-"`
}

// MatchQuery are the arguments of the similarity search RPC.
type MatchQuery struct {
	Embedding    []float32
	Threshold    float64
	Limit        int
	CollectionID string
	UserID       string
}

// SearchHit is a chunk returned by similarity search.
type SearchHit struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	CollectionID  string  `json:"collection_id"`
	DocumentTitle string  `json:"document_title"`
	ChunkIndex    int     `json:"chunk_index"`
	Content       string  `json:"content"`
	Similarity    float64 `json:"similarity"`
}

// SearchRequest is the input of a semantic search.
type SearchRequest struct {
	Query        string  `json:"query" validate:"required,max=4000"`
	CollectionID string  `json:"collection_id,omitempty" validate:"omitempty,uuid"`
	Limit        int     `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
	Threshold    float64 `json:"threshold,omitempty" validate:"omitempty,min=0,max=1"`
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Query   string       `json:"query"`
	Results []*SearchHit `json:"results"`
	TookMs  int64        `json:"took_ms"`
}

// SearchSession records one executed search for analytics.
type SearchSession struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CollectionID *string   `json:"collection_id,omitempty"`
	Query        string    `json:"query"`
	ResultCount  int       `json:"result_count"`
	TookMs       int64     `json:"took_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// CollectionStats summarises the contents of one collection.
type CollectionStats struct {
	CollectionID  string `json:"collection_id"`
	Name          string `json:"name"`
	DocumentCount int64  `json:"document_count"`
	ChunkCount    int64  `json:"chunk_count"`
}

// SearchStats summarises a user's search history.
type SearchStats struct {
	TotalSearches int64   `json:"total_searches"`
	AvgTookMs     float64 `json:"avg_took_ms"`
}

// Analytics is the output of the vector-analytics function.
type Analytics struct {
	Collections    []*CollectionStats `json:"collections"`
	Searches       SearchStats        `json:"searches"`
	RecentSearches []*SearchSession   `json:"recent_searches"`
}

// IngestRequest adds a document to a collection.
type IngestRequest struct {
	CollectionID string   `json:"collection_id" validate:"required,uuid"`
	Title        string   `json:"title" validate:"required,max=500"`
	Content      string   `json:"content" validate:"required"`
	Metadata     Metadata `json:"metadata,omitempty"`
}

// IngestResult reports what an ingestion stored.
type IngestResult struct {
	DocumentIDs []string `json:"document_ids"`
	Chunks      int      `json:"chunks"`
	Rows        int      `json:"rows,omitempty"`
}
