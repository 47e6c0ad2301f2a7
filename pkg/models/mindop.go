package models

import (
	"time"
)

// MindOp is a user's named data profile. Each user owns at most one.
type MindOp struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultCollectionName is the name of the collection holding a MindOp's
// ingested spreadsheet data.
func (m *MindOp) DefaultCollectionName() string {
	return m.Name + " data"
}

// QueryMode selects how a MindOp query is answered.
type QueryMode string

const (
	QueryModeMindOp        QueryMode = "mindop"
	QueryModeCollaboration QueryMode = "collaboration"
)

// QueryRequest is the input of the mindop-service function.
type QueryRequest struct {
	Query          string    `json:"query" validate:"required,max=4000"`
	Mode           QueryMode `json:"mode,omitempty" validate:"omitempty,oneof=mindop collaboration"`
	TargetMindOpID string    `json:"target_mindop_id,omitempty" validate:"omitempty,uuid"`
	Metadata       Metadata  `json:"metadata,omitempty"`
	// Sync processes a collaboration task inline instead of leaving it to the worker.
	Sync bool `json:"sync,omitempty"`
}

// QueryResponse is the output of the mindop-service function. Exactly one of
// Answer or Task is set depending on the mode.
type QueryResponse struct {
	Mode   QueryMode          `json:"mode"`
	Answer *Answer            `json:"answer,omitempty"`
	Task   *CollaborationTask `json:"task,omitempty"`
	MindOp *MindOp            `json:"mindop,omitempty"`
	TookMs int64              `json:"took_ms"`
}

// Answer is a generated reply grounded on retrieved chunks.
type Answer struct {
	Text    string       `json:"text"`
	Sources []*SearchHit `json:"sources"`
	Model   string       `json:"model,omitempty"`
}
