package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/internal/repository"
	"mindgrate/backend/pkg/models"
)

const (
	maxMindOpName       = 120
	defaultSearchLimit  = 20
	maxSearchLimit      = 50
	answerSystemPrompt  = "You answer questions about the data behind the MindOp %q. Use only the numbered context entries. If they do not contain the answer, say that the data does not cover it."
	noDataContextPrompt = "(no matching data)"
)

// TaskProcessor processes one collaboration task to completion.
type TaskProcessor interface {
	ProcessTask(ctx context.Context, id string) (*models.CollaborationTask, error)
}

// MindOpService owns MindOps and answers queries against them.
type MindOpService struct {
	mindops   repository.MindOpStore
	vectors   *VectorService
	follows   *FollowService
	collab    *CollaborationService
	generator Generator
	processor TaskProcessor
	logger    Logger
}

// NewMindOpService creates a new MindOpService.
func NewMindOpService(mindops repository.MindOpStore, vectors *VectorService, follows *FollowService, collab *CollaborationService, generator Generator, logger Logger) *MindOpService {
	if logger == nil {
		logger = nopLogger{}
	}
	return &MindOpService{
		mindops:   mindops,
		vectors:   vectors,
		follows:   follows,
		collab:    collab,
		generator: generator,
		logger:    logger,
	}
}

// SetTaskProcessor enables synchronous collaboration queries.
func (s *MindOpService) SetTaskProcessor(p TaskProcessor) {
	s.processor = p
}

// GetMine returns the caller's MindOp.
func (s *MindOpService) GetMine(ctx context.Context, userID string) (*models.MindOp, error) {
	return s.mindops.GetMindOpByUser(ctx, userID)
}

// GetMindOp returns any MindOp by ID.
func (s *MindOpService) GetMindOp(ctx context.Context, id string) (*models.MindOp, error) {
	if err := requireUUID("mindop_id", id); err != nil {
		return nil, err
	}
	return s.mindops.GetMindOp(ctx, id)
}

// SaveMine creates or updates the caller's MindOp. A newly created MindOp
// also gets its default collection.
func (s *MindOpService) SaveMine(ctx context.Context, userID, name string, description *string) (*models.MindOp, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, apperr.Validation("name is required")
	}
	if utf8.RuneCountInString(name) > maxMindOpName {
		return nil, false, apperr.Validation("name must be at most %d characters", maxMindOpName)
	}
	if description != nil {
		d := strings.TrimSpace(*description)
		description = &d
		if d == "" {
			description = nil
		}
	}

	m := &models.MindOp{UserID: userID, Name: name, Description: description}
	created, err := s.mindops.UpsertMindOp(ctx, m)
	if err != nil {
		return nil, false, err
	}
	if created {
		if _, err := s.vectors.EnsureMindOpCollection(ctx, m); err != nil {
			return nil, false, fmt.Errorf("creating default collection: %w", err)
		}
		s.logger.Info("mindop created", "mindop_id", m.ID, "user_id", userID)
	}
	return m, created, nil
}

// SearchMindOps finds other users' MindOps by name or description.
func (s *MindOpService) SearchMindOps(ctx context.Context, userID, term string, limit int) ([]*models.MindOp, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []*models.MindOp{}, nil
	}
	switch {
	case limit <= 0:
		limit = defaultSearchLimit
	case limit > maxSearchLimit:
		limit = maxSearchLimit
	}
	found, err := s.mindops.SearchMindOps(ctx, term, userID, limit)
	if err != nil {
		return nil, err
	}
	if found == nil {
		found = []*models.MindOp{}
	}
	return found, nil
}

// Query answers from the caller's MindOp or hands the query to another
// MindOp as a collaboration task.
func (s *MindOpService) Query(ctx context.Context, userID string, req models.QueryRequest) (*models.QueryResponse, error) {
	started := time.Now()
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperr.Validation("query is required")
	}
	mine, err := ownMindOp(ctx, s.mindops, userID)
	if err != nil {
		return nil, err
	}

	var resp *models.QueryResponse
	switch req.Mode {
	case "", models.QueryModeMindOp:
		answer, err := s.Answer(ctx, mine, req.Query)
		if err != nil {
			return nil, err
		}
		resp = &models.QueryResponse{Mode: models.QueryModeMindOp, Answer: answer, MindOp: mine}
	case models.QueryModeCollaboration:
		task, target, err := s.collaborate(ctx, mine, req)
		if err != nil {
			return nil, err
		}
		resp = &models.QueryResponse{Mode: models.QueryModeCollaboration, Task: task, MindOp: target}
	default:
		return nil, apperr.Validation("unknown mode %q", req.Mode)
	}
	resp.TookMs = time.Since(started).Milliseconds()
	return resp, nil
}

func (s *MindOpService) collaborate(ctx context.Context, mine *models.MindOp, req models.QueryRequest) (*models.CollaborationTask, *models.MindOp, error) {
	if req.TargetMindOpID == "" {
		return nil, nil, apperr.Validation("target_mindop_id is required in collaboration mode")
	}
	target, err := s.GetMindOp(ctx, req.TargetMindOpID)
	if err != nil {
		return nil, nil, err
	}
	allowed, err := s.follows.CanCollaborate(ctx, mine.ID, target.ID)
	if err != nil {
		return nil, nil, err
	}
	if !allowed {
		return nil, nil, apperr.Forbidden("no approved follow request for MindOp %s", target.ID)
	}

	task, err := s.collab.Create(ctx, mine.ID, target.ID, req.Query, req.Metadata)
	if err != nil {
		return nil, nil, err
	}
	if req.Sync && s.processor != nil {
		processed, err := s.processor.ProcessTask(ctx, task.ID)
		if err != nil {
			// The task stays queued for the worker.
			s.logger.Warn("inline collaboration processing failed", "task_id", task.ID, "error", err)
			return task, target, nil
		}
		task = processed
	}
	return task, target, nil
}

// Answer retrieves the chunks of m's data closest to query and asks the
// generator to answer from them. The generator is called even when nothing
// matches.
func (s *MindOpService) Answer(ctx context.Context, m *models.MindOp, query string) (*models.Answer, error) {
	hits := []*models.SearchHit{}
	col, err := s.vectors.MindOpCollection(ctx, m.ID)
	switch {
	case err == nil:
		hits, err = s.vectors.SearchCollection(ctx, col.ID, query)
		if err != nil {
			return nil, err
		}
	case !apperr.IsNotFound(err):
		return nil, err
	}

	text, err := s.generator.Generate(ctx, fmt.Sprintf(answerSystemPrompt, m.Name), BuildAnswerPrompt(query, hits))
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	return &models.Answer{Text: strings.TrimSpace(text), Sources: hits, Model: s.generator.Model()}, nil
}

// BuildAnswerPrompt formats retrieved chunks as numbered context followed by
// the question.
func BuildAnswerPrompt(query string, hits []*models.SearchHit) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	if len(hits) == 0 {
		b.WriteString(noDataContextPrompt)
		b.WriteString("\n")
	}
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, h.DocumentTitle, h.Content)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", strings.TrimSpace(query))
	return b.String()
}
