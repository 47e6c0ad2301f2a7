// Package client is a typed Go client for the Mindgrate API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/internal/auth"
	"mindgrate/backend/internal/worker"
	"mindgrate/backend/pkg/models"
)

// mindopRetryDelay is the pause before GetMyMindOp tries a second time.
var mindopRetryDelay = 500 * time.Millisecond

// APIError is a non-2xx response. It unwraps to the matching apperr kind so
// callers can use apperr.IsConflict and friends.
type APIError struct {
	StatusCode int
	Problem    models.ProblemDetails
}

func (e *APIError) Error() string {
	detail := e.Problem.Detail
	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("mindgrate api: %d %s", e.StatusCode, detail)
}

// Unwrap returns the equivalent application error.
func (e *APIError) Unwrap() error {
	kind := apperr.Kind(e.Problem.Code)
	if kind == "" {
		kind = kindForStatus(e.StatusCode)
	}
	return &apperr.Error{Kind: kind, Message: e.Problem.Detail, Retryable: e.Problem.Retryable}
}

func kindForStatus(status int) apperr.Kind {
	switch status {
	case http.StatusBadRequest:
		return apperr.KindValidation
	case http.StatusUnauthorized:
		return apperr.KindUnauthorized
	case http.StatusForbidden:
		return apperr.KindForbidden
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusConflict:
		return apperr.KindConflict
	case http.StatusServiceUnavailable:
		return apperr.KindUnavailable
	case http.StatusBadGateway:
		return apperr.KindExternal
	default:
		return apperr.KindInternal
	}
}

// Client calls the Mindgrate HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	anon    *http.Client
}

// New creates a new Client. Requests are authorized with tokens from ts;
// a nil ts sends requests without credentials.
func New(baseURL string, ts oauth2.TokenSource) *Client {
	anon := &http.Client{Timeout: 2 * time.Minute}
	authed := anon
	if ts != nil {
		authed = &http.Client{
			Timeout:   anon.Timeout,
			Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
		}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: authed, anon: anon}
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, query url.Values, body any, out any) error {
	var rdr io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case *multipartBody:
		rdr, contentType = b.buf, b.contentType
	default:
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr, contentType = bytes.NewReader(buf), "application/json"
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return unwrapTokenError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&apiErr.Problem)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// unwrapTokenError surfaces ErrSessionExpired from the oauth2 transport.
func unwrapTokenError(err error) error {
	if errors.Is(err, ErrSessionExpired) {
		return ErrSessionExpired
	}
	return err
}

type multipartBody struct {
	buf         *bytes.Buffer
	contentType string
}

// Login signs in through the API and returns the session as a token.
func (c *Client) Login(ctx context.Context, email, password string) (*oauth2.Token, error) {
	var s auth.Session
	if err := c.do(ctx, c.anon, http.MethodPost, "/api/v1/auth/login", nil,
		map[string]string{"email": email, "password": password}, &s); err != nil {
		return nil, err
	}
	return sessionToken(&s), nil
}

// Refresh exchanges a refresh token through the API.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	var s auth.Session
	if err := c.do(ctx, c.anon, http.MethodPost, "/api/v1/auth/refresh", nil,
		map[string]string{"refresh_token": refreshToken}, &s); err != nil {
		return nil, err
	}
	return sessionToken(&s), nil
}

// Logout revokes the current session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, c.http, http.MethodPost, "/api/v1/auth/logout", nil, nil, nil)
}

func sessionToken(s *auth.Session) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken, TokenType: s.TokenType}
	if s.ExpiresAt > 0 {
		tok.Expiry = time.Unix(s.ExpiresAt, 0)
	}
	return tok
}

// GetMyMindOp returns the caller's MindOp. A MindOp saved moments ago may
// not be visible yet, so a 404 or 406 is retried once.
func (c *Client) GetMyMindOp(ctx context.Context) (*models.MindOp, error) {
	var m models.MindOp
	err := c.do(ctx, c.http, http.MethodGet, "/api/v1/mindops/me", nil, nil, &m)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusNotAcceptable) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(mindopRetryDelay):
		}
		err = c.do(ctx, c.http, http.MethodGet, "/api/v1/mindops/me", nil, nil, &m)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMyMindOp creates or updates the caller's MindOp.
func (c *Client) SaveMyMindOp(ctx context.Context, name string, description *string) (*models.MindOp, error) {
	var m models.MindOp
	body := map[string]any{"name": name}
	if description != nil {
		body["description"] = *description
	}
	if err := c.do(ctx, c.http, http.MethodPut, "/api/v1/mindops/me", nil, body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// IngestSpreadsheet uploads a CSV file into the caller's MindOp.
func (c *Client) IngestSpreadsheet(ctx context.Context, filename string, r io.Reader) (*models.IngestResult, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var res models.IngestResult
	body := &multipartBody{buf: buf, contentType: mw.FormDataContentType()}
	if err := c.do(ctx, c.http, http.MethodPost, "/api/v1/mindops/me/ingest", nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Query calls the mindop-service function.
func (c *Client) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	var resp models.QueryResponse
	if err := c.do(ctx, c.http, http.MethodPost, "/functions/v1/mindop-service", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchMindOps finds other users' MindOps.
func (c *Client) SearchMindOps(ctx context.Context, term string, limit int) ([]*models.MindOp, error) {
	q := url.Values{"searchTerm": {term}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		MindOps []*models.MindOp `json:"mindops"`
	}
	if err := c.do(ctx, c.http, http.MethodGet, "/functions/v1/search-mindops", q, nil, &out); err != nil {
		return nil, err
	}
	return out.MindOps, nil
}

// RequestFollow asks to follow the target MindOp.
func (c *Client) RequestFollow(ctx context.Context, targetMindOpID string) (*models.FollowRequest, error) {
	var fr models.FollowRequest
	if err := c.do(ctx, c.http, http.MethodPost, "/api/v1/follow-requests", nil,
		map[string]string{"target_mindop_id": targetMindOpID}, &fr); err != nil {
		return nil, err
	}
	return &fr, nil
}

// ListFollowRequests lists follow requests in one direction. An empty status
// lists all.
func (c *Client) ListFollowRequests(ctx context.Context, direction models.FollowDirection, status models.FollowStatus) ([]*models.FollowRequest, error) {
	q := url.Values{}
	if direction != "" {
		q.Set("direction", string(direction))
	}
	if status != "" {
		q.Set("status", string(status))
	}
	var out struct {
		FollowRequests []*models.FollowRequest `json:"follow_requests"`
	}
	if err := c.do(ctx, c.http, http.MethodGet, "/api/v1/follow-requests", q, nil, &out); err != nil {
		return nil, err
	}
	return out.FollowRequests, nil
}

// DecideFollow approves or rejects a request addressed to the caller.
func (c *Client) DecideFollow(ctx context.Context, requestID string, approve bool) (*models.FollowRequest, error) {
	verb := "reject"
	if approve {
		verb = "approve"
	}
	var fr models.FollowRequest
	if err := c.do(ctx, c.http, http.MethodPost, "/api/v1/follow-requests/"+url.PathEscape(requestID)+"/"+verb, nil, nil, &fr); err != nil {
		return nil, err
	}
	return &fr, nil
}

// ListCollaborations lists tasks for one side of the collaboration.
func (c *Client) ListCollaborations(ctx context.Context, role models.TaskRole, statuses ...models.TaskStatus) ([]*models.CollaborationTask, error) {
	q := url.Values{}
	if role != "" {
		q.Set("role", string(role))
	}
	for _, s := range statuses {
		q.Add("status", string(s))
	}
	return c.tasks(ctx, "/api/v1/collaborations", q)
}

// Deliveries returns finished tasks waiting for the caller.
func (c *Client) Deliveries(ctx context.Context) ([]*models.CollaborationTask, error) {
	return c.tasks(ctx, "/api/v1/collaborations/deliveries", nil)
}

func (c *Client) tasks(ctx context.Context, path string, q url.Values) ([]*models.CollaborationTask, error) {
	var out struct {
		Tasks []*models.CollaborationTask `json:"tasks"`
	}
	if err := c.do(ctx, c.http, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// MarkDelivered records that the caller has received a task's response.
func (c *Client) MarkDelivered(ctx context.Context, taskID string) (*models.CollaborationTask, error) {
	return c.taskAction(ctx, taskID, "delivered")
}

// RetryCollaboration queues a failed task again.
func (c *Client) RetryCollaboration(ctx context.Context, taskID string) (*models.CollaborationTask, error) {
	return c.taskAction(ctx, taskID, "retry")
}

func (c *Client) taskAction(ctx context.Context, taskID, action string) (*models.CollaborationTask, error) {
	var t models.CollaborationTask
	if err := c.do(ctx, c.http, http.MethodPost, "/api/v1/collaborations/"+url.PathEscape(taskID)+"/"+action, nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ProcessTask asks the worker function to process one task now.
func (c *Client) ProcessTask(ctx context.Context, taskID string) (*models.CollaborationTask, error) {
	var t models.CollaborationTask
	if err := c.do(ctx, c.http, http.MethodPost, "/functions/v1/collaboration-worker", nil,
		map[string]string{"action": "process", "task_id": taskID}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ProcessPending asks the worker function to run one polling round.
func (c *Client) ProcessPending(ctx context.Context) (*worker.Stats, error) {
	var stats worker.Stats
	if err := c.do(ctx, c.http, http.MethodPost, "/functions/v1/collaboration-worker", nil,
		map[string]string{"action": "process_pending"}, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Embed returns one vector per text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.do(ctx, c.http, http.MethodPost, "/functions/v1/vector-service", nil,
		map[string]any{"action": "embed", "texts": texts}, &out); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

// Search runs a semantic search over the caller's collections.
func (c *Client) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	body := map[string]any{"action": "search", "query": req.Query}
	if req.CollectionID != "" {
		body["collection_id"] = req.CollectionID
	}
	if req.Limit > 0 {
		body["limit"] = req.Limit
	}
	if req.Threshold > 0 {
		body["threshold"] = req.Threshold
	}
	var resp models.SearchResponse
	if err := c.do(ctx, c.http, http.MethodPost, "/functions/v1/vector-service", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IngestDocument adds a document to a collection.
func (c *Client) IngestDocument(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	body := map[string]any{
		"action":        "ingest",
		"collection_id": req.CollectionID,
		"title":         req.Title,
		"content":       req.Content,
		"metadata":      req.Metadata,
	}
	var res models.IngestResult
	if err := c.do(ctx, c.http, http.MethodPost, "/functions/v1/vector-service", nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListCollections lists the caller's collections.
func (c *Client) ListCollections(ctx context.Context) ([]*models.Collection, error) {
	var out struct {
		Collections []*models.Collection `json:"collections"`
	}
	if err := c.do(ctx, c.http, http.MethodGet, "/functions/v1/collection-service", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Collections, nil
}

// CreateCollection creates a collection.
func (c *Client) CreateCollection(ctx context.Context, name string, description *string) (*models.Collection, error) {
	var col models.Collection
	body := map[string]any{"name": name}
	if description != nil {
		body["description"] = *description
	}
	if err := c.do(ctx, c.http, http.MethodPost, "/functions/v1/collection-service", nil, body, &col); err != nil {
		return nil, err
	}
	return &col, nil
}

// DeleteCollection deletes a collection and everything in it.
func (c *Client) DeleteCollection(ctx context.Context, id string) error {
	return c.do(ctx, c.http, http.MethodDelete, "/functions/v1/collection-service/"+url.PathEscape(id), nil, nil, nil)
}

// Analytics returns the caller's vector store statistics.
func (c *Client) Analytics(ctx context.Context) (*models.Analytics, error) {
	var a models.Analytics
	if err := c.do(ctx, c.http, http.MethodGet, "/functions/v1/vector-analytics", nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
