package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"mindgrate/backend/internal/apperr"
)

// HTTPMLClient is an Embedder backed by a local embedding sidecar that
// accepts {"texts": [...]} and answers {"embeddings": [[...], ...]}.
type HTTPMLClient struct {
	url    string
	client *http.Client
}

// NewHTTPMLClient creates a new HTTPMLClient. A nil client uses
// http.DefaultClient.
func NewHTTPMLClient(url string, client *http.Client) *HTTPMLClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPMLClient{url: url, client: client}
}

type sidecarRequest struct {
	Texts []string `json:"texts"`
}

type sidecarResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embeddings for the given texts.
func (c *HTTPMLClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	requestBody, err := json.Marshal(sidecarRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/embeddings", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.External(err, true, "embedding sidecar unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, apperr.External(nil, retryableStatus(resp.StatusCode),
			"embedding sidecar returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out sidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, apperr.External(nil, false, "embedding sidecar returned %d embeddings for %d texts", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
