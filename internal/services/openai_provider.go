package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"mindgrate/backend/internal/apperr"
)

// OpenAIProvider embeds and generates through the OpenAI API or any
// compatible endpoint.
type OpenAIProvider struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
	dimensions     int
}

// NewOpenAIProvider creates a provider. baseURL may be empty for the public
// API.
func NewOpenAIProvider(apiKey, baseURL, chatModel, embeddingModel string, dimensions int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(cfg),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		dimensions:     dimensions,
	}, nil
}

// Embed implements Embedder.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.embeddingModel),
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if p.dimensions > 0 && p.embeddingModel != string(openai.AdaEmbeddingV2) {
		req.Dimensions = p.dimensions
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err, "embedding request failed")
	}
	if len(resp.Data) != len(texts) {
		return nil, apperr.External(nil, false, "OpenAI returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, apperr.External(nil, false, "OpenAI returned embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Generate implements Generator.
func (p *OpenAIProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyOpenAIError(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", apperr.External(nil, true, "OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Model implements Generator.
func (p *OpenAIProvider) Model() string {
	return p.chatModel
}

func classifyOpenAIError(err error, msg string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apperr.External(err, retryableStatus(apiErr.HTTPStatusCode), "%s", msg)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperr.External(err, retryableStatus(reqErr.HTTPStatusCode), "%s", msg)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.External(err, true, "%s", msg)
}
