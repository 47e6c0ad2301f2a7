package services

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"mindgrate/backend/internal/apperr"
)

// GeminiProvider embeds and generates through the Gemini API.
type GeminiProvider struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	dimensions     int
}

// NewGeminiProvider creates a provider for the Gemini developer API.
func NewGeminiProvider(ctx context.Context, apiKey, chatModel, embeddingModel string, dimensions int) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{
		client:         client,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		dimensions:     dimensions,
	}, nil
}

// Embed implements Embedder.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	var cfg *genai.EmbedContentConfig
	if p.dimensions > 0 {
		dims := int32(p.dimensions)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}
	res, err := p.client.Models.EmbedContent(ctx, p.embeddingModel, contents, cfg)
	if err != nil {
		return nil, classifyGeminiError(err, "failed to embed contents")
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, apperr.External(nil, false, "Gemini returned an unexpected number of embeddings")
	}
	out := make([][]float32, 0, len(res.Embeddings))
	for _, e := range res.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

// Generate implements Generator.
func (p *GeminiProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.chatModel, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	})
	if err != nil {
		return "", classifyGeminiError(err, "content generation failed")
	}
	text := resp.Text()
	if text == "" {
		return "", apperr.External(nil, true, "Gemini returned an empty response")
	}
	return text, nil
}

// Model implements Generator.
func (p *GeminiProvider) Model() string {
	return p.chatModel
}

func classifyGeminiError(err error, msg string) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.External(err, true, "%s", msg)
}
