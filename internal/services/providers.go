package services

import (
	"context"
	"fmt"
	"net/http"

	"mindgrate/backend/internal/config"
)

// NewProviders builds the configured embedding and generation providers,
// each wrapped in its own guard.
func NewProviders(ctx context.Context, cfg *config.Config, logger Logger) (Embedder, Generator, error) {
	var (
		openaiProvider *OpenAIProvider
		geminiProvider *GeminiProvider
	)
	getOpenAI := func() (*OpenAIProvider, error) {
		if openaiProvider != nil {
			return openaiProvider, nil
		}
		p, err := NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.LLM.Model, cfg.Embeddings.Model, cfg.Embeddings.Dimensions)
		openaiProvider = p
		return p, err
	}
	getGemini := func() (*GeminiProvider, error) {
		if geminiProvider != nil {
			return geminiProvider, nil
		}
		p, err := NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.LLM.Model, cfg.Embeddings.Model, cfg.Embeddings.Dimensions)
		geminiProvider = p
		return p, err
	}

	var embedder Embedder
	switch cfg.Embeddings.Provider {
	case "openai":
		p, err := getOpenAI()
		if err != nil {
			return nil, nil, err
		}
		embedder = p
	case "gemini":
		p, err := getGemini()
		if err != nil {
			return nil, nil, err
		}
		embedder = p
	case "sidecar":
		if cfg.Embeddings.SidecarURL == "" {
			return nil, nil, fmt.Errorf("embeddings.sidecar_url is required for the sidecar provider")
		}
		embedder = NewHTTPMLClient(cfg.Embeddings.SidecarURL, &http.Client{Timeout: cfg.LLM.Timeout})
	default:
		return nil, nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}

	var generator Generator
	switch cfg.LLM.Provider {
	case "openai":
		p, err := getOpenAI()
		if err != nil {
			return nil, nil, err
		}
		generator = p
	case "gemini":
		p, err := getGemini()
		if err != nil {
			return nil, nil, err
		}
		generator = p
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	embedCfg := DefaultGuardConfig("embeddings-" + cfg.Embeddings.Provider)
	embedCfg.RatePerSecond = cfg.Embeddings.RateLimit
	embedCfg.Burst = cfg.Embeddings.Burst

	return NewGuardedEmbedder(embedder, embedCfg, logger),
		NewGuardedGenerator(generator, DefaultGuardConfig("llm-"+cfg.LLM.Provider), logger),
		nil
}
