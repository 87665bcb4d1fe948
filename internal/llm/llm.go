package llm

import (
	"context"
	"fmt"

	"github.com/comigor/ovenmitt-go/internal/config"
	"github.com/sashabaranov/go-openai"
)

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL

	return openai.NewClientWithConfig(config)
}

// openAIBackend adds a liveness probe to the OpenAI client.
type openAIBackend struct {
	*openai.Client
}

// Ping lists models, the cheapest authenticated call the API offers.
func (b openAIBackend) Ping(ctx context.Context) error {
	if _, err := b.ListModels(ctx); err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	return nil
}

// New returns the backend selected by cfg.Provider.
func New(cfg config.LLMConfig) (Backend, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaClient(cfg.BaseURL), nil
	case "openai":
		return openAIBackend{NewClient(cfg)}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
