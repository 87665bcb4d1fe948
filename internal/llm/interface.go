package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Client is the minimal subset of openai.Client used by the drafter; it is easy to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Prober answers whether the generation service is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Backend is a generation service that can be both probed and asked for completions.
type Backend interface {
	Client
	Prober
}
