package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/sashabaranov/go-openai"
)

// ErrMalformedResponse is returned when a 2xx reply has no message content.
var ErrMalformedResponse = errors.New("malformed generation response")

// StatusError carries a non-2xx reply from the generation service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation service returned status %d: %s", e.Code, e.Body)
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
}

type ollamaChatResponse struct {
	Model   string         `json:"model"`
	Message *ollamaMessage `json:"message"`
	Done    bool           `json:"done"`
}

// OllamaClient speaks the native ollama chat API and exposes it through the
// same Client interface as the OpenAI client.
type OllamaClient struct {
	http *resty.Client
}

// NewOllamaClient creates a client for the ollama server at baseURL.
func NewOllamaClient(baseURL string) *OllamaClient {
	return &OllamaClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
}

// CreateChatCompletion posts a non-streaming chat request to /api/chat.
func (c *OllamaClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	body := ollamaChatRequest{Model: req.Model, Stream: false}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/api/chat")
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("ollama chat: %w", err)
	}
	if resp.IsError() {
		return openai.ChatCompletionResponse{}, &StatusError{Code: resp.StatusCode(), Body: resp.String()}
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Message == nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("%w: no message field", ErrMalformedResponse)
	}

	return openai.ChatCompletionResponse{
		Model: out.Model,
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: out.Message.Content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
	}, nil
}

// Ping lists local models, which ollama answers without loading one.
func (c *OllamaClient) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/api/tags")
	if err != nil {
		return fmt.Errorf("ollama tags: %w", err)
	}
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
