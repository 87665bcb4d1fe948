package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/spf13/afero"

	"github.com/comigor/ovenmitt-go/internal/config"
	"github.com/comigor/ovenmitt-go/internal/conversation"
	"github.com/comigor/ovenmitt-go/internal/logger"
)

const defaultSystemPrompt = "You draft replies on behalf of the user. Professional, warm, concise.\n" +
	"No filler openers. Flag scheduling gaps with [VERIFY: <what>]. Reply body only."

// ErrEmptyDraft is returned when the service answers with no text.
var ErrEmptyDraft = errors.New("generation returned an empty draft")

// BuildSystemPrompt prepends the operator's prompt file, when present, to the
// built-in instruction.
func BuildSystemPrompt(fs afero.Fs, path string) (string, error) {
	if path == "" {
		return defaultSystemPrompt, nil
	}
	b, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultSystemPrompt, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading system prompt file: %w", err)
	}
	override := strings.TrimSpace(string(b))
	if override == "" {
		return defaultSystemPrompt, nil
	}
	return override + "\n\n" + defaultSystemPrompt, nil
}

// UserPrompt embeds the context and the message to answer in one instruction.
func UserPrompt(w conversation.Window) string {
	return fmt.Sprintf("CONTEXT:\n%s\n\n---\nMESSAGE:\n%s\n\n---\nDraft a reply.", w.Context, w.Target)
}

// Drafter turns a context window into a reply draft with one blocking request.
type Drafter struct {
	backend      Backend
	model        string
	systemPrompt string
	timeout      time.Duration
	probeTimeout time.Duration
}

// NewDrafter creates a Drafter. The system prompt is fixed for its lifetime.
func NewDrafter(backend Backend, cfg config.LLMConfig, systemPrompt string) *Drafter {
	return &Drafter{
		backend:      backend,
		model:        cfg.Model,
		systemPrompt: systemPrompt,
		timeout:      cfg.Timeout,
		probeTimeout: cfg.ProbeTimeout,
	}
}

// Draft requests a reply for w and returns the trimmed text.
func (d *Drafter) Draft(ctx context.Context, w conversation.Window) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := d.backend.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:  d.model,
		Stream: false,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: d.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: UserPrompt(w)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("drafting reply: %w", err)
	}
	logger.L.Debug("generation finished", "model", d.model, "elapsed", time.Since(start))

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("drafting reply: %w: no choices", ErrMalformedResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyDraft
	}
	return text, nil
}

// Ping runs the liveness probe under its own short timeout.
func (d *Drafter) Ping(ctx context.Context) error {
	if d.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.probeTimeout)
		defer cancel()
	}
	return d.backend.Ping(ctx)
}
