// Package llm wraps the hosted language-model service. Responders depend
// on the Generator interface so tests can inject fakes.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"enigbot/internal/config"
)

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client is the langchaingo-backed Generator.
type Client struct {
	model llms.Model
}

func NewClient(cfg *config.LLMConfig) (*Client, error) {
	switch cfg.Provider {
	case "ollama":
		model, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama client: %w", err)
		}
		return &Client{model: model}, nil
	case "openai", "":
		model, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing openai client: %w", err)
		}
		return &Client{model: model}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// Generate runs a single-turn completion and returns the first choice.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	log.Debug().Int("prompt_chars", len(prompt)).Msg("generating")

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}
	resp, err := c.model.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}
