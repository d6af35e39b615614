package categorize

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"omnibox.app/ingest/core/config"
	"omnibox.app/ingest/internal/model"
)

const classifyPrompt = `Classify the following message into exactly one of:
urgent, work, personal, promo, general. Respond with the single word only.`

type completionClient struct {
	client openai.Client
	model  string
}

// NewCompletionClient builds a CompletionClient from config, or nil when no
// API key is configured.
func NewCompletionClient(cfg config.CategorizeConfig) CompletionClient {
	if !cfg.CompletionEnabled() {
		return nil
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &completionClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (c *completionClient) Classify(ctx context.Context, body string) (model.Category, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(classifyPrompt),
			openai.UserMessage(body),
		},
		MaxCompletionTokens: openai.Int(8),
	})
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	switch model.Category(answer) {
	case model.CategoryUrgent, model.CategoryWork, model.CategoryPersonal, model.CategoryPromo, model.CategoryGeneral:
		return model.Category(answer), nil
	}
	return "", fmt.Errorf("completion returned unknown category %q", answer)
}
