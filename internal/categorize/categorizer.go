// Package categorize annotates ingested messages with a coarse category. It
// runs as an asynchronous consumer of the post-ingest stream and never sits
// on the ingestion critical path.
package categorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/store"
)

// CompletionClient refines a keyword guess via an external completion API.
// Optional; the keyword result stands on its own.
type CompletionClient interface {
	Classify(ctx context.Context, body string) (model.Category, error)
}

type Categorizer struct {
	messages   store.MessageStore
	categories store.CategoryStore
	completion CompletionClient
	logger     *slog.Logger
}

func New(messages store.MessageStore, categories store.CategoryStore, completion CompletionClient, log *slog.Logger) *Categorizer {
	if log == nil {
		log = slog.Default()
	}
	return &Categorizer{
		messages:   messages,
		categories: categories,
		completion: completion,
		logger:     log,
	}
}

// Categorize loads the message, derives a category, and stores it as an
// annotation. A missing message is terminal (no retry); store errors are
// returned for the worker's retry policy.
func (c *Categorizer) Categorize(ctx context.Context, messageID int64) error {
	msg, err := c.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.WarnContext(ctx, "categorize task references unknown message", "message_id", messageID)
			return nil
		}
		return fmt.Errorf("loading message: %w", err)
	}

	category := KeywordCategory(msg.Body)
	source := model.CategorySourceKeyword

	if c.completion != nil && msg.Body != "" {
		if refined, err := c.completion.Classify(ctx, msg.Body); err != nil {
			// Keyword result is good enough; completion refinement is best effort.
			c.logger.WarnContext(ctx, "completion classification failed, keeping keyword category",
				"error", err, "message_id", messageID)
		} else {
			category = refined
			source = model.CategorySourceCompletion
		}
	}

	if err := c.categories.Set(ctx, &model.MessageCategory{
		MessageID:     messageID,
		Category:      category,
		Source:        source,
		CategorizedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("storing category: %w", err)
	}

	c.logger.InfoContext(ctx, "message categorized",
		"message_id", messageID, "category", string(category), "source", string(source))
	return nil
}

var keywordRules = []struct {
	category model.Category
	keywords []string
}{
	{model.CategoryUrgent, []string{"urgent", "asap", "emergency", "immediately", "deadline"}},
	{model.CategoryWork, []string{"meeting", "project", "invoice", "report", "schedule", "client"}},
	{model.CategoryPromo, []string{"sale", "discount", "offer", "unsubscribe", "promo", "% off"}},
	{model.CategoryPersonal, []string{"birthday", "dinner", "family", "weekend", "vacation"}},
}

// KeywordCategory picks the first rule whose keyword appears in body.
func KeywordCategory(body string) model.Category {
	lowered := strings.ToLower(body)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return rule.category
			}
		}
	}
	return model.CategoryGeneral
}
