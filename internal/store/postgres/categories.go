package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/store"
)

type categoryStore struct {
	q querier
}

func (s *categoryStore) Set(ctx context.Context, mc *model.MessageCategory) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO message_categories (message_id, category, source, categorized_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO UPDATE
		SET category = EXCLUDED.category,
		    source = EXCLUDED.source,
		    categorized_at = EXCLUDED.categorized_at`,
		mc.MessageID, mc.Category, mc.Source, mc.CategorizedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting category: %w", err)
	}
	return nil
}

func (s *categoryStore) Get(ctx context.Context, messageID int64) (*model.MessageCategory, error) {
	var mc model.MessageCategory
	err := s.q.QueryRow(ctx, `
		SELECT message_id, category, source, categorized_at
		FROM message_categories WHERE message_id = $1`,
		messageID,
	).Scan(&mc.MessageID, &mc.Category, &mc.Source, &mc.CategorizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning category: %w", err)
	}
	return &mc, nil
}
