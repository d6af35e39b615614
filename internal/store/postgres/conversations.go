package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/store"
)

type conversationStore struct {
	q querier
}

const conversationColumns = `id, platform, grouping_key, participant_ids,
	last_sequence_number, last_activity_at, created_at`

func (s *conversationStore) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	row := s.q.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *conversationStore) CreateOrGet(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	// ON CONFLICT DO NOTHING returns no row when the key already exists, so
	// two racing creators converge: one inserts, the other falls through to
	// the select.
	row := s.q.QueryRow(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (platform, grouping_key) DO NOTHING
		RETURNING `+conversationColumns,
		conv.ID, conv.Platform, conv.GroupingKey, conv.ParticipantIDs,
		conv.LastSequenceNumber, conv.LastActivityAt, conv.CreatedAt,
	)

	created, err := scanConversation(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	existing, err := s.getByKey(ctx, conv.Platform, conv.GroupingKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Insert lost the race but the winner's transaction has not
			// committed yet. Surface as a conflict so the caller retries
			// the resolution step.
			return nil, false, store.ErrConflict
		}
		return nil, false, err
	}
	return existing, false, nil
}

func (s *conversationStore) getByKey(ctx context.Context, platform model.Platform, groupingKey string) (*model.Conversation, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE platform = $1 AND grouping_key = $2`,
		platform, groupingKey,
	)
	return scanConversation(row)
}

func (s *conversationStore) AllocateSequence(ctx context.Context, conversationID int64, senderID string, occurredAt time.Time) (int64, error) {
	// The UPDATE takes the row lock, which is the per-conversation
	// serialization point. Rolling back the surrounding transaction undoes
	// the increment, keeping sequence numbers gapless.
	var seq int64
	err := s.q.QueryRow(ctx, `
		UPDATE conversations
		SET last_sequence_number = last_sequence_number + 1,
		    last_activity_at = GREATEST(last_activity_at, $2),
		    participant_ids = CASE
		        WHEN $3 = ANY(participant_ids) THEN participant_ids
		        ELSE array_append(participant_ids, $3)
		    END
		WHERE id = $1
		RETURNING last_sequence_number`,
		conversationID, occurredAt, senderID,
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("allocating sequence: %w", err)
	}
	return seq, nil
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var conv model.Conversation
	err := row.Scan(
		&conv.ID, &conv.Platform, &conv.GroupingKey, &conv.ParticipantIDs,
		&conv.LastSequenceNumber, &conv.LastActivityAt, &conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	return &conv, nil
}
