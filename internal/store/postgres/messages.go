package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/store"
)

type messageStore struct {
	q querier
}

const messageColumns = `id, platform, platform_message_id, sender_id, sender_display_name,
	conversation_id, body, attachments, occurred_at, ingested_at, sequence_number`

func (s *messageStore) Append(ctx context.Context, msg *model.UnifiedMessage) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshaling attachments: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.Platform, msg.PlatformMessageID, msg.SenderID, msg.SenderDisplayName,
		msg.ConversationID, msg.Body, attachments, msg.OccurredAt, msg.IngestedAt, msg.SequenceNumber,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func (s *messageStore) GetByID(ctx context.Context, id int64) (*model.UnifiedMessage, error) {
	row := s.q.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (s *messageStore) GetByPlatformMessageID(ctx context.Context, platform model.Platform, nativeID string) (*model.UnifiedMessage, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE platform = $1 AND platform_message_id = $2`,
		platform, nativeID,
	)
	return scanMessage(row)
}

func (s *messageStore) ListAfter(ctx context.Context, conversationID, afterSeq int64, limit int32) ([]model.UnifiedMessage, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND sequence_number > $2
		ORDER BY sequence_number ASC
		LIMIT $3`,
		conversationID, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []model.UnifiedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row) (*model.UnifiedMessage, error) {
	var (
		msg         model.UnifiedMessage
		attachments []byte
	)
	err := row.Scan(
		&msg.ID, &msg.Platform, &msg.PlatformMessageID, &msg.SenderID, &msg.SenderDisplayName,
		&msg.ConversationID, &msg.Body, &attachments, &msg.OccurredAt, &msg.IngestedAt, &msg.SequenceNumber,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshaling attachments: %w", err)
		}
	}
	return &msg, nil
}
