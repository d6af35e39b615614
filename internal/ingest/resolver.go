package ingest

import (
	"context"
	"fmt"
	"time"

	"omnibox.app/ingest/common/id"
	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/store"
)

// ConversationResolver maps a normalized message onto a conversation and
// allocates its sequence number. It always runs inside the pipeline's
// transaction so that allocation rolls back with a failed append, keeping
// sequence numbers gapless.
type ConversationResolver struct{}

func NewConversationResolver() *ConversationResolver {
	return &ConversationResolver{}
}

// Resolve creates the conversation lazily on first message. Creation and
// first-message sequencing are atomic with respect to concurrent creators:
// CreateOrGet converges racing callers onto one record, and AllocateSequence
// orders callers by who acquires the conversation's serialization point.
func (r *ConversationResolver) Resolve(ctx context.Context, sp store.StoreProvider, msg *model.UnifiedMessage, groupingKey string) (int64, int64, error) {
	conv, _, err := sp.Conversations().CreateOrGet(ctx, &model.Conversation{
		ID:             id.New(),
		Platform:       msg.Platform,
		GroupingKey:    groupingKey,
		ParticipantIDs: []string{},
		LastActivityAt: msg.OccurredAt,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("resolving conversation: %w", err)
	}

	seq, err := sp.Conversations().AllocateSequence(ctx, conv.ID, msg.SenderID, msg.OccurredAt)
	if err != nil {
		return 0, 0, fmt.Errorf("allocating sequence: %w", err)
	}

	return conv.ID, seq, nil
}
