package service

import (
	"context"
	"errors"
	"fmt"

	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/store"
)

var ErrConversationNotFound = errors.New("conversation not found")

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// HistoryService serves ordered conversation history to API and websocket
// clients. Subscribers use it to backfill after receiving a gap marker.
type HistoryService interface {
	GetConversation(ctx context.Context, conversationID int64) (*model.Conversation, error)
	ListMessages(ctx context.Context, conversationID, afterSeq int64, limit int32) ([]model.UnifiedMessage, error)
	GetCategory(ctx context.Context, messageID int64) (*model.MessageCategory, error)
}

type historyService struct {
	stores store.StoreProvider
}

func NewHistoryService(stores store.StoreProvider) HistoryService {
	return &historyService{stores: stores}
}

func (s *historyService) GetConversation(ctx context.Context, conversationID int64) (*model.Conversation, error) {
	conv, err := s.stores.Conversations().GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return conv, nil
}

func (s *historyService) ListMessages(ctx context.Context, conversationID, afterSeq int64, limit int32) ([]model.UnifiedMessage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.stores.Messages().ListAfter(ctx, conversationID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return messages, nil
}

func (s *historyService) GetCategory(ctx context.Context, messageID int64) (*model.MessageCategory, error) {
	cat, err := s.stores.Categories().Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting category: %w", err)
	}
	return cat, nil
}
