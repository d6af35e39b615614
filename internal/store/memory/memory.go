// Package memory implements the storage collaborator contracts in process
// memory. It backs unit and property tests; deployments use the postgres and
// redis implementations.
package memory

import (
	"context"
	"sync"
	"time"

	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/store"
)

// Store holds all state behind one mutex. WithTx snapshots the mutable state
// up front and restores it when fn fails, giving the same all-or-nothing
// semantics the postgres TxRunner gets from transactions.
type Store struct {
	mu sync.Mutex

	messages      map[int64]*model.UnifiedMessage
	byNative      map[string]int64 // platform:nativeID -> message id
	conversations map[int64]*model.Conversation
	byKey         map[string]int64 // platform:groupingKey -> conversation id
	categories    map[int64]*model.MessageCategory

	appendErr error
}

func New() *Store {
	return &Store{
		messages:      make(map[int64]*model.UnifiedMessage),
		byNative:      make(map[string]int64),
		conversations: make(map[int64]*model.Conversation),
		byKey:         make(map[string]int64),
		categories:    make(map[int64]*model.MessageCategory),
	}
}

// FailAppends makes every subsequent Append return err until called with nil.
// Used by tests to simulate an unavailable store.
func (s *Store) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

func (s *Store) Messages() store.MessageStore {
	return &messageStore{s: s, locked: false}
}

func (s *Store) Conversations() store.ConversationStore {
	return &conversationStore{s: s, locked: false}
}

func (s *Store) Categories() store.CategoryStore {
	return &categoryStore{s: s, locked: false}
}

// WithTx serializes all transactions behind the store mutex and rolls back to
// a snapshot if fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(sp store.StoreProvider) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	sp := &txProvider{s: s}
	if err := fn(sp); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshotState struct {
	messages      map[int64]*model.UnifiedMessage
	byNative      map[string]int64
	conversations map[int64]*model.Conversation
	byKey         map[string]int64
	categories    map[int64]*model.MessageCategory
}

func (s *Store) snapshot() snapshotState {
	snap := snapshotState{
		messages:      make(map[int64]*model.UnifiedMessage, len(s.messages)),
		byNative:      make(map[string]int64, len(s.byNative)),
		conversations: make(map[int64]*model.Conversation, len(s.conversations)),
		byKey:         make(map[string]int64, len(s.byKey)),
		categories:    make(map[int64]*model.MessageCategory, len(s.categories)),
	}
	// Messages and categories are never mutated in place, so sharing the
	// pointed-to values is safe. Conversations are mutated and need copies.
	for id, m := range s.messages {
		snap.messages[id] = m
	}
	for k, v := range s.byNative {
		snap.byNative[k] = v
	}
	for id, c := range s.conversations {
		snap.conversations[id] = copyConversation(c)
	}
	for k, v := range s.byKey {
		snap.byKey[k] = v
	}
	for id, mc := range s.categories {
		snap.categories[id] = mc
	}
	return snap
}

func (s *Store) restore(snap snapshotState) {
	s.messages = snap.messages
	s.byNative = snap.byNative
	s.conversations = snap.conversations
	s.byKey = snap.byKey
	s.categories = snap.categories
}

func copyConversation(c *model.Conversation) *model.Conversation {
	dup := *c
	dup.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	return &dup
}

type txProvider struct {
	s *Store
}

func (p *txProvider) Messages() store.MessageStore {
	return &messageStore{s: p.s, locked: true}
}

func (p *txProvider) Conversations() store.ConversationStore {
	return &conversationStore{s: p.s, locked: true}
}

func (p *txProvider) Categories() store.CategoryStore {
	return &categoryStore{s: p.s, locked: true}
}

// with runs fn under the store mutex unless the caller already holds it
// (inside a transaction).
func with(s *Store, locked bool, fn func() error) error {
	if !locked {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn()
}

// --- Messages ---------------------------------------------------------------

type messageStore struct {
	s      *Store
	locked bool
}

func nativeKey(platform model.Platform, nativeID string) string {
	return string(platform) + ":" + nativeID
}

func (m *messageStore) Append(ctx context.Context, msg *model.UnifiedMessage) error {
	return with(m.s, m.locked, func() error {
		if m.s.appendErr != nil {
			return m.s.appendErr
		}
		key := nativeKey(msg.Platform, msg.PlatformMessageID)
		if _, exists := m.s.byNative[key]; exists {
			return store.ErrConflict
		}
		dup := *msg
		dup.Attachments = append([]model.Attachment(nil), msg.Attachments...)
		m.s.messages[msg.ID] = &dup
		m.s.byNative[key] = msg.ID
		return nil
	})
}

func (m *messageStore) GetByID(ctx context.Context, id int64) (*model.UnifiedMessage, error) {
	var out *model.UnifiedMessage
	err := with(m.s, m.locked, func() error {
		msg, ok := m.s.messages[id]
		if !ok {
			return store.ErrNotFound
		}
		dup := *msg
		out = &dup
		return nil
	})
	return out, err
}

func (m *messageStore) GetByPlatformMessageID(ctx context.Context, platform model.Platform, nativeID string) (*model.UnifiedMessage, error) {
	var out *model.UnifiedMessage
	err := with(m.s, m.locked, func() error {
		id, ok := m.s.byNative[nativeKey(platform, nativeID)]
		if !ok {
			return store.ErrNotFound
		}
		dup := *m.s.messages[id]
		out = &dup
		return nil
	})
	return out, err
}

func (m *messageStore) ListAfter(ctx context.Context, conversationID, afterSeq int64, limit int32) ([]model.UnifiedMessage, error) {
	var out []model.UnifiedMessage
	err := with(m.s, m.locked, func() error {
		for _, msg := range m.s.messages {
			if msg.ConversationID == conversationID && msg.SequenceNumber > afterSeq {
				out = append(out, *msg)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortBySequence(out)
	if limit > 0 && int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortBySequence(msgs []model.UnifiedMessage) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j-1].SequenceNumber > msgs[j].SequenceNumber; j-- {
			msgs[j-1], msgs[j] = msgs[j], msgs[j-1]
		}
	}
}

// --- Conversations ----------------------------------------------------------

type conversationStore struct {
	s      *Store
	locked bool
}

func groupKey(platform model.Platform, groupingKey string) string {
	return string(platform) + ":" + groupingKey
}

func (c *conversationStore) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	var out *model.Conversation
	err := with(c.s, c.locked, func() error {
		conv, ok := c.s.conversations[id]
		if !ok {
			return store.ErrNotFound
		}
		out = copyConversation(conv)
		return nil
	})
	return out, err
}

func (c *conversationStore) CreateOrGet(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	var (
		out     *model.Conversation
		created bool
	)
	err := with(c.s, c.locked, func() error {
		key := groupKey(conv.Platform, conv.GroupingKey)
		if id, ok := c.s.byKey[key]; ok {
			out = copyConversation(c.s.conversations[id])
			return nil
		}
		stored := copyConversation(conv)
		c.s.conversations[conv.ID] = stored
		c.s.byKey[key] = conv.ID
		out = copyConversation(stored)
		created = true
		return nil
	})
	return out, created, err
}

func (c *conversationStore) AllocateSequence(ctx context.Context, conversationID int64, senderID string, occurredAt time.Time) (int64, error) {
	var seq int64
	err := with(c.s, c.locked, func() error {
		conv, ok := c.s.conversations[conversationID]
		if !ok {
			return store.ErrNotFound
		}
		conv.LastSequenceNumber++
		seq = conv.LastSequenceNumber
		if occurredAt.After(conv.LastActivityAt) {
			conv.LastActivityAt = occurredAt
		}
		if !conv.HasParticipant(senderID) {
			conv.ParticipantIDs = append(conv.ParticipantIDs, senderID)
		}
		return nil
	})
	return seq, err
}

// --- Categories -------------------------------------------------------------

type categoryStore struct {
	s      *Store
	locked bool
}

func (c *categoryStore) Set(ctx context.Context, mc *model.MessageCategory) error {
	return with(c.s, c.locked, func() error {
		dup := *mc
		c.s.categories[mc.MessageID] = &dup
		return nil
	})
}

func (c *categoryStore) Get(ctx context.Context, messageID int64) (*model.MessageCategory, error) {
	var out *model.MessageCategory
	err := with(c.s, c.locked, func() error {
		mc, ok := c.s.categories[messageID]
		if !ok {
			return store.ErrNotFound
		}
		dup := *mc
		out = &dup
		return nil
	})
	return out, err
}
