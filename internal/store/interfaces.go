package store

import (
	"context"
	"errors"
	"time"

	"omnibox.app/ingest/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write collides with an existing row on a
// uniqueness constraint (duplicate platform message id, raced conversation
// creation). Callers decide whether the conflict is a duplicate or a retry.
var ErrConflict = errors.New("conflict")

// MessageStore defines the contract for message persistence. Messages are
// append-only; there is no update or delete.
type MessageStore interface {
	Append(ctx context.Context, msg *model.UnifiedMessage) error
	GetByID(ctx context.Context, id int64) (*model.UnifiedMessage, error)
	GetByPlatformMessageID(ctx context.Context, platform model.Platform, nativeID string) (*model.UnifiedMessage, error)
	// ListAfter returns messages in a conversation with sequence numbers
	// strictly greater than afterSeq, in sequence order.
	ListAfter(ctx context.Context, conversationID, afterSeq int64, limit int32) ([]model.UnifiedMessage, error)
}

// ConversationStore defines the contract for conversation data access.
type ConversationStore interface {
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	// CreateOrGet inserts conv if no conversation exists for its
	// (platform, grouping key), otherwise returns the existing one. The
	// second result reports whether conv was created. Concurrent creators
	// for the same key must converge on a single record.
	CreateOrGet(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error)
	// AllocateSequence atomically increments the conversation's sequence
	// counter, records the participant and activity time, and returns the
	// newly assigned sequence number. This is the conversation's
	// serialization point: concurrent callers are ordered by who acquires it
	// first, and a rolled-back transaction consumes no sequence number.
	AllocateSequence(ctx context.Context, conversationID int64, senderID string, occurredAt time.Time) (int64, error)
}

// CategoryStore persists asynchronous category annotations.
type CategoryStore interface {
	Set(ctx context.Context, mc *model.MessageCategory) error
	Get(ctx context.Context, messageID int64) (*model.MessageCategory, error)
}

// StoreProvider exposes the stores bound to one storage session. Inside
// TxRunner.WithTx all stores share a single transaction.
type StoreProvider interface {
	Messages() MessageStore
	Conversations() ConversationStore
	Categories() CategoryStore
}

// TxRunner executes fn atomically: either every mutation made through the
// provided StoreProvider applies, or none do.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(sp StoreProvider) error) error
}

// ReserveOutcome reports the result of an idempotency reservation attempt.
type ReserveOutcome struct {
	Won bool
	// HolderMessageID is the message id recorded by the current holder when
	// Won is false.
	HolderMessageID int64
}

// IdempotencyLease is the short-lived, atomically claimed reservation on an
// idempotency key. Exactly one concurrent caller wins a free key. Leases
// expire after their TTL so a crashed writer cannot blacklist a key forever.
// The durable committed index is the message table's uniqueness constraint;
// the lease only covers the window while a write is in flight.
type IdempotencyLease interface {
	Reserve(ctx context.Context, platform model.Platform, nativeID string, messageID int64, ttl time.Duration) (ReserveOutcome, error)
	// Release frees the key early after a failed write. It is a no-op if the
	// lease is held by a different message id.
	Release(ctx context.Context, platform model.Platform, nativeID string, messageID int64) error
}
