package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/store"
)

// DedupResult is the outcome of an idempotency check.
type DedupResult struct {
	Fresh bool
	// ExistingMessageID names the message previously stored for this key
	// when Fresh is false.
	ExistingMessageID int64
}

// Deduplicator detects redelivered webhook payloads. The committed index is
// the message table's (platform, platform_message_id) uniqueness; the lease
// covers the window while a winner's write is still in flight, so concurrent
// redeliveries see Duplicate even before the first write commits.
type Deduplicator struct {
	lease        store.IdempotencyLease
	messages     store.MessageStore
	ttl          time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewDeduplicator(lease store.IdempotencyLease, messages store.MessageStore, ttl time.Duration, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		lease:        lease,
		messages:     messages,
		ttl:          ttl,
		pollInterval: 25 * time.Millisecond,
		logger:       logger,
	}
}

// CheckAndReserve claims the message's idempotency key. Exactly one of N
// concurrent callers for the same key observes Fresh; the rest wait for the
// winner's write to commit (or the lease to expire) and return the committed
// message id.
func (d *Deduplicator) CheckAndReserve(ctx context.Context, msg *model.UnifiedMessage) (DedupResult, error) {
	if existing, err := d.committed(ctx, msg); err != nil {
		return DedupResult{}, err
	} else if existing != nil {
		return DedupResult{Fresh: false, ExistingMessageID: existing.ID}, nil
	}

	for {
		outcome, err := d.lease.Reserve(ctx, msg.Platform, msg.PlatformMessageID, msg.ID, d.ttl)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Holder vanished between operations; try again.
				continue
			}
			return DedupResult{}, fmt.Errorf("reserving idempotency key: %w", err)
		}
		if outcome.Won {
			return DedupResult{Fresh: true}, nil
		}

		d.logger.DebugContext(ctx, "idempotency key held, waiting for in-flight write",
			"holder_message_id", outcome.HolderMessageID)

		existing, err := d.awaitCommit(ctx, msg)
		if err != nil {
			return DedupResult{}, err
		}
		if existing != nil {
			return DedupResult{Fresh: false, ExistingMessageID: existing.ID}, nil
		}
		// Lease expired without a commit (holder crashed). Loop to reclaim
		// the key.
	}
}

// Complete releases the lease after the write committed. The message row now
// serves all future lookups.
func (d *Deduplicator) Complete(ctx context.Context, msg *model.UnifiedMessage) {
	if err := d.lease.Release(ctx, msg.Platform, msg.PlatformMessageID, msg.ID); err != nil {
		d.logger.WarnContext(ctx, "failed to release idempotency lease", "error", err)
	}
}

// Abandon frees the key after a failed write so the platform's redelivery is
// not blocked until the lease TTL.
func (d *Deduplicator) Abandon(ctx context.Context, msg *model.UnifiedMessage) {
	if err := d.lease.Release(ctx, msg.Platform, msg.PlatformMessageID, msg.ID); err != nil {
		d.logger.WarnContext(ctx, "failed to release idempotency lease", "error", err)
	}
}

func (d *Deduplicator) committed(ctx context.Context, msg *model.UnifiedMessage) (*model.UnifiedMessage, error) {
	existing, err := d.messages.GetByPlatformMessageID(ctx, msg.Platform, msg.PlatformMessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up committed message: %w", err)
	}
	return existing, nil
}

// awaitCommit polls the committed index until the holder's write lands, the
// lease TTL passes, or the caller's deadline expires.
func (d *Deduplicator) awaitCommit(ctx context.Context, msg *model.UnifiedMessage) (*model.UnifiedMessage, error) {
	deadline := time.NewTimer(d.ttl)
	defer deadline.Stop()
	tick := time.NewTicker(d.pollInterval)
	defer tick.Stop()

	for {
		existing, err := d.committed(ctx, msg)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for in-flight duplicate: %w", ctx.Err())
		case <-deadline.C:
			return nil, nil
		case <-tick.C:
		}
	}
}
