package memory

import (
	"context"
	"sync"
	"time"

	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/store"
)

// Lease is an in-process IdempotencyLease with real expiry semantics, used by
// tests in place of the redis implementation.
type Lease struct {
	mu      sync.Mutex
	entries map[string]leaseEntry
	now     func() time.Time
}

type leaseEntry struct {
	messageID int64
	expiresAt time.Time
}

func NewLease() *Lease {
	return &Lease{
		entries: make(map[string]leaseEntry),
		now:     time.Now,
	}
}

// NewLeaseWithClock allows tests to control expiry.
func NewLeaseWithClock(now func() time.Time) *Lease {
	return &Lease{
		entries: make(map[string]leaseEntry),
		now:     now,
	}
}

func (l *Lease) Reserve(ctx context.Context, platform model.Platform, nativeID string, messageID int64, ttl time.Duration) (store.ReserveOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := string(platform) + ":" + nativeID
	if entry, ok := l.entries[key]; ok && l.now().Before(entry.expiresAt) {
		return store.ReserveOutcome{Won: false, HolderMessageID: entry.messageID}, nil
	}

	l.entries[key] = leaseEntry{messageID: messageID, expiresAt: l.now().Add(ttl)}
	return store.ReserveOutcome{Won: true}, nil
}

func (l *Lease) Release(ctx context.Context, platform model.Platform, nativeID string, messageID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := string(platform) + ":" + nativeID
	if entry, ok := l.entries[key]; ok && entry.messageID == messageID {
		delete(l.entries, key)
	}
	return nil
}
