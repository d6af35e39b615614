// Package redislease implements the idempotency reservation lease on Redis.
// SET NX PX gives the atomic claim; the TTL bounds how long a crashed writer
// can hold a key.
package redislease

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/store"
)

type Lease struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client) *Lease {
	return &Lease{client: client, prefix: "ingest:idem:"}
}

func (l *Lease) key(platform model.Platform, nativeID string) string {
	return l.prefix + string(platform) + ":" + nativeID
}

func (l *Lease) Reserve(ctx context.Context, platform model.Platform, nativeID string, messageID int64, ttl time.Duration) (store.ReserveOutcome, error) {
	key := l.key(platform, nativeID)

	won, err := l.client.SetNX(ctx, key, strconv.FormatInt(messageID, 10), ttl).Result()
	if err != nil {
		return store.ReserveOutcome{}, fmt.Errorf("reserving idempotency key: %w", err)
	}
	if won {
		return store.ReserveOutcome{Won: true}, nil
	}

	holder, err := l.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Holder expired or released between SETNX and GET; let the caller
		// retry the reservation.
		return store.ReserveOutcome{}, store.ErrConflict
	}
	if err != nil {
		return store.ReserveOutcome{}, fmt.Errorf("reading lease holder: %w", err)
	}

	holderID, err := strconv.ParseInt(holder, 10, 64)
	if err != nil {
		return store.ReserveOutcome{}, fmt.Errorf("parsing lease holder %q: %w", holder, err)
	}
	return store.ReserveOutcome{Won: false, HolderMessageID: holderID}, nil
}

// releaseScript deletes the key only if this message id still holds it, so a
// slow releaser cannot free a lease re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *Lease) Release(ctx context.Context, platform model.Platform, nativeID string, messageID int64) error {
	key := l.key(platform, nativeID)
	if err := releaseScript.Run(ctx, l.client, []string{key}, strconv.FormatInt(messageID, 10)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}
