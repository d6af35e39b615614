package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"omnibox.app/ingest/common/logger"
	"omnibox.app/ingest/internal/model"
)

// Hub routes ingested messages to subscribers. Publish never blocks on a slow
// subscriber; ingestion throughput is independent of consumer speed.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	queueDepth  int
	logger      *slog.Logger
}

func NewHub(queueDepth int, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		queueDepth:  queueDepth,
		logger:      log,
	}
}

// Subscribe registers a new session. The caller must Unsubscribe when the
// session ends.
func (h *Hub) Subscribe(filter Filter) *Subscriber {
	sub := newSubscriber(uuid.NewString(), filter, h.queueDepth)

	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber registered", "subscriber_id", sub.id,
		"conversation_id", filter.ConversationID, "platform", string(filter.Platform))
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub.id)
	h.mu.Unlock()
	sub.close()
}

// Publish offers msg to every matching subscriber. At-least-once per open
// subscriber: an item is either enqueued or converted into a gap marker,
// never silently lost.
func (h *Hub) Publish(ctx context.Context, msg *model.UnifiedMessage) DeliveryReport {
	h.mu.RLock()
	matched := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		if sub.filter.matches(msg) {
			matched = append(matched, sub)
		}
	}
	h.mu.RUnlock()

	report := DeliveryReport{Attempted: len(matched)}
	for _, sub := range matched {
		if sub.offer(Envelope{Kind: KindMessage, Message: msg}) {
			report.Delivered++
		} else {
			report.Dropped++
			subID := sub.id
			h.logger.WarnContext(logger.WithLogFields(ctx, logger.LogFields{SubscriberID: &subID}),
				"subscriber queue saturated, message absorbed into gap",
				"conversation_id", msg.ConversationID,
				"sequence_number", msg.SequenceNumber)
		}
	}
	return report
}

// SubscriberCount is used by tests and the health endpoint.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
