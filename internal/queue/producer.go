package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"omnibox.app/ingest/internal/model"
)

// Producer hands ingested messages to the asynchronous categorization
// consumer. Categorization is never on the ingestion critical path.
type Producer interface {
	EnqueueCategorize(ctx context.Context, msg *model.UnifiedMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) EnqueueCategorize(ctx context.Context, msg *model.UnifiedMessage) error {
	fields := map[string]any{
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
		"platform":        string(msg.Platform),
		"attempt":         1,
	}

	// Carry the ingestion trace across the stream so the worker's span links
	// back to the webhook request.
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields["trace_id"] = spanCtx.TraceID().String()
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue categorize task: %w", err)
	}

	p.logger.DebugContext(ctx, "enqueued categorize task", "message_id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
