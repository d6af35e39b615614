package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"omnibox.app/ingest/common/logger"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter queue stream for failed tasks
	BatchSize    int64         // Number of tasks to process per batch
	Block        time.Duration // How long to block/poll for new tasks
	RequeueDelay time.Duration // Delay before retrying failed tasks
}

// Task is one categorization job read from the stream.
type Task struct {
	ID             string // stream entry id
	MessageID      int64
	ConversationID int64
	Platform       string
	Attempt        int
	TraceID        string // originating ingestion trace, propagated for span linkage
	Raw            redis.XMessage
}

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Consumer groups are just readers, tasks live in the stream itself.
	// Starting from "0" instead of "$" means we don't lose tasks that were
	// enqueued while the worker was down.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Task, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "ingest.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// > = new tasks not yet delivered to anyone.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Task{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var tasks []Task
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseTask(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse task",
					"error", parseErr,
					"stream_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Task{ID: msg.ID, Raw: msg})
				continue
			}
			tasks = append(tasks, parsed)
		}
	}

	if len(tasks) > 0 {
		slog.DebugContext(ctx, "read tasks from stream",
			"count", len(tasks),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return tasks, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, task Task) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, task.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

func (c *RedisConsumer) Requeue(ctx context.Context, task Task, errMsg string) error {
	nextAttempt := task.Attempt + 1

	if err := c.Ack(ctx, task); err != nil {
		return fmt.Errorf("acking failed task for requeue: %w", err)
	}

	values := taskValues(task, nextAttempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		time.Sleep(c.cfg.RequeueDelay)
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "task requeued for retry",
		"message_id", task.MessageID,
		"next_attempt", nextAttempt,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, task Task, errMsg string) error {
	if err := c.Ack(ctx, task); err != nil {
		return fmt.Errorf("acking failed task for dlq: %w", err)
	}

	values := taskValues(task, task.Attempt)
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "task sent to DLQ",
		"message_id", task.MessageID,
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

func ParseTask(msg redis.XMessage) (Task, error) {
	messageID, err := parseInt64(msg.Values, "message_id")
	if err != nil {
		return Task{}, err
	}
	conversationID, err := parseInt64(msg.Values, "conversation_id")
	if err != nil {
		return Task{}, err
	}
	platform, err := parseOptionalString(msg.Values, "platform")
	if err != nil {
		return Task{}, err
	}
	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Task{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Task{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return Task{
		ID:             msg.ID,
		MessageID:      messageID,
		ConversationID: conversationID,
		Platform:       platform,
		Attempt:        attempt,
		TraceID:        traceID,
		Raw:            msg,
	}, nil
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	str := fmt.Sprint(raw)
	num, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	str := fmt.Sprint(raw)
	num, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func taskValues(task Task, attempt int) map[string]any {
	values := map[string]any{
		"message_id":      task.MessageID,
		"conversation_id": task.ConversationID,
		"platform":        task.Platform,
		"attempt":         attempt,
	}
	if task.TraceID != "" {
		values["trace_id"] = task.TraceID
	}
	return values
}
