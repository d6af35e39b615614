package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"omnibox.app/ingest/common/logger"
	"omnibox.app/ingest/internal/queue"
)

// Classifier assigns a category to an ingested message.
// Satisfied by categorize.Categorizer.
type Classifier interface {
	Categorize(ctx context.Context, messageID int64) error
}

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer   *queue.RedisConsumer
	classifier Classifier
	cfg        Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer *queue.RedisConsumer, classifier Classifier, cfg Config) *Worker {
	return &Worker{
		consumer:   consumer,
		classifier: classifier,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "ingest.worker",
	})

	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	tasks, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, task := range tasks {
		if err := w.processTaskSafe(ctx, task); err != nil {
			slog.ErrorContext(ctx, "task processing failed",
				"error", err,
				"stream_id", task.ID,
				"message_id", task.MessageID)
			w.handleFailedTask(ctx, task, err)
		}
	}

	return nil
}

func (w *Worker) processTaskSafe(ctx context.Context, task queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in task processing",
				"panic", r,
				"stream_id", task.ID,
				"message_id", task.MessageID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessTask(ctx, task)
}

// Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessTask(ctx context.Context, task queue.Task) error {
	sc := logger.StartSpanFromTraceID(ctx, task.TraceID, "worker.categorize_message",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		StreamID:       &task.ID,
		MessageID:      &task.MessageID,
		ConversationID: &task.ConversationID,
	})

	slog.InfoContext(ctx, "processing categorization task",
		"platform", task.Platform,
		"attempt", task.Attempt)

	if err := w.classifier.Categorize(ctx, task.MessageID); err != nil {
		// Don't ACK, the task will be retried or dead-lettered
		sc.RecordError(err)
		return fmt.Errorf("categorizing message: %w", err)
	}

	if err := w.consumer.Ack(ctx, task); err != nil {
		// Log but don't fail - the task will be reclaimed but that's safe
		slog.WarnContext(ctx, "failed to ACK task", "error", err)
	}

	return nil
}

func (w *Worker) handleFailedTask(ctx context.Context, task queue.Task, err error) {
	if task.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"stream_id", task.ID,
			"message_id", task.MessageID,
			"attempts", task.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, task, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed task",
		"stream_id", task.ID,
		"message_id", task.MessageID,
		"attempt", task.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, task, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue task", "error", requeueErr)
	}
}
