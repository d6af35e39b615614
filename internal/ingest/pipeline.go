package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"omnibox.app/ingest/common/logger"
	"omnibox.app/ingest/internal/fanout"
	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/platform"
	"omnibox.app/ingest/internal/store"
)

// Publisher pushes an ingested message to live subscribers. Delivery outcome
// never affects the pipeline result.
type Publisher interface {
	Publish(ctx context.Context, msg *model.UnifiedMessage) fanout.DeliveryReport
}

// TaskProducer hands the message to asynchronous downstream consumers
// (categorization). Optional; failures are logged, never escalated.
type TaskProducer interface {
	EnqueueCategorize(ctx context.Context, msg *model.UnifiedMessage) error
}

// conflictRetries bounds internal retries of the resolution step when two
// resolvers race on conversation creation.
const conflictRetries = 3

// Pipeline runs one inbound event through
// normalize -> dedup -> resolve -> persist -> fan out.
type Pipeline struct {
	normalizer *Normalizer
	dedup      *Deduplicator
	resolver   *ConversationResolver
	txRunner   store.TxRunner
	publisher  Publisher
	tasks      TaskProducer
	logger     *slog.Logger
}

func NewPipeline(normalizer *Normalizer, dedup *Deduplicator, resolver *ConversationResolver, txRunner store.TxRunner, publisher Publisher, tasks TaskProducer, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		normalizer: normalizer,
		dedup:      dedup,
		resolver:   resolver,
		txRunner:   txRunner,
		publisher:  publisher,
		tasks:      tasks,
		logger:     log,
	}
}

// Ingest processes one raw platform payload to a terminal result. The error
// is non-nil only alongside StatusRetryable and carries the underlying cause
// for the caller's logs; retry policy itself belongs to the caller.
func (p *Pipeline) Ingest(ctx context.Context, plat model.Platform, payload json.RawMessage) (Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Platform:  logger.Ptr(string(plat)),
		Component: "ingest.pipeline",
	})

	// Received -> Normalized
	msg, groupingKey, err := p.normalizer.Normalize(plat, payload)
	if err != nil {
		if errors.Is(err, platform.ErrMalformed) || errors.Is(err, ErrUnknownPlatform) {
			p.logger.WarnContext(ctx, "payload rejected", "error", err)
			return Result{Status: StatusRejected, Reason: err.Error()}, nil
		}
		return Result{Status: StatusRetryable, Reason: err.Error()}, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: logger.Ptr(msg.ID),
		NativeID:  logger.Ptr(msg.PlatformMessageID),
	})

	// Normalized -> DedupChecked
	dedup, err := p.dedup.CheckAndReserve(ctx, msg)
	if err != nil {
		return Result{Status: StatusRetryable, Reason: err.Error()}, err
	}
	if !dedup.Fresh {
		p.logger.InfoContext(ctx, "duplicate delivery deduped",
			"existing_message_id", dedup.ExistingMessageID)
		return Result{Status: StatusDuplicate, MessageID: dedup.ExistingMessageID}, nil
	}

	// DedupChecked(Fresh) -> ConversationResolved -> Persisted. The resolve
	// and append share one transaction: a failed append rolls back the
	// sequence allocation.
	if err := p.persist(ctx, msg, groupingKey); err != nil {
		p.dedup.Abandon(ctx, msg)
		if errors.Is(err, store.ErrConflict) {
			// The append raced a concurrent writer that slipped past the
			// lease. Surface the committed message as a duplicate.
			if existing, lookupErr := p.dedup.committed(ctx, msg); lookupErr == nil && existing != nil {
				return Result{Status: StatusDuplicate, MessageID: existing.ID}, nil
			}
		}
		p.logger.ErrorContext(ctx, "persist failed", "error", err)
		return Result{Status: StatusRetryable, Reason: err.Error()}, err
	}
	p.dedup.Complete(ctx, msg)

	ctx = logger.WithLogFields(ctx, logger.LogFields{ConversationID: logger.Ptr(msg.ConversationID)})

	// Persisted -> FannedOut. Fire-and-forget relative to the result: a
	// persisted message is a successful ingestion even if no subscriber got
	// it; they catch up via history.
	report := p.publisher.Publish(ctx, msg)
	p.logger.InfoContext(ctx, "message ingested",
		"sequence_number", msg.SequenceNumber,
		"fanout_attempted", report.Attempted,
		"fanout_delivered", report.Delivered,
		"fanout_dropped", report.Dropped)

	if p.tasks != nil {
		if err := p.tasks.EnqueueCategorize(ctx, msg); err != nil {
			p.logger.WarnContext(ctx, "failed to enqueue categorization", "error", err)
		}
	}

	return Result{
		Status:         StatusAccepted,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SequenceNumber: msg.SequenceNumber,
	}, nil
}

func (p *Pipeline) persist(ctx context.Context, msg *model.UnifiedMessage, groupingKey string) error {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		lastErr = p.txRunner.WithTx(ctx, func(sp store.StoreProvider) error {
			convID, seq, err := p.resolver.Resolve(ctx, sp, msg, groupingKey)
			if err != nil {
				return err
			}
			msg.ConversationID = convID
			msg.SequenceNumber = seq
			return sp.Messages().Append(ctx, msg)
		})
		if lastErr == nil {
			return nil
		}
		// Only a raced conversation creation is retried internally; the
		// message append hitting ErrConflict means a true duplicate, which
		// the caller resolves.
		if !errors.Is(lastErr, store.ErrConflict) || msg.ConversationID != 0 {
			return lastErr
		}
	}
	return fmt.Errorf("conversation resolution conflict persisted after %d attempts: %w", conflictRetries, lastErr)
}
