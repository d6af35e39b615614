package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnibox.app/ingest/common/id"
	"omnibox.app/ingest/internal/fanout"
	"omnibox.app/ingest/internal/ingest"
	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/platform"
	"omnibox.app/ingest/internal/store/memory"
)

type capturingPublisher struct {
	mu        sync.Mutex
	published []*model.UnifiedMessage
}

func (p *capturingPublisher) Publish(ctx context.Context, msg *model.UnifiedMessage) fanout.DeliveryReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return fanout.DeliveryReport{Attempted: 1, Delivered: 1}
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type capturingTaskProducer struct {
	mu       sync.Mutex
	enqueued []int64
	failWith error
}

func (t *capturingTaskProducer) EnqueueCategorize(ctx context.Context, msg *model.UnifiedMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWith != nil {
		return t.failWith
	}
	t.enqueued = append(t.enqueued, msg.ID)
	return nil
}

func telegramPayload(messageID int64, chatID int64, text string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"message": {
			"message_id": %d,
			"from": {"id": 42, "first_name": "Alice"},
			"chat": {"id": %d, "type": "private"},
			"date": 1700000000,
			"text": %q
		}
	}`, messageID, chatID, text))
}

var _ = Describe("Pipeline", func() {
	var (
		ctx       context.Context
		db        *memory.Store
		lease     *memory.Lease
		publisher *capturingPublisher
		tasks     *capturingTaskProducer
		pipeline  *ingest.Pipeline
	)

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		db = memory.New()
		lease = memory.NewLease()
		publisher = &capturingPublisher{}
		tasks = &capturingTaskProducer{}

		registry, err := platform.Default()
		Expect(err).NotTo(HaveOccurred())

		pipeline = ingest.NewPipeline(
			ingest.NewNormalizer(registry),
			ingest.NewDeduplicator(lease, db.Messages(), time.Second, nil),
			ingest.NewConversationResolver(),
			db,
			publisher,
			tasks,
			nil,
		)
	})

	Describe("Ingest", func() {
		It("accepts a fresh message and assigns sequence 1", func() {
			result, err := pipeline.Ingest(ctx, model.PlatformTelegram, telegramPayload(555, 900, "hello"))

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(ingest.StatusAccepted))
			Expect(result.SequenceNumber).To(Equal(int64(1)))
			Expect(result.MessageID).NotTo(BeZero())
			Expect(result.ConversationID).NotTo(BeZero())

			stored, err := db.Messages().GetByID(ctx, result.MessageID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ConversationID).To(Equal(result.ConversationID))
			Expect(stored.SequenceNumber).To(Equal(int64(1)))
			Expect(stored.Body).To(Equal("hello"))

			Expect(publisher.count()).To(Equal(1))
			Expect(tasks.enqueued).To(ConsistOf(result.MessageID))
		})

		It("assigns consecutive sequence numbers within a conversation", func() {
			for i := 1; i <= 3; i++ {
				result, err := pipeline.Ingest(ctx, model.PlatformTelegram, telegramPayload(int64(i), 900, "msg"))
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Status).To(Equal(ingest.StatusAccepted))
				Expect(result.SequenceNumber).To(Equal(int64(i)))
			}
		})

		It("keeps sequences independent across conversations", func() {
			first, err := pipeline.Ingest(ctx, model.PlatformTelegram, telegramPayload(1, 900, "a"))
			Expect(err).NotTo(HaveOccurred())
			second, err := pipeline.Ingest(ctx, model.PlatformTelegram, telegramPayload(2, 901, "b"))
			Expect(err).NotTo(HaveOccurred())

			Expect(first.ConversationID).NotTo(Equal(second.ConversationID))
			Expect(first.SequenceNumber).To(Equal(int64(1)))
			Expect(second.SequenceNumber).To(Equal(int64(1)))
		})

		It("reports a redelivered payload as duplicate with the original message id", func() {
			first, err := pipeline.Ingest(ctx, model.PlatformTelegram, telegramPayload(555, 900, "hello"))
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Status).To(Equal(ingest.StatusAccepted))

			second, err := pipeline.Ingest(ctx, model.PlatformTelegram, telegramPayload(555, 900, "hello"))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Status).To(Equal(ingest.StatusDuplicate))
			Expect(second.MessageID).To(Equal(first.MessageID))

			// The duplicate consumed no sequence number.
			third, err := pipeline.Ingest(ctx, model.PlatformTelegram, telegramPayload(556, 900, "next"))
			Expect(err).NotTo(HaveOccurred())
			Expect(third.SequenceNumber).To(Equal(int64(2)))
		})

		It("rejects malformed payloads without consuming anything", func() {
			result, err := pipeline.Ingest(ctx, model.PlatformTelegram, json.RawMessage(`{"update_id": 7}`))

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(ingest.StatusRejected))
			Expect(result.Reason).NotTo(BeEmpty())

			follow, err := pipeline.Ingest(ctx, model.PlatformTelegram, telegramPayload(1, 900, "ok"))
			Expect(err).NotTo(HaveOccurred())
			Expect(follow.SequenceNumber).To(Equal(int64(1)))
		})

		It("rejects unknown platforms", func() {
			result, err := pipeline.Ingest(ctx, model.Platform("pager"), telegramPayload(1, 900, "ok"))

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(ingest.StatusRejected))
		})

		It("returns retryable failure when the store is down and consumes no sequence", func() {
			db.FailAppends(errors.New("connection refused"))

			result, err := pipeline.Ingest(ctx, model.PlatformTelegram, telegramPayload(555, 900, "hello"))
			Expect(err).To(HaveOccurred())
			Expect(result.Status).To(Equal(ingest.StatusRetryable))
			Expect(publisher.count()).To(BeZero())

			// Recovery: the same delivery now lands with sequence 1, proving the
			// failed attempt rolled back its allocation.
			db.FailAppends(nil)
			retry, err := pipeline.Ingest(ctx, model.PlatformTelegram, telegramPayload(555, 900, "hello"))
			Expect(err).NotTo(HaveOccurred())
			Expect(retry.Status).To(Equal(ingest.StatusAccepted))
			Expect(retry.SequenceNumber).To(Equal(int64(1)))
		})

		It("does not fail ingestion when task enqueueing fails", func() {
			tasks.failWith = errors.New("stream unavailable")

			result, err := pipeline.Ingest(ctx, model.PlatformTelegram, telegramPayload(555, 900, "hello"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(ingest.StatusAccepted))
		})

		It("yields gapless sequences under concurrent ingestion", func() {
			const n = 50

			var wg sync.WaitGroup
			results := make([]ingest.Result, n)
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = pipeline.Ingest(ctx, model.PlatformTelegram,
						telegramPayload(int64(1000+i), 900, "concurrent"))
				}(i)
			}
			wg.Wait()

			seen := make(map[int64]bool, n)
			for i := 0; i < n; i++ {
				Expect(errs[i]).NotTo(HaveOccurred())
				Expect(results[i].Status).To(Equal(ingest.StatusAccepted))
				Expect(seen[results[i].SequenceNumber]).To(BeFalse(),
					"sequence %d assigned twice", results[i].SequenceNumber)
				seen[results[i].SequenceNumber] = true
			}
			for seq := int64(1); seq <= n; seq++ {
				Expect(seen[seq]).To(BeTrue(), "sequence %d missing", seq)
			}
		})

		It("resolves concurrent deliveries of the same message to one acceptance", func() {
			const n = 10

			var wg sync.WaitGroup
			results := make([]ingest.Result, n)
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = pipeline.Ingest(ctx, model.PlatformTelegram,
						telegramPayload(555, 900, "hello"))
				}(i)
			}
			wg.Wait()

			var accepted, duplicates int
			var acceptedID, acceptedConv int64
			for i := 0; i < n; i++ {
				Expect(errs[i]).NotTo(HaveOccurred())
				switch results[i].Status {
				case ingest.StatusAccepted:
					accepted++
					acceptedID = results[i].MessageID
					acceptedConv = results[i].ConversationID
				case ingest.StatusDuplicate:
					duplicates++
				default:
					Fail(fmt.Sprintf("unexpected status %s", results[i].Status))
				}
			}
			Expect(accepted).To(Equal(1))
			Expect(duplicates).To(Equal(n - 1))
			for i := 0; i < n; i++ {
				Expect(results[i].MessageID).To(Equal(acceptedID))
			}

			// One stored message, one consumed sequence number.
			msgs, err := db.Messages().ListAfter(ctx, acceptedConv, 0, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].SequenceNumber).To(Equal(int64(1)))
		})
	})
})
