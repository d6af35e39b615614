package ingest_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnibox.app/ingest/common/id"
	"omnibox.app/ingest/internal/ingest"
	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/platform"
	"omnibox.app/ingest/internal/store/memory"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx        context.Context
		db         *memory.Store
		dispatcher *ingest.Dispatcher
	)

	newDispatcher := func(cfg ingest.DispatcherConfig) *ingest.Dispatcher {
		registry, err := platform.Default()
		Expect(err).NotTo(HaveOccurred())

		pipeline := ingest.NewPipeline(
			ingest.NewNormalizer(registry),
			ingest.NewDeduplicator(memory.NewLease(), db.Messages(), time.Second, nil),
			ingest.NewConversationResolver(),
			db,
			&capturingPublisher{},
			nil,
			nil,
		)
		return ingest.NewDispatcher(pipeline, registry.Platforms(), cfg, nil)
	}

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())
		db = memory.New()
	})

	AfterEach(func() {
		if dispatcher != nil {
			dispatcher.Stop()
			dispatcher = nil
		}
	})

	It("runs a payload through its platform pool", func() {
		dispatcher = newDispatcher(ingest.DispatcherConfig{})
		dispatcher.Start()

		result, err := dispatcher.Ingest(ctx, model.PlatformTelegram, telegramPayload(1, 900, "hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(ingest.StatusAccepted))
		Expect(result.SequenceNumber).To(Equal(int64(1)))
	})

	It("rejects platforms without a pool", func() {
		dispatcher = newDispatcher(ingest.DispatcherConfig{})
		dispatcher.Start()

		result, err := dispatcher.Ingest(ctx, model.Platform("fax"), telegramPayload(1, 900, "hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(ingest.StatusRejected))
	})

	It("sheds load as retryable when a platform queue is saturated", func() {
		// No workers draining: Start is never called, so the queue fills.
		dispatcher = newDispatcher(ingest.DispatcherConfig{
			WorkersPerPlatform:    1,
			QueueDepthPerPlatform: 1,
		})

		first := make(chan struct{})
		go func() {
			defer close(first)
			// Occupies the single queue slot; never completes because no
			// worker runs. The call blocks on the result channel until ctx
			// expires.
			submitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
			defer cancel()
			_, _ = dispatcher.Ingest(submitCtx, model.PlatformTelegram, telegramPayload(1, 900, "a"))
		}()

		Eventually(func() ingest.Status {
			result, _ := dispatcher.Ingest(ctx, model.PlatformTelegram, telegramPayload(2, 900, "b"))
			return result.Status
		}, time.Second, 10*time.Millisecond).Should(Equal(ingest.StatusRetryable))

		<-first
		dispatcher.Start()
	})

	It("reports retryable when the dispatcher is stopped", func() {
		dispatcher = newDispatcher(ingest.DispatcherConfig{})
		dispatcher.Start()
		dispatcher.Stop()

		result, err := dispatcher.Ingest(ctx, model.PlatformTelegram, telegramPayload(1, 900, "hi"))
		Expect(err).To(HaveOccurred())
		Expect(result.Status).To(Equal(ingest.StatusRetryable))
		dispatcher = nil
	})
})
