package ingest_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnibox.app/ingest/internal/ingest"
	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/store/memory"
)

var _ = Describe("Deduplicator", func() {
	var (
		ctx   context.Context
		db    *memory.Store
		lease *memory.Lease
		dedup *ingest.Deduplicator
	)

	draft := func(msgID int64) *model.UnifiedMessage {
		return &model.UnifiedMessage{
			ID:                msgID,
			Platform:          model.PlatformTelegram,
			PlatformMessageID: "555",
			SenderID:          "42",
			Body:              "hello",
			OccurredAt:        time.Unix(1700000000, 0),
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = memory.New()
		lease = memory.NewLease()
		dedup = ingest.NewDeduplicator(lease, db.Messages(), 500*time.Millisecond, nil)
	})

	It("grants the first caller a fresh reservation", func() {
		result, err := dedup.CheckAndReserve(ctx, draft(1))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Fresh).To(BeTrue())
	})

	It("reports the committed message for a key seen after completion", func() {
		winner := draft(1)
		result, err := dedup.CheckAndReserve(ctx, winner)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Fresh).To(BeTrue())

		Expect(db.Messages().Append(ctx, winner)).To(Succeed())
		dedup.Complete(ctx, winner)

		redelivery, err := dedup.CheckAndReserve(ctx, draft(2))
		Expect(err).NotTo(HaveOccurred())
		Expect(redelivery.Fresh).To(BeFalse())
		Expect(redelivery.ExistingMessageID).To(Equal(int64(1)))
	})

	It("blocks a concurrent caller until the in-flight write commits", func() {
		winner := draft(1)
		result, err := dedup.CheckAndReserve(ctx, winner)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Fresh).To(BeTrue())

		var wg sync.WaitGroup
		var loserResult ingest.DedupResult
		var loserErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			loserResult, loserErr = dedup.CheckAndReserve(ctx, draft(2))
		}()

		// Give the loser time to land in the waiting path, then commit.
		time.Sleep(50 * time.Millisecond)
		Expect(db.Messages().Append(ctx, winner)).To(Succeed())
		dedup.Complete(ctx, winner)

		wg.Wait()
		Expect(loserErr).NotTo(HaveOccurred())
		Expect(loserResult.Fresh).To(BeFalse())
		Expect(loserResult.ExistingMessageID).To(Equal(int64(1)))
	})

	It("frees the key on abandon so redelivery proceeds", func() {
		failed := draft(1)
		result, err := dedup.CheckAndReserve(ctx, failed)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Fresh).To(BeTrue())

		dedup.Abandon(ctx, failed)

		retry, err := dedup.CheckAndReserve(ctx, draft(2))
		Expect(err).NotTo(HaveOccurred())
		Expect(retry.Fresh).To(BeTrue())
	})

	It("lets a waiter reclaim the key after the holder's lease expires", func() {
		now := time.Unix(1700000000, 0)
		var mu sync.Mutex
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		lease = memory.NewLeaseWithClock(clock)
		dedup = ingest.NewDeduplicator(lease, db.Messages(), 50*time.Millisecond, nil)

		crashed := draft(1)
		result, err := dedup.CheckAndReserve(ctx, crashed)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Fresh).To(BeTrue())

		// The holder never commits. Advance past the TTL so the next caller
		// wins the reservation instead of waiting forever.
		mu.Lock()
		now = now.Add(time.Second)
		mu.Unlock()

		reclaimed, err := dedup.CheckAndReserve(ctx, draft(2))
		Expect(err).NotTo(HaveOccurred())
		Expect(reclaimed.Fresh).To(BeTrue())
	})

	It("respects the caller's deadline while waiting", func() {
		winner := draft(1)
		result, err := dedup.CheckAndReserve(ctx, winner)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Fresh).To(BeTrue())

		shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		_, err = dedup.CheckAndReserve(shortCtx, draft(2))
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})
