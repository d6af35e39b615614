package fanout_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnibox.app/ingest/internal/fanout"
	"omnibox.app/ingest/internal/model"
)

func message(id, convID int64, seq int64, plat model.Platform) *model.UnifiedMessage {
	return &model.UnifiedMessage{
		ID:                id,
		Platform:          plat,
		PlatformMessageID: fmt.Sprintf("native-%d", id),
		SenderID:          "42",
		ConversationID:    convID,
		SequenceNumber:    seq,
		Body:              fmt.Sprintf("message %d", seq),
	}
}

var _ = Describe("Hub", func() {
	var (
		ctx context.Context
		hub *fanout.Hub
	)

	BeforeEach(func() {
		ctx = context.Background()
		hub = fanout.NewHub(4, nil)
	})

	It("delivers published messages to a subscriber in order", func() {
		sub := hub.Subscribe(fanout.Filter{})
		defer hub.Unsubscribe(sub)

		for seq := int64(1); seq <= 3; seq++ {
			hub.Publish(ctx, message(seq, 10, seq, model.PlatformTelegram))
		}

		for seq := int64(1); seq <= 3; seq++ {
			env, ok := sub.Next(ctx)
			Expect(ok).To(BeTrue())
			Expect(env.Kind).To(Equal(fanout.KindMessage))
			Expect(env.Message.SequenceNumber).To(Equal(seq))
		}
	})

	It("filters by conversation", func() {
		sub := hub.Subscribe(fanout.Filter{ConversationID: 10})
		defer hub.Unsubscribe(sub)

		hub.Publish(ctx, message(1, 99, 1, model.PlatformTelegram))
		hub.Publish(ctx, message(2, 10, 1, model.PlatformTelegram))

		env, ok := sub.Next(ctx)
		Expect(ok).To(BeTrue())
		Expect(env.Message.ConversationID).To(Equal(int64(10)))
	})

	It("filters by platform", func() {
		sub := hub.Subscribe(fanout.Filter{Platform: model.PlatformGmail})
		defer hub.Unsubscribe(sub)

		report := hub.Publish(ctx, message(1, 10, 1, model.PlatformTelegram))
		Expect(report.Attempted).To(BeZero())

		hub.Publish(ctx, message(2, 11, 1, model.PlatformGmail))
		env, ok := sub.Next(ctx)
		Expect(ok).To(BeTrue())
		Expect(env.Message.Platform).To(Equal(model.PlatformGmail))
	})

	It("replaces overflowed messages with a gap marker for a slow subscriber", func() {
		sub := hub.Subscribe(fanout.Filter{})
		defer hub.Unsubscribe(sub)

		// Queue depth is 4. Messages 5 to 7 find the queue full and coalesce
		// into one gap marker behind the buffered messages.
		var reports []fanout.DeliveryReport
		for seq := int64(1); seq <= 7; seq++ {
			reports = append(reports, hub.Publish(ctx, message(seq, 10, seq, model.PlatformTelegram)))
		}
		for i, r := range reports {
			if i < 4 {
				Expect(r.Delivered).To(Equal(1))
			} else {
				Expect(r.Dropped).To(Equal(1))
			}
		}

		for seq := int64(1); seq <= 4; seq++ {
			env, ok := sub.Next(ctx)
			Expect(ok).To(BeTrue())
			Expect(env.Kind).To(Equal(fanout.KindMessage))
			Expect(env.Message.SequenceNumber).To(Equal(seq))
		}

		env, ok := sub.Next(ctx)
		Expect(ok).To(BeTrue())
		Expect(env.Kind).To(Equal(fanout.KindGap))
		Expect(env.Gap.ConversationID).To(Equal(int64(10)))
		Expect(env.Gap.Dropped).To(Equal(3))
	})

	It("never blocks publish on a saturated subscriber", func() {
		sub := hub.Subscribe(fanout.Filter{})
		defer hub.Unsubscribe(sub)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for seq := int64(1); seq <= 1000; seq++ {
				hub.Publish(ctx, message(seq, 10, seq, model.PlatformTelegram))
			}
		}()

		Eventually(done, time.Second).Should(BeClosed())
	})

	It("wakes a blocked reader when a message arrives", func() {
		sub := hub.Subscribe(fanout.Filter{})
		defer hub.Unsubscribe(sub)

		type received struct {
			env fanout.Envelope
			ok  bool
		}
		got := make(chan received, 1)
		go func() {
			env, ok := sub.Next(ctx)
			got <- received{env, ok}
		}()

		time.Sleep(20 * time.Millisecond)
		hub.Publish(ctx, message(1, 10, 1, model.PlatformTelegram))

		Eventually(got).Should(Receive(WithTransform(func(r received) bool {
			return r.ok && r.env.Kind == fanout.KindMessage
		}, BeTrue())))
	})

	It("ends Next when the subscriber is unsubscribed", func() {
		sub := hub.Subscribe(fanout.Filter{})

		got := make(chan bool, 1)
		go func() {
			_, ok := sub.Next(ctx)
			got <- ok
		}()

		time.Sleep(20 * time.Millisecond)
		hub.Unsubscribe(sub)

		Eventually(got).Should(Receive(BeFalse()))
		Expect(hub.SubscriberCount()).To(BeZero())
	})

	It("ends Next when the context is cancelled", func() {
		sub := hub.Subscribe(fanout.Filter{})
		defer hub.Unsubscribe(sub)

		cancelCtx, cancel := context.WithCancel(ctx)
		got := make(chan bool, 1)
		go func() {
			_, ok := sub.Next(cancelCtx)
			got <- ok
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()
		Eventually(got).Should(Receive(BeFalse()))
	})

	It("isolates slow subscribers from fast ones", func() {
		slow := hub.Subscribe(fanout.Filter{})
		fast := hub.Subscribe(fanout.Filter{})
		defer hub.Unsubscribe(slow)
		defer hub.Unsubscribe(fast)

		for seq := int64(1); seq <= 7; seq++ {
			hub.Publish(ctx, message(seq, 10, seq, model.PlatformTelegram))
			// Fast subscriber drains as it goes and never overflows.
			env, ok := fast.Next(ctx)
			Expect(ok).To(BeTrue())
			Expect(env.Kind).To(Equal(fanout.KindMessage))
			Expect(env.Message.SequenceNumber).To(Equal(seq))
		}

		// The slow subscriber kept its first four messages and a gap for the
		// rest.
		for seq := int64(1); seq <= 4; seq++ {
			env, ok := slow.Next(ctx)
			Expect(ok).To(BeTrue())
			Expect(env.Kind).To(Equal(fanout.KindMessage))
		}
		env, ok := slow.Next(ctx)
		Expect(ok).To(BeTrue())
		Expect(env.Kind).To(Equal(fanout.KindGap))
		Expect(env.Gap.Dropped).To(Equal(3))
	})

	It("marks a gap spanning conversations with conversation id 0", func() {
		sub := hub.Subscribe(fanout.Filter{})
		defer hub.Unsubscribe(sub)

		for seq := int64(1); seq <= 4; seq++ {
			hub.Publish(ctx, message(seq, 10, seq, model.PlatformTelegram))
		}
		hub.Publish(ctx, message(5, 10, 5, model.PlatformTelegram))
		hub.Publish(ctx, message(6, 11, 1, model.PlatformTelegram))

		for seq := int64(1); seq <= 4; seq++ {
			_, ok := sub.Next(ctx)
			Expect(ok).To(BeTrue())
		}
		env, ok := sub.Next(ctx)
		Expect(ok).To(BeTrue())
		Expect(env.Kind).To(Equal(fanout.KindGap))
		Expect(env.Gap.ConversationID).To(BeZero())
		Expect(env.Gap.Dropped).To(Equal(2))
	})
})
