package service_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/service"
	"omnibox.app/ingest/internal/store"
	"omnibox.app/ingest/internal/store/memory"
)

var _ = Describe("HistoryService", func() {
	var (
		ctx     context.Context
		mem     *memory.Store
		history service.HistoryService
	)

	seedConversation := func(id int64) {
		_, created, err := mem.Conversations().CreateOrGet(ctx, &model.Conversation{
			ID:          id,
			Platform:    model.PlatformTelegram,
			GroupingKey: fmt.Sprintf("chat:%d", id),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
	}

	seedMessages := func(conversationID int64, count int) {
		for i := 1; i <= count; i++ {
			seq, err := mem.Conversations().AllocateSequence(ctx, conversationID, "42", time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.Messages().Append(ctx, &model.UnifiedMessage{
				ID:                int64(1000 + i),
				Platform:          model.PlatformTelegram,
				PlatformMessageID: fmt.Sprintf("%d:%d", conversationID, i),
				SenderID:          "42",
				ConversationID:    conversationID,
				SequenceNumber:    seq,
				Body:              fmt.Sprintf("message %d", i),
			})).To(Succeed())
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		mem = memory.New()
		history = service.NewHistoryService(mem)
	})

	Describe("GetConversation", func() {
		It("returns the conversation by id", func() {
			seedConversation(7)

			conv, err := history.GetConversation(ctx, 7)

			Expect(err).NotTo(HaveOccurred())
			Expect(conv.ID).To(Equal(int64(7)))
			Expect(conv.Platform).To(Equal(model.PlatformTelegram))
		})

		It("maps a missing conversation to ErrConversationNotFound", func() {
			_, err := history.GetConversation(ctx, 99)
			Expect(err).To(MatchError(service.ErrConversationNotFound))
		})
	})

	Describe("ListMessages", func() {
		It("returns messages after the cursor in sequence order", func() {
			seedConversation(7)
			seedMessages(7, 5)

			messages, err := history.ListMessages(ctx, 7, 2, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(HaveLen(3))
			Expect(messages[0].SequenceNumber).To(Equal(int64(3)))
			Expect(messages[2].SequenceNumber).To(Equal(int64(5)))
		})

		It("clamps the page size to the maximum", func() {
			seedConversation(7)
			seedMessages(7, 3)

			messages, err := history.ListMessages(ctx, 7, 0, 100000)

			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(HaveLen(3))
		})

		It("fails for an unknown conversation instead of returning an empty page", func() {
			_, err := history.ListMessages(ctx, 99, 0, 10)
			Expect(err).To(MatchError(service.ErrConversationNotFound))
		})
	})

	Describe("GetCategory", func() {
		It("returns the stored annotation", func() {
			Expect(mem.Categories().Set(ctx, &model.MessageCategory{
				MessageID: 1001,
				Category:  model.CategoryUrgent,
				Source:    model.CategorySourceCompletion,
			})).To(Succeed())

			cat, err := history.GetCategory(ctx, 1001)

			Expect(err).NotTo(HaveOccurred())
			Expect(cat.Category).To(Equal(model.CategoryUrgent))
			Expect(cat.Source).To(Equal(model.CategorySourceCompletion))
		})

		It("surfaces ErrNotFound for an uncategorized message", func() {
			_, err := history.GetCategory(ctx, 1001)
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})
})
