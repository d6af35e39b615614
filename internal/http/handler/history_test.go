package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnibox.app/ingest/internal/http/handler"
	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/service"
	"omnibox.app/ingest/internal/store"
)

var _ = Describe("HistoryHandler", func() {
	var (
		router  *gin.Engine
		history *mockHistoryService
	)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		history = &mockHistoryService{}
		h := handler.NewHistoryHandler(history)
		router.GET("/conversations/:id", h.GetConversation)
		router.GET("/conversations/:id/messages", h.ListMessages)
		router.GET("/messages/:id/category", h.GetMessageCategory)
	})

	Describe("GetConversation", func() {
		It("returns the conversation", func() {
			history.getConversationFn = func(_ context.Context, id int64) (*model.Conversation, error) {
				return &model.Conversation{
					ID:                 id,
					Platform:           model.PlatformTelegram,
					ParticipantIDs:     []string{"42", "43"},
					LastSequenceNumber: 5,
					LastActivityAt:     time.Unix(1700000000, 0).UTC(),
				}, nil
			}

			w := get("/conversations/7")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["id"]).To(BeNumerically("==", 7))
			Expect(resp["last_sequence_number"]).To(BeNumerically("==", 5))
		})

		It("returns 404 for an unknown conversation", func() {
			history.getConversationFn = func(_ context.Context, _ int64) (*model.Conversation, error) {
				return nil, service.ErrConversationNotFound
			}

			Expect(get("/conversations/7").Code).To(Equal(http.StatusNotFound))
		})

		It("returns 400 for a bad id", func() {
			Expect(get("/conversations/abc").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("ListMessages", func() {
		It("passes after_seq and limit through and pages the response", func() {
			var gotAfter int64
			var gotLimit int32
			history.listMessagesFn = func(_ context.Context, convID, afterSeq int64, limit int32) ([]model.UnifiedMessage, error) {
				gotAfter, gotLimit = afterSeq, limit
				return []model.UnifiedMessage{
					{ID: 1, ConversationID: convID, SequenceNumber: 11, Body: "a"},
					{ID: 2, ConversationID: convID, SequenceNumber: 12, Body: "b"},
				}, nil
			}

			w := get("/conversations/7/messages?after_seq=10&limit=2")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotAfter).To(Equal(int64(10)))
			Expect(gotLimit).To(Equal(int32(2)))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["messages"]).To(HaveLen(2))
			Expect(resp["next_after_seq"]).To(BeNumerically("==", 12))
		})

		It("returns an empty page without a cursor", func() {
			w := get("/conversations/7/messages")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["messages"]).To(BeEmpty())
			Expect(resp).NotTo(HaveKey("next_after_seq"))
		})

		It("rejects a negative after_seq", func() {
			Expect(get("/conversations/7/messages?after_seq=-1").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GetMessageCategory", func() {
		It("returns the stored category", func() {
			history.getCategoryFn = func(_ context.Context, id int64) (*model.MessageCategory, error) {
				return &model.MessageCategory{
					MessageID: id,
					Category:  model.CategoryWork,
					Source:    model.CategorySourceKeyword,
				}, nil
			}

			w := get("/messages/101/category")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["category"]).To(Equal("work"))
		})

		It("returns 404 when no category exists yet", func() {
			history.getCategoryFn = func(_ context.Context, _ int64) (*model.MessageCategory, error) {
				return nil, store.ErrNotFound
			}

			Expect(get("/messages/101/category").Code).To(Equal(http.StatusNotFound))
		})
	})
})
