package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"omnibox.app/ingest/internal/http/dto"
	"omnibox.app/ingest/internal/service"
	"omnibox.app/ingest/internal/store"
)

type HistoryHandler struct {
	history service.HistoryService
}

func NewHistoryHandler(history service.HistoryService) *HistoryHandler {
	return &HistoryHandler{history: history}
}

func (h *HistoryHandler) GetConversation(c *gin.Context) {
	ctx := c.Request.Context()

	conversationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	conv, err := h.history.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to get conversation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get conversation"})
		return
	}

	c.JSON(http.StatusOK, dto.FromConversation(conv))
}

// ListMessages pages through a conversation in sequence order. after_seq is
// exclusive, so a client resuming from sequence N passes after_seq=N and
// never sees N again.
func (h *HistoryHandler) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()

	conversationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	afterSeq, err := parseQueryInt64(c, "after_seq", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after_seq"})
		return
	}

	limit, err := parseQueryInt64(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	messages, err := h.history.ListMessages(ctx, conversationID, afterSeq, int32(limit))
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to list messages", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	resp := dto.ListMessagesResponse{Messages: make([]dto.MessageResponse, 0, len(messages))}
	for i := range messages {
		resp.Messages = append(resp.Messages, dto.FromMessage(&messages[i]))
	}
	if len(messages) > 0 {
		resp.NextAfterSeq = messages[len(messages)-1].SequenceNumber
	}

	c.JSON(http.StatusOK, resp)
}

func (h *HistoryHandler) GetMessageCategory(c *gin.Context) {
	ctx := c.Request.Context()

	messageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	cat, err := h.history.GetCategory(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to get category", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get category"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message_id": cat.MessageID,
		"category":   cat.Category,
		"source":     cat.Source,
	})
}

func parseQueryInt64(c *gin.Context, name string, def int64) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}
