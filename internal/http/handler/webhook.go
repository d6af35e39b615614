package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"omnibox.app/ingest/internal/http/dto"
	"omnibox.app/ingest/internal/ingest"
	"omnibox.app/ingest/internal/model"
)

// Ingestor runs one payload through the ingestion pipeline. Satisfied by
// ingest.Dispatcher.
type Ingestor interface {
	Ingest(ctx context.Context, plat model.Platform, payload json.RawMessage) (ingest.Result, error)
}

type WebhookHandler struct {
	ingestor     Ingestor
	sharedSecret string
}

func NewWebhookHandler(ingestor Ingestor, sharedSecret string) *WebhookHandler {
	return &WebhookHandler{
		ingestor:     ingestor,
		sharedSecret: sharedSecret,
	}
}

// HandleDelivery accepts one raw platform payload on POST /webhooks/:platform.
// The response status tells the platform whether to redeliver: 2xx acks
// (including duplicates), 4xx means the payload is permanently unusable,
// 503 asks for a retry.
func (h *WebhookHandler) HandleDelivery(c *gin.Context) {
	ctx := c.Request.Context()

	if h.sharedSecret != "" {
		token := c.GetHeader("X-Omnibox-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.sharedSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return
		}
	}

	plat := model.Platform(c.Param("platform"))
	if !plat.Known() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown platform"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	result, err := h.ingestor.Ingest(ctx, plat, body)

	resp := dto.IngestResponse{
		Status:         string(result.Status),
		MessageID:      result.MessageID,
		ConversationID: result.ConversationID,
		SequenceNumber: result.SequenceNumber,
		Reason:         result.Reason,
	}

	switch result.Status {
	case ingest.StatusAccepted:
		c.JSON(http.StatusCreated, resp)
	case ingest.StatusDuplicate:
		c.JSON(http.StatusOK, resp)
	case ingest.StatusRejected:
		slog.WarnContext(ctx, "rejected webhook payload",
			"platform", plat,
			"reason", result.Reason)
		c.JSON(http.StatusBadRequest, resp)
	case ingest.StatusRetryable:
		slog.ErrorContext(ctx, "retryable ingestion failure",
			"error", err,
			"platform", plat,
			"reason", result.Reason)
		c.JSON(http.StatusServiceUnavailable, resp)
	default:
		slog.ErrorContext(ctx, "unexpected ingestion status",
			"status", result.Status,
			"platform", plat)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
