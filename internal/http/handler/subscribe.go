package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"omnibox.app/ingest/common/logger"
	"omnibox.app/ingest/internal/fanout"
	"omnibox.app/ingest/internal/model"
)

type SubscribeHandler struct {
	hub *fanout.Hub
}

func NewSubscribeHandler(hub *fanout.Hub) *SubscribeHandler {
	return &SubscribeHandler{hub: hub}
}

// Subscribe upgrades GET /ws to a websocket and streams envelopes matching
// the query filter (conversation_id, platform). The stream carries gap
// markers when the client falls behind; the client backfills via the
// history API.
func (h *SubscribeHandler) Subscribe(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	sub := h.hub.Subscribe(filter)
	defer h.hub.Unsubscribe(sub)

	subID := sub.ID()
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		SubscriberID: &subID,
		Component:    "http.subscribe",
	})

	slog.InfoContext(ctx, "subscriber connected",
		"conversation_id", filter.ConversationID,
		"platform", filter.Platform)

	if err := h.pump(ctx, conn, sub); err != nil {
		slog.InfoContext(ctx, "subscriber disconnected", "error", err)
		return
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *SubscribeHandler) pump(ctx context.Context, conn *websocket.Conn, sub *fanout.Subscriber) error {
	for {
		env, ok := sub.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.New("subscription closed")
		}

		if err := wsjson.Write(ctx, conn, env); err != nil {
			return err
		}
	}
}

func filterFromQuery(c *gin.Context) (fanout.Filter, error) {
	var filter fanout.Filter

	if raw := c.Query("conversation_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return filter, errors.New("invalid conversation_id")
		}
		filter.ConversationID = id
	}

	if raw := c.Query("platform"); raw != "" {
		plat := model.Platform(raw)
		if !plat.Known() {
			return filter, errors.New("unknown platform")
		}
		filter.Platform = plat
	}

	return filter, nil
}
