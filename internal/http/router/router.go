package router

import (
	"github.com/gin-gonic/gin"

	"omnibox.app/ingest/internal/http/handler"
)

type Handlers struct {
	Webhook   *handler.WebhookHandler
	History   *handler.HistoryHandler
	Subscribe *handler.SubscribeHandler
}

func SetupRoutes(router *gin.Engine, h Handlers) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	WebhookRouter(router.Group("/webhooks"), h.Webhook)

	router.GET("/ws", h.Subscribe.Subscribe)

	v1 := router.Group("/api/v1")
	{
		ConversationRouter(v1.Group("/conversations"), h.History)
		v1.GET("/messages/:id/category", h.History.GetMessageCategory)
	}
}
