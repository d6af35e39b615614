package router

import (
	"github.com/gin-gonic/gin"

	"omnibox.app/ingest/internal/http/handler"
)

func WebhookRouter(router *gin.RouterGroup, handler *handler.WebhookHandler) {
	router.POST("/:platform", handler.HandleDelivery)
}
