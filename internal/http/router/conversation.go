package router

import (
	"github.com/gin-gonic/gin"

	"omnibox.app/ingest/internal/http/handler"
)

func ConversationRouter(router *gin.RouterGroup, handler *handler.HistoryHandler) {
	router.GET("/:id", handler.GetConversation)
	router.GET("/:id/messages", handler.ListMessages)
}
