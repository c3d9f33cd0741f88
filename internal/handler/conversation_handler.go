package handler

import (
	"net/http"

	"carenotes-go/internal/service"
	"carenotes-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler serves stored chat history.
type ConversationHandler struct {
	conversationService service.ConversationService
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(conversationService service.ConversationService) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
	}
}

// GetConversation returns the caller's conversation history.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	caller := callerFromContext(c)
	if caller == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "data": nil, "message": "unauthorized"})
		return
	}

	history, err := h.conversationService.GetConversation(c.Request.Context(), caller.UserID)
	if err != nil {
		log.Errorf("[ConversationHandler] failed to load history, user: %d, error: %v", caller.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "data": nil, "message": "failed to load conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": history, "message": "success"})
}
