package service

import (
	"context"

	"carenotes-go/internal/model"
	"carenotes-go/internal/repository"
)

// ConversationService exposes the caller's stored chat history.
type ConversationService interface {
	GetConversation(ctx context.Context, userID uint) ([]model.ChatMessage, error)
}

type conversationService struct {
	convRepo repository.ConversationRepository
}

// NewConversationService creates a ConversationService.
func NewConversationService(convRepo repository.ConversationRepository) ConversationService {
	return &conversationService{convRepo: convRepo}
}

func (s *conversationService) GetConversation(ctx context.Context, userID uint) ([]model.ChatMessage, error) {
	convID, err := s.convRepo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.convRepo.GetConversationHistory(ctx, convID)
}
