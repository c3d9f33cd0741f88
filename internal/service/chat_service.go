package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"carenotes-go/internal/config"
	"carenotes-go/internal/model"
	"carenotes-go/internal/repository"
	"carenotes-go/pkg/llm"
	"carenotes-go/pkg/log"

	"github.com/gorilla/websocket"
)

const defaultPromptRules = "You are a knowledge assistant for care facility staff. " +
	"Answer using the reference excerpts between the markers below; cite entries " +
	"by their number like (1). If the excerpts do not cover the question, say so " +
	"instead of guessing."

// CompletionRequest is the inbound body of the completion entry point.
type CompletionRequest struct {
	Conversation []model.ChatMessage `json:"conversation"`
	UseContext   bool                `json:"useContext"`
	Category     *string             `json:"category,omitempty"`
	FacilityID   *string             `json:"facilityId,omitempty"`
}

// ChatService proxies conversations to the completion provider,
// grounding them in retrieved context when requested.
type ChatService interface {
	// StreamCompletion relays the upstream stream into w frame by frame.
	StreamCompletion(ctx context.Context, req CompletionRequest, caller *model.CallerProfile, w llm.StreamWriter) error
	// StreamResponse services one websocket chat turn with stored history.
	StreamResponse(ctx context.Context, query string, caller *model.CallerProfile, conn *websocket.Conn, shouldStop func() bool) error
}

type chatService struct {
	searchService SearchService
	builder       *ContextBuilder
	llmClient     llm.Client
	convRepo      repository.ConversationRepository
	promptCfg     config.LLMPromptConfig
	contextTopK   int
}

// NewChatService creates a ChatService.
func NewChatService(
	searchService SearchService,
	builder *ContextBuilder,
	llmClient llm.Client,
	convRepo repository.ConversationRepository,
	promptCfg config.LLMPromptConfig,
	contextTopK int,
) ChatService {
	if contextTopK <= 0 {
		contextTopK = 10
	}
	return &chatService{
		searchService: searchService,
		builder:       builder,
		llmClient:     llmClient,
		convRepo:      convRepo,
		promptCfg:     promptCfg,
		contextTopK:   contextTopK,
	}
}

func (s *chatService) StreamCompletion(ctx context.Context, req CompletionRequest, caller *model.CallerProfile, w llm.StreamWriter) error {
	messages := make([]llm.Message, 0, len(req.Conversation)+1)

	if req.UseContext {
		if contextText := s.retrieveContext(ctx, req, caller); contextText != "" {
			messages = append(messages, llm.Message{Role: "system", Content: s.buildSystemMessage(contextText)})
		}
	}
	for _, m := range req.Conversation {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	return s.llmClient.StreamChatCompletion(ctx, messages, nil, w)
}

// retrieveContext derives the query from the most recent user turn and
// assembles the prioritized context block. Retrieval failures degrade
// to an ungrounded completion: a missing index must not fail the chat
// turn.
func (s *chatService) retrieveContext(ctx context.Context, req CompletionRequest, caller *model.CallerProfile) string {
	query := lastUserTurn(req.Conversation)
	if strings.TrimSpace(query) == "" {
		return ""
	}

	scope := model.SearchScope{FacilityID: req.FacilityID, Category: req.Category}
	if scope.FacilityID == nil && caller != nil && caller.FacilityID != "" {
		facility := caller.FacilityID
		scope.FacilityID = &facility
	}

	hits, err := s.searchService.Retrieve(ctx, query, scope, s.contextTopK)
	if err != nil {
		log.Warnf("context retrieval failed, answering ungrounded: %v", err)
		return ""
	}
	prioritized := s.builder.Prioritize(hits, caller, s.contextTopK)
	return s.builder.Assemble(prioritized).Text
}

func lastUserTurn(conversation []model.ChatMessage) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == "user" {
			return conversation[i].Content
		}
	}
	return ""
}

// buildSystemMessage wraps the context block in the configured
// grounding preamble and reference markers.
func (s *chatService) buildSystemMessage(contextText string) string {
	rules := s.promptCfg.Rules
	if rules == "" {
		rules = defaultPromptRules
	}
	refStart := s.promptCfg.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.promptCfg.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	sys.WriteString(rules)
	sys.WriteString("\n\n")
	sys.WriteString(refStart)
	sys.WriteString("\n")
	sys.WriteString(contextText)
	sys.WriteString("\n")
	sys.WriteString(refEnd)
	return sys.String()
}

// StreamResponse is the websocket chat turn: retrieve context for the
// query, splice in the stored history, stream the answer as
// {"chunk": ...} frames, then persist the turn.
func (s *chatService) StreamResponse(ctx context.Context, query string, caller *model.CallerProfile, conn *websocket.Conn, shouldStop func() bool) error {
	req := CompletionRequest{
		Conversation: []model.ChatMessage{{Role: "user", Content: query}},
		UseContext:   true,
	}

	messages := make([]llm.Message, 0, 8)
	if contextText := s.retrieveContext(ctx, req, caller); contextText != "" {
		messages = append(messages, llm.Message{Role: "system", Content: s.buildSystemMessage(contextText)})
	}

	history, err := s.loadHistory(ctx, caller.UserID)
	if err != nil {
		log.Errorf("failed to load conversation history: %v", err)
		history = nil
	}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: query})

	answerBuilder := &strings.Builder{}
	interceptor := &wsChunkWriter{conn: conn, answer: answerBuilder, shouldStop: shouldStop}

	if err := s.llmClient.StreamChatCompletion(ctx, messages, nil, interceptor); err != nil {
		return err
	}

	sendCompletion(conn)

	if fullAnswer := answerBuilder.String(); fullAnswer != "" {
		// Save with a background context: a canceled request should not
		// discard an answer that was fully generated.
		if err := s.saveTurn(context.Background(), caller.UserID, query, fullAnswer); err != nil {
			log.Errorf("failed to save conversation history: %v", err)
		}
	}
	return nil
}

func (s *chatService) loadHistory(ctx context.Context, userID uint) ([]model.ChatMessage, error) {
	convID, err := s.convRepo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.convRepo.GetConversationHistory(ctx, convID)
}

func (s *chatService) saveTurn(ctx context.Context, userID uint, question, answer string) error {
	convID, err := s.convRepo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get or create conversation id: %w", err)
	}
	history, err := s.convRepo.GetConversationHistory(ctx, convID)
	if err != nil {
		return fmt.Errorf("failed to get conversation history: %w", err)
	}
	now := time.Now()
	history = append(history,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	return s.convRepo.UpdateConversationHistory(ctx, convID, history)
}

// wsChunkWriter adapts a websocket connection to llm.StreamWriter,
// wrapping each content fragment as a {"chunk": ...} frame and keeping
// a copy of the full answer.
type wsChunkWriter struct {
	conn       *websocket.Conn
	answer     *strings.Builder
	shouldStop func() bool
}

func (w *wsChunkWriter) WriteFrame(raw []byte, delta string) error {
	if w.shouldStop != nil && w.shouldStop() {
		return nil
	}
	if string(raw) == "[DONE]" || delta == "" {
		return nil
	}
	w.answer.WriteString(delta)
	payload, _ := json.Marshal(map[string]string{"chunk": delta})
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

// sendCompletion notifies the websocket client that the turn finished.
func sendCompletion(conn *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
