package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"carenotes-go/internal/model"
	"carenotes-go/internal/service"
	"carenotes-go/pkg/llm"
	"carenotes-go/pkg/log"
	"carenotes-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatHandler serves the streaming completion entry points.
type ChatHandler struct {
	chatService   service.ChatService
	jwtManager    *token.JWTManager
	stopToken     string
	stopTokenLock sync.Mutex
	// per-connection stop flags
	stopFlags sync.Map // key: session pointer string, value: bool
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		jwtManager:  jwtManager,
	}
}

// Completions relays the upstream completion stream as server-sent
// events. Failures before the first frame produce a synchronous JSON
// error; failures after it produce a terminal error event.
func (h *ChatHandler) Completions(c *gin.Context) {
	var req service.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "data": nil, "message": "invalid request body"})
		return
	}
	if len(req.Conversation) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "data": nil, "message": "conversation must not be empty"})
		return
	}

	caller := callerFromContext(c)
	writer := &sseWriter{c: c}

	err := h.chatService.StreamCompletion(c.Request.Context(), req, caller, writer)
	if err == nil {
		return
	}
	log.Errorf("[ChatHandler] completion stream failed: %v", err)

	if !writer.wrote {
		var upstream *llm.UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode > 0 {
			c.JSON(http.StatusBadGateway, gin.H{"code": 502, "data": nil,
				"message": fmt.Sprintf("completion provider returned status %d", upstream.StatusCode)})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"code": 502, "data": nil, "message": "completion provider unreachable"})
		return
	}

	// The stream already started. A client that hung up gets nothing;
	// anyone still connected gets a terminal error event.
	if c.Request.Context().Err() != nil {
		return
	}
	writer.writeErrorEvent("completion stream interrupted")
}

// sseWriter adapts the gin response to llm.StreamWriter, deferring
// headers until the first frame so early failures can still return a
// plain JSON response.
type sseWriter struct {
	c     *gin.Context
	wrote bool
}

func (w *sseWriter) WriteFrame(raw []byte, delta string) error {
	if !w.wrote {
		w.c.Writer.Header().Set("Content-Type", "text/event-stream")
		w.c.Writer.Header().Set("Cache-Control", "no-cache")
		w.c.Writer.Header().Set("Connection", "keep-alive")
		w.c.Writer.WriteHeader(http.StatusOK)
		w.wrote = true
	}
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", raw); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func (w *sseWriter) writeErrorEvent(message string) {
	payload, _ := json.Marshal(gin.H{"error": message})
	fmt.Fprintf(w.c.Writer, "event: error\ndata: %s\n\n", payload)
	w.c.Writer.Flush()
}

// GetWebsocketStopToken issues a token the client can send to stop an
// in-flight stream.
func (h *ChatHandler) GetWebsocketStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success", "data": gin.H{"cmdToken": h.stopToken}})
}

// Handle services one websocket chat connection.
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "message": "invalid token", "data": nil})
		return
	}
	caller := &model.CallerProfile{
		UserID:       claims.UserID,
		Name:         claims.Name,
		Role:         claims.Role,
		FacilityID:   claims.FacilityID,
		FacilityName: claims.FacilityName,
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	log.Infof("websocket connected, user: %s", caller.Name)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("websocket read failed: %v", err)
			break
		}

		if h.handleStopCommand(conn, message) {
			continue
		}

		shouldStop := func() bool {
			v, ok := h.stopFlags.Load(sessionKey(conn))
			return ok && v.(bool)
		}
		h.stopFlags.Delete(sessionKey(conn))

		if err := h.chatService.StreamResponse(c.Request.Context(), string(message), caller, conn, shouldStop); err != nil {
			log.Errorf("websocket stream failed: %v", err)
			errResp, _ := json.Marshal(map[string]string{"error": "the assistant is temporarily unavailable, please retry"})
			_ = conn.WriteMessage(websocket.TextMessage, errResp)
			break
		}
	}
	h.stopFlags.Delete(sessionKey(conn))
}

// handleStopCommand intercepts {"type":"stop"} control frames and the
// bare stop token. Returns true when the message was a control frame.
func (h *ChatHandler) handleStopCommand(conn *websocket.Conn, message []byte) bool {
	if len(message) > 0 && message[0] == '{' {
		var ctrl map[string]interface{}
		if err := json.Unmarshal(message, &ctrl); err == nil {
			if t, ok := ctrl["type"].(string); ok && t == "stop" {
				if tok, ok := ctrl["_internal_cmd_token"].(string); ok && h.validStopToken(tok) {
					h.stopFlags.Store(sessionKey(conn), true)
					resp, _ := json.Marshal(map[string]interface{}{
						"type":      "stop",
						"message":   "response stopped",
						"timestamp": time.Now().UnixMilli(),
					})
					_ = conn.WriteMessage(websocket.TextMessage, resp)
				}
				return true
			}
		}
	}
	if h.validStopToken(string(message)) {
		h.stopFlags.Store(sessionKey(conn), true)
		return true
	}
	return false
}

func (h *ChatHandler) validStopToken(tok string) bool {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	return tok != "" && tok == h.stopToken
}

func sessionKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
