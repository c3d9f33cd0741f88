package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"carenotes-go/internal/model"
	"carenotes-go/internal/service"
	"carenotes-go/pkg/llm"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

type fakeChatService struct {
	frames []string
	err    error
}

func (f *fakeChatService) StreamCompletion(_ context.Context, _ service.CompletionRequest, _ *model.CallerProfile, w llm.StreamWriter) error {
	for _, frame := range f.frames {
		if err := w.WriteFrame([]byte(frame), ""); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeChatService) StreamResponse(_ context.Context, _ string, _ *model.CallerProfile, _ *websocket.Conn, _ func() bool) error {
	return nil
}

func newCompletionsRouter(svc service.ChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewChatHandler(svc, nil)
	r.POST("/api/v1/chat/completions", h.Completions)
	return r
}

const completionBody = `{"useContext":false,"conversation":[{"role":"user","content":"hi"}]}`

func TestCompletionsRelaysSSE(t *testing.T) {
	svc := &fakeChatService{frames: []string{`{"choices":[]}`, "[DONE]"}}
	r := newCompletionsRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(completionBody))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "data: {\"choices\":[]}\n\ndata: [DONE]\n\n", w.Body.String())
}

func TestCompletionsPreStreamErrorIsJSON(t *testing.T) {
	svc := &fakeChatService{err: &llm.UpstreamError{StatusCode: 503, Body: "overloaded"}}
	r := newCompletionsRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(completionBody))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, w.Body.String(), "503")
}

func TestCompletionsMidStreamErrorEvent(t *testing.T) {
	svc := &fakeChatService{
		frames: []string{`{"choices":[]}`},
		err:    fmt.Errorf("%w: unexpected EOF", llm.ErrStreamInterrupted),
	}
	r := newCompletionsRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(completionBody))
	r.ServeHTTP(w, req)

	// The status was already committed as 200; the failure arrives as a
	// terminal error event on the stream.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "data: {\"choices\":[]}\n\n")
	assert.Contains(t, w.Body.String(), "event: error\n")
}

func TestCompletionsRejectsEmptyConversation(t *testing.T) {
	r := newCompletionsRouter(&fakeChatService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(`{"useContext":true,"conversation":[]}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompletionsRejectsMalformedBody(t *testing.T) {
	r := newCompletionsRouter(&fakeChatService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader("not json"))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
