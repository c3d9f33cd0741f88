// Package llm streams chat completions from an OpenAI-compatible
// provider, handing each event-stream frame to the caller as it
// arrives.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"carenotes-go/internal/config"
)

// StreamWriter receives upstream frames one at a time. raw is the event
// payload exactly as received (the JSON delta object, or "[DONE]");
// delta is the parsed content fragment, empty for non-content frames.
// Both the SSE relay and the websocket writer implement this.
type StreamWriter interface {
	WriteFrame(raw []byte, delta string) error
}

// UpstreamError reports a failure before the stream opened: connection
// refused or a non-success status. The caller can still answer the
// request synchronously.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion provider returned status %d: %s", e.StatusCode, e.Body)
}

// ErrStreamInterrupted marks a stream that broke after frames were
// already relayed. Partial output cannot be resumed or deduplicated,
// so interrupted streams are reported, never retried.
var ErrStreamInterrupted = errors.New("completion stream interrupted")

// Message is one role-tagged conversation turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams optionally override the configured generation knobs.
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Client streams chat completions.
type Client interface {
	StreamChatCompletion(ctx context.Context, messages []Message, gen *GenerationParams, w StreamWriter) error
}

type openAIStreamClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a streaming client for the configured provider.
func NewClient(cfg config.LLMConfig) Client {
	return &openAIStreamClient{cfg: cfg, client: &http.Client{}}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamChatCompletion opens the upstream stream and relays frames to w
// until the done sentinel. The ctx must be the request context so a
// disconnected caller tears down the upstream connection promptly.
func (c *openAIStreamClient) StreamChatCompletion(ctx context.Context, messages []Message, gen *GenerationParams, w StreamWriter) error {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   true,
	}
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	} else {
		if c.cfg.Generation.Temperature != 0 {
			t := c.cfg.Generation.Temperature
			reqBody.Temperature = &t
		}
		if c.cfg.Generation.TopP != 0 {
			p := c.cfg.Generation.TopP
			reqBody.TopP = &p
		}
		if c.cfg.Generation.MaxTokens != 0 {
			m := c.cfg.Generation.MaxTokens
			reqBody.MaxTokens = &m
		}
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return &UpstreamError{StatusCode: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// The provider terminates with a done sentinel; any end of
			// stream before that is an interruption.
			return fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return w.WriteFrame([]byte("[DONE]"), "")
		}

		var chunk chatResponse
		delta := ""
		if err := json.Unmarshal([]byte(data), &chunk); err == nil && len(chunk.Choices) > 0 {
			delta = chunk.Choices[0].Delta.Content
		}
		if err := w.WriteFrame([]byte(data), delta); err != nil {
			return fmt.Errorf("failed to relay frame: %w", err)
		}
	}
}
