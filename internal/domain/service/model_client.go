package service

import (
	"context"
	"strings"

	"github.com/atelier-ai/atelier/internal/domain/tool"
)

// ModelClient is the interface the agent loop uses to talk to language
// models. It decouples the loop from wire adapters: one implementation per
// API format lives under infrastructure/llm.
type ModelClient interface {
	// Generate sends messages and returns the full response.
	Generate(ctx context.Context, req *ModelRequest) (*ModelResponse, error)

	// Stream sends messages and pushes typed events to eventCh as they
	// arrive. The callee never closes eventCh; it returns the accumulated
	// final response once the stream ends.
	Stream(ctx context.Context, req *ModelRequest, eventCh chan<- StreamEvent) (*ModelResponse, error)
}

// StreamEventType identifies one streamed model event.
type StreamEventType string

const (
	StreamContent   StreamEventType = "content"
	StreamReasoning StreamEventType = "reasoning"
	StreamToolCall  StreamEventType = "tool_call_delta"
	StreamDone      StreamEventType = "done"
)

// StreamEvent is a single event from a streaming model invocation.
type StreamEvent struct {
	Type StreamEventType

	// Text carries the delta for content and reasoning events.
	Text string

	// ToolCall carries an argument fragment for tool_call_delta events,
	// accumulated by Index on the caller side.
	ToolCall *ToolCallDelta
}

// ToolCallDelta is an incremental fragment of a streamed tool call.
type ToolCallDelta struct {
	Index        int
	ID           string
	Name         string
	ArgsFragment string
}

// ToolCallPayload is a completed tool call extracted from a model response.
// Arguments is the raw stringified input exactly as the model produced it.
type ToolCallPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ModelMessage is one message in the wire-format-agnostic request shape.
type ModelMessage struct {
	Role       string            `json:"role"` // "system", "user", "assistant", "tool"
	Content    string            `json:"content"`
	ToolCalls  []ToolCallPayload `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}

// ModelRequest is the request sent to the language model.
type ModelRequest struct {
	Messages    []ModelMessage    `json:"messages"`
	Tools       []tool.Definition `json:"tools,omitempty"`
	Model       string            `json:"model,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
}

// ModelResponse is the accumulated response from the language model.
type ModelResponse struct {
	Content    string            `json:"content"`
	Reasoning  string            `json:"reasoning,omitempty"`
	ToolCalls  []ToolCallPayload `json:"tool_calls,omitempty"`
	ModelUsed  string            `json:"model_used"`
	TokensUsed int               `json:"tokens_used"`
}

// TextContent returns the trimmed content text.
func (r *ModelResponse) TextContent() string {
	return strings.TrimSpace(r.Content)
}
