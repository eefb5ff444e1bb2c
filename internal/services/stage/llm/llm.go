// Package llm defines the text and image generation ports the orchestrator
// calls, plus an adapter for OpenAI-compatible HTTP endpoints.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Role identifies a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ErrEmptyResponse is returned when a provider answers with neither text
// nor tool calls.
var ErrEmptyResponse = errors.New("generation returned no content")

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry in a generation request.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool describes a callable tool. Parameters is a JSON Schema document.
type Tool struct {
	Name        string
	Description string
	Parameters  any
}

// Request is one model call.
type Request struct {
	Messages  []Message
	Tools     []Tool
	MaxTokens int
}

// Usage counts tokens spent by one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total is input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Response is the model's answer to one Request.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Generator produces the next assistant message.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// ImageGenerator turns a prompt into an image URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}
