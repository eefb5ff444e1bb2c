package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	ImageModel string
	HTTPClient *http.Client
}

// OpenAI calls chat completions and image generation over HTTP.
type OpenAI struct {
	cfg OpenAIConfig
}

var (
	_ Generator      = (*OpenAI)(nil)
	_ ImageGenerator = (*OpenAI)(nil)
)

// NewOpenAI builds an adapter with defaults for missing fields.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &OpenAI{cfg: cfg}
}

type chatFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Tools     []chatTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate sends one chat completion request.
func (a *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	model := strings.TrimSpace(a.cfg.Model)
	if model == "" {
		return Response{}, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return Response{}, fmt.Errorf("messages are required")
	}

	body := chatRequest{Model: model, MaxTokens: req.MaxTokens}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, toChatMessage(msg))
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: tool.Name, Description: tool.Description, Parameters: tool.Parameters},
		})
	}

	var payload chatResponse
	if err := a.post(ctx, "/chat/completions", body, &payload); err != nil {
		return Response{}, err
	}
	if len(payload.Choices) == 0 {
		return Response{}, ErrEmptyResponse
	}
	choice := payload.Choices[0]
	out := Response{
		FinishReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  payload.Usage.PromptTokens,
			OutputTokens: payload.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	for _, call := range choice.Message.ToolCalls {
		args := json.RawMessage(call.Function.Arguments)
		if !json.Valid(args) {
			// Left for the caller's input repair.
			quoted, _ := json.Marshal(call.Function.Arguments)
			args = quoted
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: call.ID, Name: call.Function.Name, Arguments: args})
	}
	if strings.TrimSpace(out.Content) == "" && len(out.ToolCalls) == 0 {
		return out, ErrEmptyResponse
	}
	return out, nil
}

func toChatMessage(msg Message) chatMessage {
	content := msg.Content
	out := chatMessage{Role: string(msg.Role), Content: &content, ToolCallID: msg.ToolCallID}
	if msg.Role == RoleAssistant && content == "" && len(msg.ToolCalls) > 0 {
		out.Content = nil
	}
	for _, call := range msg.ToolCalls {
		var wire chatToolCall
		wire.ID = call.ID
		wire.Type = "function"
		wire.Function.Name = call.Name
		wire.Function.Arguments = string(call.Arguments)
		out.ToolCalls = append(out.ToolCalls, wire)
	}
	return out
}

// GenerateImage requests one image and returns its URL.
func (a *OpenAI) GenerateImage(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}
	model := strings.TrimSpace(a.cfg.ImageModel)
	if model == "" {
		return "", fmt.Errorf("image model is required")
	}
	var payload struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := a.post(ctx, "/images/generations", map[string]any{
		"model":  model,
		"prompt": prompt,
		"n":      1,
		"size":   "1024x1024",
	}, &payload); err != nil {
		return "", err
	}
	if len(payload.Data) == 0 || strings.TrimSpace(payload.Data[0].URL) == "" {
		return "", fmt.Errorf("image response missing url")
	}
	return payload.Data[0].URL, nil
}

func (a *OpenAI) post(ctx context.Context, path string, body any, out any) error {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(a.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	res, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		errBody, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return fmt.Errorf("read error body: %w", err)
		}
		return fmt.Errorf("request status %d: %s", res.StatusCode, strings.TrimSpace(string(errBody)))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
