// Package mcp exposes the performer tool registry to external agents over
// the Model Context Protocol. Each server is bound to one scene and one
// persona; calls go through the scene's orchestrator so they share the
// generation mutex with the built-in performers.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/louisbranch/yesand/internal/platform/errors"
	"github.com/louisbranch/yesand/internal/services/stage/domain/tools"
)

const (
	serverName    = "yesand-stage"
	serverVersion = "0.1.0"
)

// ToolRunner runs one tool call against a live scene.
type ToolRunner interface {
	RunExternalTool(ctx context.Context, sceneID, persona, name string, raw json.RawMessage) (tools.Outcome, error)
}

// Binding names the scene and persona a server acts for.
type Binding struct {
	SceneID string
	Persona string
}

// NewServer returns an MCP server with every registry tool bound to
// binding.
func NewServer(runner ToolRunner, registry *tools.Registry, binding Binding) (*sdk.Server, error) {
	if runner == nil {
		return nil, errors.New("tool runner is required")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	binding.SceneID = strings.TrimSpace(binding.SceneID)
	binding.Persona = strings.TrimSpace(binding.Persona)
	if binding.SceneID == "" {
		return nil, apperrors.New(apperrors.CodeMissingField, "scene id is required")
	}

	server := sdk.NewServer(&sdk.Implementation{Name: serverName, Version: serverVersion}, &sdk.ServerOptions{
		Instructions: fmt.Sprintf("You are performing in improv scene %q. Every tool edits the shared stage.", binding.SceneID),
	})
	for _, spec := range registry.Specs() {
		server.AddTool(&sdk.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.InputSchema,
		}, toolHandler(runner, binding, spec.Name))
	}
	return server, nil
}

func toolHandler(runner ToolRunner, binding Binding, name string) sdk.ToolHandler {
	return func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		var raw json.RawMessage
		if req != nil && req.Params != nil {
			raw = req.Params.Arguments
		}
		outcome, err := runner.RunExternalTool(ctx, binding.SceneID, binding.Persona, name, raw)
		if err != nil {
			log.Printf("mcp: tool rejected scene=%q tool=%q code=%q", binding.SceneID, name, apperrors.CodeOf(err))
			return errorResult(err), nil
		}
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: string(outcome.Output)}},
			IsError: outcome.Failed(),
		}, nil
	}
}

func errorResult(err error) *sdk.CallToolResult {
	message := err.Error()
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	body, _ := json.Marshal(map[string]string{
		"error": message,
		"code":  string(apperrors.CodeOf(err)),
	})
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(body)}},
		IsError: true,
	}
}

// NewHTTPHandler serves streamable HTTP sessions. The scene and persona
// come from the scene and persona query parameters of the initializing
// request; requests without a scene are rejected.
func NewHTTPHandler(runner ToolRunner, registry *tools.Registry) http.Handler {
	return sdk.NewStreamableHTTPHandler(func(r *http.Request) *sdk.Server {
		query := r.URL.Query()
		server, err := NewServer(runner, registry, Binding{
			SceneID: query.Get("scene"),
			Persona: query.Get("persona"),
		})
		if err != nil {
			log.Printf("mcp: rejected session remote=%s err=%v", r.RemoteAddr, err)
			return nil
		}
		return server
	}, nil)
}
