package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
	platformotel "github.com/louisbranch/yesand/internal/platform/otel"
	"github.com/louisbranch/yesand/internal/services/stage/domain/sanitize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrUnknownTool is returned for names the registry does not hold.
var ErrUnknownTool = errors.New("unknown tool")

// Spec describes one tool to a model or an MCP client.
type Spec struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

type handler func(ctx context.Context, env *Env, raw json.RawMessage) (any, error)

type entry struct {
	spec     Spec
	resolved *jsonschema.Resolved
	run      handler
}

// Registry maps tool names to validated handlers.
type Registry struct {
	entries map[string]*entry
	order   []string
}

// Outcome is the result of one dispatched call. Output is always valid
// JSON; on failure it is {"error": "..."}.
type Outcome struct {
	Tool     string          `json:"tool"`
	Input    json.RawMessage `json:"input"`
	Output   json.RawMessage `json:"output"`
	Err      error           `json:"-"`
	Repaired bool            `json:"repaired,omitempty"`
}

// Failed reports whether the call returned an error payload.
func (o Outcome) Failed() bool { return o.Err != nil }

type errorPayload struct {
	Error string `json:"error"`
}

func register[I any](r *Registry, name, description string, fn func(context.Context, *Env, I) (any, error)) {
	schema, err := jsonschema.For[I](nil)
	if err != nil {
		panic(fmt.Sprintf("tools: schema for %s: %v", name, err))
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("tools: resolve schema for %s: %v", name, err))
	}
	r.entries[name] = &entry{
		spec:     Spec{Name: name, Description: description, InputSchema: schema},
		resolved: resolved,
		run: func(ctx context.Context, env *Env, raw json.RawMessage) (any, error) {
			var input I
			if err := json.Unmarshal(raw, &input); err != nil {
				return nil, fmt.Errorf("decode input: %w", err)
			}
			return fn(ctx, env, input)
		},
	}
	r.order = append(r.order, name)
}

// Specs lists every tool in registration order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].spec)
	}
	return out
}

// Names lists tool names sorted alphabetically.
func (r *Registry) Names() []string {
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Dispatch validates raw against the tool's schema and runs it.
func (r *Registry) Dispatch(ctx context.Context, env *Env, name string, raw json.RawMessage) Outcome {
	ctx, span := platformotel.Tracer().Start(ctx, "tools."+name)
	defer span.End()

	input, repaired := sanitize.RepairToolInput(raw)
	if repaired {
		log.Printf("tools: repaired non-object input tool=%q", name)
	}
	outcome := Outcome{Tool: name, Input: input, Repaired: repaired}
	span.SetAttributes(attribute.String("tool.name", name), attribute.Bool("tool.input_repaired", repaired))

	result, err := r.invoke(ctx, env, name, input)
	if err != nil {
		outcome.Err = err
		outcome.Output = mustJSON(errorPayload{Error: err.Error()})
		span.SetStatus(codes.Error, err.Error())
		return outcome
	}
	outcome.Output = mustJSON(result)
	return outcome
}

func (r *Registry) invoke(ctx context.Context, env *Env, name string, input json.RawMessage) (result any, err error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if env == nil || env.Board == nil {
		return nil, errors.New("tool environment is not configured")
	}

	var instance map[string]any
	if err := json.Unmarshal(input, &instance); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if err := e.resolved.Validate(instance); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("tools: panic in tool=%q: %v\n%s", name, rec, debug.Stack())
			result = nil
			err = fmt.Errorf("tool %s failed unexpectedly", name)
		}
	}()
	return e.run(ctx, env, input)
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage(`{"ok":true}`)
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("tools: failed to marshal tool output: %v", err)
		return json.RawMessage(`{"error":"tool output could not be encoded"}`)
	}
	return b
}
