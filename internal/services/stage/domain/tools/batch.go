package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxBatchOps bounds the sub-operations in one batch call.
const MaxBatchOps = 20

const batchTool = "batch"

type BatchOpInput struct {
	Tool  string         `json:"tool" jsonschema:"name of the tool to run"`
	Input map[string]any `json:"input,omitempty" jsonschema:"arguments for that tool"`
}

type BatchInput struct {
	Ops []BatchOpInput `json:"ops" jsonschema:"operations to run in order"`
}

// BatchOpResult is one sub-operation's outcome.
type BatchOpResult struct {
	Index  int             `json:"index"`
	Tool   string          `json:"tool"`
	OK     bool            `json:"ok"`
	Output json.RawMessage `json:"output"`
}

// BatchResult aggregates a batch call.
type BatchResult struct {
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	Results   []BatchOpResult `json:"results"`
}

// Batch runs ops in order through Dispatch. A failing op is recorded and the
// batch continues.
func (r *Registry) Batch(ctx context.Context, env *Env, ops []BatchOpInput) (BatchResult, error) {
	if len(ops) == 0 {
		return BatchResult{}, errors.New("ops must not be empty")
	}
	if len(ops) > MaxBatchOps {
		return BatchResult{}, fmt.Errorf("at most %d ops are allowed", MaxBatchOps)
	}
	result := BatchResult{Results: make([]BatchOpResult, 0, len(ops))}
	for i, op := range ops {
		var outcome Outcome
		if op.Tool == batchTool {
			outcome = Outcome{Tool: op.Tool, Err: errors.New("batch cannot be nested")}
			outcome.Output = mustJSON(errorPayload{Error: outcome.Err.Error()})
		} else {
			input := json.RawMessage(`{}`)
			if op.Input != nil {
				input = mustJSON(op.Input)
			}
			outcome = r.Dispatch(ctx, env, op.Tool, input)
		}
		if outcome.Failed() {
			result.Failed++
		} else {
			result.Completed++
		}
		result.Results = append(result.Results, BatchOpResult{Index: i, Tool: op.Tool, OK: !outcome.Failed(), Output: outcome.Output})
	}
	return result, nil
}
