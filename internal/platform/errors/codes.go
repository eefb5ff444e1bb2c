// Package errors provides coded domain errors shared by the stage services.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Mutation errors
	CodeMissingField    Code = "MISSING_FIELD"
	CodeInvalidGeometry Code = "INVALID_GEOMETRY"
	CodeInvalidType     Code = "INVALID_OBJECT_TYPE"
	CodeObjectNotFound  Code = "OBJECT_NOT_FOUND"
	CodeObjectExists    Code = "OBJECT_EXISTS"
	CodeStaleWrite      Code = "STALE_WRITE"
	CodeInvalidFrame    Code = "INVALID_FRAME"

	// Orchestration policy errors
	CodeBudgetExhausted Code = "BUDGET_EXHAUSTED"
	CodeSpendExhausted  Code = "SPEND_EXHAUSTED"
	CodeGenerationBusy  Code = "GENERATION_BUSY"
	CodeModerated       Code = "MODERATED"
	CodeUpstreamFailed  Code = "UPSTREAM_FAILED"

	// Scene lifecycle errors
	CodeSceneClosed   Code = "SCENE_CLOSED"
	CodeSceneNotFound Code = "SCENE_NOT_FOUND"
	CodeForbidden     Code = "FORBIDDEN"
	CodeRateLimited   Code = "RATE_LIMITED"
)

// GRPCCode maps domain codes to gRPC status codes. HTTP responses derive
// their status from it.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeMissingField,
		CodeInvalidGeometry,
		CodeInvalidType,
		CodeInvalidFrame:
		return codes.InvalidArgument

	case CodeStaleWrite,
		CodeModerated:
		return codes.FailedPrecondition

	case CodeObjectNotFound,
		CodeSceneNotFound:
		return codes.NotFound

	case CodeObjectExists:
		return codes.AlreadyExists

	case CodeBudgetExhausted,
		CodeSpendExhausted,
		CodeRateLimited:
		return codes.ResourceExhausted

	case CodeGenerationBusy:
		return codes.Aborted

	case CodeForbidden:
		return codes.PermissionDenied

	case CodeUpstreamFailed,
		CodeSceneClosed:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}

// Retryable reports whether a client may resend the same request later.
func (c Code) Retryable() bool {
	switch c {
	case CodeGenerationBusy, CodeRateLimited, CodeUpstreamFailed:
		return true
	default:
		return false
	}
}
