package errors

import (
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestCodeOfWalksWrappedChain(t *testing.T) {
	t.Parallel()

	base := New(CodeStaleWrite, "stale write")
	wrapped := fmt.Errorf("update object: %w", base)
	if got := CodeOf(wrapped); got != CodeStaleWrite {
		t.Fatalf("code = %q, want %q", got, CodeStaleWrite)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != CodeUnknown {
		t.Fatalf("code = %q, want %q", got, CodeUnknown)
	}
	if !HasCode(wrapped, CodeStaleWrite) {
		t.Fatal("expected HasCode to match wrapped error")
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := Wrap(CodeObjectNotFound, "object missing", fmt.Errorf("bolt: no key"))
	if !err.Is(New(CodeObjectNotFound, "other message")) {
		t.Fatal("expected code match")
	}
	if err.Is(New(CodeStaleWrite, "")) {
		t.Fatal("expected code mismatch")
	}
	if err.Unwrap() == nil {
		t.Fatal("expected wrapped cause")
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeInvalidFrame, codes.InvalidArgument},
		{CodeStaleWrite, codes.FailedPrecondition},
		{CodeSceneNotFound, codes.NotFound},
		{CodeObjectExists, codes.AlreadyExists},
		{CodeBudgetExhausted, codes.ResourceExhausted},
		{CodeRateLimited, codes.ResourceExhausted},
		{CodeGenerationBusy, codes.Aborted},
		{CodeForbidden, codes.PermissionDenied},
		{CodeSceneClosed, codes.Unavailable},
		{CodeUnknown, codes.Internal},
	}
	for _, tt := range tests {
		if got := tt.code.GRPCCode(); got != tt.want {
			t.Fatalf("%s grpc code = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestRetryableCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code Code
		want bool
	}{
		{CodeGenerationBusy, true},
		{CodeUpstreamFailed, true},
		{CodeStaleWrite, false},
		{CodeBudgetExhausted, false},
	}
	for _, tt := range tests {
		if got := tt.code.Retryable(); got != tt.want {
			t.Fatalf("%s retryable = %v, want %v", tt.code, got, tt.want)
		}
	}
}
