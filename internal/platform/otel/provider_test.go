package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/yesand/internal/platform/otel"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("YESAND_OTEL_ENDPOINT", "")
	t.Setenv("YESAND_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("YESAND_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("YESAND_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so nothing is exported.
	t.Setenv("YESAND_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("YESAND_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
	if otel.Tracer() == nil {
		t.Fatal("expected tracer")
	}
}

func TestSampleRatio(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{raw: "", want: 1},
		{raw: "0.25", want: 0.25},
		{raw: "0", want: 0},
		{raw: "2", want: 1},
		{raw: "nope", want: 1},
	}
	for _, tt := range tests {
		t.Setenv("YESAND_OTEL_SAMPLE_RATIO", tt.raw)
		if got := otel.SampleRatio(); got != tt.want {
			t.Fatalf("ratio(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
