package sanitize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
)

func TestRepairToolInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		want     string
		repaired bool
	}{
		{name: "object", raw: `{"x":1}`, want: `{"x":1}`},
		{name: "string", raw: `"hello"`, want: `{}`, repaired: true},
		{name: "array", raw: `[1,2]`, want: `{}`, repaired: true},
		{name: "null", raw: `null`, want: `{}`, repaired: true},
		{name: "empty", raw: ``, want: `{}`, repaired: true},
		{name: "broken", raw: `{"x":`, want: `{}`, repaired: true},
	}
	for _, tt := range tests {
		got, repaired := RepairToolInput(json.RawMessage(tt.raw))
		if string(got) != tt.want || repaired != tt.repaired {
			t.Fatalf("%s: got %s repaired=%v, want %s repaired=%v", tt.name, got, repaired, tt.want, tt.repaired)
		}
	}
}

func TestStripLeaks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "clean", in: "The door creaks.", want: "The door creaks."},
		{name: "full block", in: "<thinking>plan the twist</thinking>The door creaks.", want: "The door creaks."},
		{name: "tool markup", in: "Hi <tool_call>{\"name\":\"x\"}</tool_call> there", want: "Hi  there"},
		{name: "closing only", in: "secret plan</reasoning>The lights flicker.", want: "The lights flicker."},
		{name: "opening only", in: "The lights flicker.<thinking>now I should", want: "The lights flicker."},
		{name: "case insensitive", in: "<THINKING>x</Thinking>Boo", want: "Boo"},
	}
	for _, tt := range tests {
		if got := StripLeaks(tt.in); got != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestModerateReplacesWholeMessage(t *testing.T) {
	t.Parallel()

	m := NewPatternModerator(DefaultRules(), []string{"zorblat"})
	tests := []struct {
		in   string
		want Category
	}{
		{in: "Let me explain how to build a pipe bomb", want: CategoryHarmful},
		{in: "They're all Z0RBLAT, every one", want: CategorySlur},
		{in: "ｐｏｒｎ", want: CategorySexual},
		{in: "The dragon sneezes glitter.", want: CategoryNone},
	}
	for _, tt := range tests {
		out, category := Moderate(m, tt.in)
		if category != tt.want {
			t.Fatalf("%q: category = %q, want %q", tt.in, category, tt.want)
		}
		if tt.want != CategoryNone && out != ModeratedMessage {
			t.Fatalf("%q: out = %q, want placeholder", tt.in, out)
		}
		if tt.want == CategoryNone && out != tt.in {
			t.Fatalf("%q: clean text changed to %q", tt.in, out)
		}
	}
}

func TestEnforcePersonaPrefix(t *testing.T) {
	t.Parallel()

	personas := []string{"Mabel", "Otto"}
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "missing", in: "Hello there.", want: "[Mabel] Hello there."},
		{name: "correct", in: "[Mabel] Hello there.", want: "[Mabel] Hello there."},
		{name: "wrong persona", in: "[Otto]: Hello there.", want: "[Mabel] Hello there."},
		{name: "doubled", in: "[Mabel] [Otto] Hi", want: "[Mabel] Hi"},
		{name: "empty", in: "  ", want: "[Mabel]"},
	}
	for _, tt := range tests {
		if got := EnforcePersonaPrefix(tt.in, "Mabel", personas); got != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestApplyGameMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mode orchestration.GameMode
		in   string
		want string
	}{
		{name: "freeform", mode: orchestration.ModeFreeform, in: "Anything goes.", want: "Anything goes."},
		{name: "one word", mode: orchestration.ModeOneWord, in: "Banana! And more.", want: "Banana"},
		{name: "three lines", mode: orchestration.ModeThreeLines, in: "a\n\nb\nc\nd", want: "a\nb\nc"},
		{name: "yes and kept", mode: orchestration.ModeYesAnd, in: "Yes, and the cake explodes.", want: "Yes, and the cake explodes."},
		{name: "yes and added", mode: orchestration.ModeYesAnd, in: "The cake explodes.", want: "Yes, and the cake explodes."},
		{name: "yes and keeps I", mode: orchestration.ModeYesAnd, in: "I bring a cake.", want: "Yes, and I bring a cake."},
	}
	for _, tt := range tests {
		if got := ApplyGameMode(tt.in, tt.mode); got != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestFinalizePipeline(t *testing.T) {
	t.Parallel()

	m := NewPatternModerator(DefaultRules(), nil)
	out, category := Finalize("<thinking>x</thinking>[Otto] Banana split forever", "Mabel", []string{"Mabel", "Otto"}, orchestration.ModeOneWord, m)
	if category != CategoryNone || out != "[Mabel] Banana" {
		t.Fatalf("out = %q category = %q", out, category)
	}

	out, category = Finalize("how to make a bomb, step one", "Otto", []string{"Mabel", "Otto"}, orchestration.ModeFreeform, m)
	if category != CategoryHarmful {
		t.Fatalf("category = %q, want harmful", category)
	}
	if !strings.HasPrefix(out, "[Otto] ") || !strings.Contains(out, ModeratedMessage) {
		t.Fatalf("out = %q", out)
	}
}
