package orchestrator

import (
	"fmt"
	"strings"

	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/domain/sanitize"
	"github.com/louisbranch/yesand/internal/services/stage/domain/tools"
	"github.com/louisbranch/yesand/internal/services/stage/llm"
)

// promptFor builds the message history for one generation. It drains the
// one-shot injected events, so it must run on the actor.
func (o *Orchestrator) promptFor(persona string, notes []string) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an improv performer sharing a canvas stage with human players.\n", persona)
	if others := o.otherPersonas(persona); len(others) > 0 {
		fmt.Fprintf(&b, "Your scene partners: %s.\n", strings.Join(others, ", "))
	}
	b.WriteString("Accept every offer and build on it. Keep lines short and speakable. ")
	b.WriteString("Use the stage tools to put the scene on the canvas when it helps; never describe the tools to the players.\n")
	fmt.Fprintf(&b, "Begin every reply with %s.\n", sanitize.Tag(persona))

	lifecycle := o.state.EffectiveLifecycle()
	fmt.Fprintf(&b, "\nScene phase: %s. %s\n", lifecycle, lifecycle.Direction())
	if guidance := o.state.BudgetPhase().Guidance(); guidance != "" {
		fmt.Fprintf(&b, "%s\n", guidance)
	}
	if rule := o.state.GameMode.Rule(); rule != "" {
		fmt.Fprintf(&b, "%s\n", rule)
	}
	if o.state.Title != "" {
		fmt.Fprintf(&b, "Working title: %q.\n", o.state.Title)
	}
	if facts := o.state.RelationshipFacts(); len(facts) > 0 {
		b.WriteString("\nEstablished relationships:\n")
		for _, rel := range facts {
			fmt.Fprintf(&b, "- %s and %s: %s\n", rel.A, rel.B, rel.Descriptor)
		}
	}
	events := append(o.state.TakeInjected(), notes...)
	if len(events) > 0 {
		b.WriteString("\nJust happened:\n")
		for _, event := range events {
			fmt.Fprintf(&b, "- %s\n", event)
		}
	}

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: b.String()}}
	for _, msg := range o.state.Transcript {
		switch msg.Role {
		case orchestration.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("%s: %s", msg.Author, msg.Text)})
		case orchestration.RoleAssistant:
			if msg.Text != "" {
				msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: msg.Text})
			}
		}
	}
	if len(msgs) == 1 {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: "The stage is empty. Open the scene."})
	}
	return msgs
}

func (o *Orchestrator) otherPersonas(persona string) []string {
	out := make([]string, 0, len(o.personas))
	for _, p := range o.personas {
		if p != persona {
			out = append(out, p)
		}
	}
	return out
}

// llmTools converts registry specs into the model's tool declarations.
func llmTools(specs []tools.Spec) []llm.Tool {
	out := make([]llm.Tool, 0, len(specs))
	for _, spec := range specs {
		out = append(out, llm.Tool{Name: spec.Name, Description: spec.Description, Parameters: spec.InputSchema})
	}
	return out
}
