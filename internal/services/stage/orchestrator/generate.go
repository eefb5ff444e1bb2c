package orchestrator

import (
	"context"
	"log"
	"strings"

	platformotel "github.com/louisbranch/yesand/internal/platform/otel"
	"github.com/louisbranch/yesand/internal/platform/timeouts"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/domain/placement"
	"github.com/louisbranch/yesand/internal/services/stage/domain/sanitize"
	"github.com/louisbranch/yesand/internal/services/stage/domain/tools"
	"github.com/louisbranch/yesand/internal/services/stage/llm"
	"github.com/louisbranch/yesand/internal/services/stage/scene"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// outcome is what a generation goroutine reports back to the actor.
type outcome struct {
	text   string
	calls  []orchestration.ToolCall
	tokens int64
	steps  int
	err    error
}

// startGeneration runs one generation off the actor. The caller must
// already hold the generation mutex for trigger.
func (o *Orchestrator) startGeneration(trigger orchestration.Trigger, notes []string) {
	persona := o.personas[o.state.NextPersona(len(o.personas))]
	msgs := o.promptFor(persona, notes)
	turn := o.turn
	o.inFlight++
	o.work.Add(1)
	go func() {
		defer o.work.Done()
		res := o.generate(trigger, persona, msgs, turn)
		if !o.box.push(func() { o.finishGeneration(trigger, persona, res) }) {
			log.Printf("orchestrator: generation finished after stop scene=%q trigger=%q", o.sceneID, trigger)
		}
	}()
}

func (o *Orchestrator) generate(trigger orchestration.Trigger, persona string, msgs []llm.Message, turn *placement.Turn) (res outcome) {
	ctx, cancel := context.WithTimeout(o.ctx, timeouts.Generation)
	defer cancel()
	ctx, span := platformotel.Tracer().Start(ctx, "orchestrator.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("scene.id", o.sceneID),
		attribute.String("generation.trigger", string(trigger)),
		attribute.String("generation.persona", persona),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("orchestrator: generation panic scene=%q: %v", o.sceneID, r)
			res.err = errPanicked
		}
		span.SetAttributes(attribute.Int("generation.steps", res.steps))
		if res.err != nil {
			span.SetStatus(codes.Error, res.err.Error())
		}
	}()

	if err := o.scene.SetAIActive(ctx, persona); err != nil {
		log.Printf("orchestrator: set ai active failed scene=%q err=%v", o.sceneID, err)
	}
	defer func() {
		clearCtx, clearCancel := context.WithTimeout(context.Background(), timeouts.Storage)
		defer clearCancel()
		if err := o.scene.ClearAIActive(clearCtx); err != nil {
			log.Printf("orchestrator: clear ai active failed scene=%q err=%v", o.sceneID, err)
		}
	}()

	env := &tools.Env{
		Board:  o.scene.ForPerformer(persona),
		Stage:  stageHooks{o: o},
		Images: o.images,
		Turn:   turn,
		Author: persona,
		NewID:  func() string { return o.newID("obj") },
	}
	declared := llmTools(o.registry.Specs())

	for res.steps < o.timing.MaxSteps {
		res.steps++
		resp, err := o.gen.Generate(ctx, llm.Request{Messages: msgs, Tools: declared})
		if err != nil {
			res.err = err
			return res
		}
		res.tokens += resp.Usage.Total()
		if len(resp.ToolCalls) == 0 {
			res.text = resp.Content
			return res
		}

		env.BatchID = o.newID("batch")
		calls := append([]llm.ToolCall(nil), resp.ToolCalls...)
		results := make([]llm.Message, 0, len(calls))
		for i, call := range calls {
			out := o.registry.Dispatch(ctx, env, call.Name, call.Arguments)
			calls[i].Arguments = out.Input
			results = append(results, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: string(out.Output)})
			res.calls = append(res.calls, orchestration.ToolCall{ID: call.ID, Name: call.Name, Input: out.Input, Output: out.Output})
			if out.Failed() {
				log.Printf("orchestrator: tool failed scene=%q tool=%q err=%v", o.sceneID, call.Name, out.Err)
			}
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: calls})
		msgs = append(msgs, results...)
	}

	// Out of tool steps: ask for the spoken line alone.
	resp, err := o.gen.Generate(ctx, llm.Request{Messages: msgs})
	if err != nil {
		res.err = err
		return res
	}
	res.tokens += resp.Usage.Total()
	res.text = resp.Content
	return res
}

// finishGeneration runs on the actor once a generation goroutine returns.
// It always releases the mutex.
func (o *Orchestrator) finishGeneration(trigger orchestration.Trigger, persona string, res outcome) {
	o.inFlight--
	o.state.ReleaseGeneration()
	o.state.AddSpend(res.tokens)

	if res.err != nil {
		log.Printf("orchestrator: generation failed scene=%q trigger=%q err=%v", o.sceneID, trigger, res.err)
		o.system(FailureMessage)
	} else {
		o.publish(persona, res)
	}

	o.maybeTerminal()
	o.saveState()
	if o.blocked() {
		o.timers.Cancel(keyDirector)
		o.pendingHuman = false
		return
	}
	o.armDirector()
	if o.answerPendingHuman() {
		return
	}
	if res.err != nil {
		return
	}
	switch trigger {
	case orchestration.TriggerHuman, orchestration.TriggerDirector, orchestration.TriggerFollowUp:
		o.scheduleFollowUp()
	}
}

// answerPendingHuman starts the reply to a human turn that arrived while
// the mutex was held. It runs after every release of the mutex.
func (o *Orchestrator) answerPendingHuman() bool {
	if !o.pendingHuman {
		return false
	}
	o.pendingHuman = false
	if o.blocked() || !o.state.ClaimGeneration(orchestration.TriggerHuman) {
		return false
	}
	o.startGeneration(orchestration.TriggerHuman, nil)
	return true
}

// publish sanitizes the generated line and sends it to the room.
func (o *Orchestrator) publish(persona string, res outcome) {
	now := o.clock.Now()
	text := ""
	if strings.TrimSpace(sanitize.StripLeaks(res.text)) != "" {
		var category sanitize.Category
		text, category = sanitize.Finalize(res.text, persona, o.personas, o.state.GameMode, o.moderator)
		if category != sanitize.CategoryNone {
			log.Printf("orchestrator: moderated output scene=%q persona=%q category=%q", o.sceneID, persona, category)
		}
	}
	if text == "" && len(res.calls) == 0 {
		return
	}
	o.state.AppendTranscript(orchestration.Message{
		Role:      orchestration.RoleAssistant,
		Author:    scene.AIIdentity,
		Persona:   persona,
		Text:      text,
		ToolCalls: res.calls,
		At:        now,
	})
	if text != "" {
		o.say(orchestration.RoleAssistant, scene.AIIdentity, persona, text)
	}
}
