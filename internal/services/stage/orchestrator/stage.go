package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	apperrors "github.com/louisbranch/yesand/internal/platform/errors"
	"github.com/louisbranch/yesand/internal/platform/timeouts"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/domain/placement"
	"github.com/louisbranch/yesand/internal/services/stage/domain/tools"
)

// stageHooks gives tools access to orchestration state. Each hook runs on
// the actor; callers are generation goroutines, never the actor itself.
type stageHooks struct {
	o *Orchestrator
}

var _ tools.Stage = stageHooks{}

func (h stageHooks) SetRelationship(a, b, descriptor string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Storage)
	defer cancel()
	return h.o.call(ctx, func() {
		h.o.state.SetRelationship(a, b, descriptor, h.o.clock.Now())
	})
}

func (h stageHooks) AdvancePhase(phase string) (string, error) {
	target, err := orchestration.ParseLifecycle(phase)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Storage)
	defer cancel()
	var (
		effective  orchestration.Lifecycle
		advanceErr error
	)
	if err := h.o.call(ctx, func() {
		effective, advanceErr = h.o.state.AdvanceLifecycle(target)
	}); err != nil {
		return "", err
	}
	if advanceErr != nil {
		return effective.String(), advanceErr
	}
	return effective.String(), nil
}

func (h stageHooks) OpenPoll(question string, options []string, duration time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Storage)
	defer cancel()
	var (
		pollID  string
		openErr error
	)
	if err := h.o.call(ctx, func() {
		pollID, openErr = h.o.openPoll(question, options, duration)
	}); err != nil {
		return "", err
	}
	return pollID, openErr
}

func (o *Orchestrator) openPoll(question string, options []string, duration time.Duration) (string, error) {
	pollID := o.newID("poll")
	poll, err := o.state.OpenPoll(pollID, question, options, o.clock.Now().Add(duration))
	if err != nil {
		return "", err
	}
	o.broadcastPoll(poll, false)
	o.timers.Schedule(keyPoll, duration, func(token uint64) {
		if !o.timers.Current(keyPoll, token) {
			return
		}
		if closed, ok := o.state.ClosePoll(pollID); ok {
			o.broadcastPoll(closed, true)
		}
	})
	return pollID, nil
}

// RunExternalTool dispatches one tool call for an external agent acting as
// persona. It shares the generation mutex with the performers, so it fails
// fast while a generation is running.
func (o *Orchestrator) RunExternalTool(ctx context.Context, persona, name string, raw json.RawMessage) (tools.Outcome, error) {
	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = o.personas[0]
	}
	if !o.registry.Has(name) {
		return tools.Outcome{}, apperrors.New(apperrors.CodeInvalidFrame, "unknown tool "+name)
	}

	var (
		claimErr error
		turn     *placement.Turn
	)
	if err := o.call(ctx, func() {
		switch {
		case o.state.BudgetPhase() == orchestration.BudgetOver:
			claimErr = apperrors.New(apperrors.CodeBudgetExhausted, ClosingMessage)
		case o.state.SpendExhausted():
			claimErr = apperrors.New(apperrors.CodeSpendExhausted, SpendMessage)
		case !o.state.ClaimGeneration(orchestration.TriggerExternal):
			claimErr = apperrors.New(apperrors.CodeGenerationBusy, "a performer is mid-scene, try again shortly")
		default:
			o.inFlight++
			turn = o.turn
		}
	}); err != nil {
		return tools.Outcome{}, err
	}
	if claimErr != nil {
		return tools.Outcome{}, claimErr
	}
	defer o.box.push(func() {
		o.inFlight--
		o.state.ReleaseGeneration()
		o.answerPendingHuman()
	})

	if err := o.scene.SetAIActive(ctx, persona); err != nil {
		log.Printf("orchestrator: set ai active failed scene=%q err=%v", o.sceneID, err)
	}
	defer func() {
		clearCtx, cancel := context.WithTimeout(context.Background(), timeouts.Storage)
		defer cancel()
		_ = o.scene.ClearAIActive(clearCtx)
	}()

	env := &tools.Env{
		Board:   o.scene.ForPerformer(persona),
		Stage:   stageHooks{o: o},
		Images:  o.images,
		Turn:    turn,
		Author:  persona,
		BatchID: o.newID("batch"),
		NewID:   func() string { return o.newID("obj") },
	}
	out := o.registry.Dispatch(ctx, env, name, raw)
	if out.Failed() {
		log.Printf("orchestrator: external tool failed scene=%q tool=%q err=%v", o.sceneID, name, out.Err)
	}
	return out, nil
}
