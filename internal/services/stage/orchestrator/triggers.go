package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	apperrors "github.com/louisbranch/yesand/internal/platform/errors"
	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/domain/placement"
	"github.com/louisbranch/yesand/internal/services/stage/domain/sanitize"
)

// Scheduler keys, one per delayed purpose.
const (
	keyDirector = "director"
	keyFollowUp = "follow_up"
	keyCanvas   = "canvas"
	keySound    = "sound"
	keyWave     = "wave"
	keyPoll     = "poll"
)

// HandleHumanMessage records a human chat turn and starts a reply when the
// scene is still within its budgets.
func (o *Orchestrator) HandleHumanMessage(ctx context.Context, author, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.New(apperrors.CodeMissingField, "chat text is required")
	}
	if author == "" {
		author = "player"
	}
	return o.call(ctx, func() { o.onHuman(author, text) })
}

func (o *Orchestrator) onHuman(author, text string) {
	now := o.clock.Now()
	phase := o.state.RecordHumanTurn(now)
	o.turn = placement.NewTurn(placement.DefaultOptions())
	o.state.AppendTranscript(orchestration.Message{Role: orchestration.RoleUser, Author: author, Text: text, At: now})
	o.say(orchestration.RoleUser, author, "", text)
	o.cancelDelayed()

	if phase == orchestration.BudgetOver {
		o.timers.Cancel(keyDirector)
		o.system(ClosingMessage)
		o.maybeTerminal()
		o.saveState()
		return
	}
	if o.state.SpendExhausted() {
		o.timers.Cancel(keyDirector)
		o.system(SpendMessage)
		o.saveState()
		return
	}
	o.armDirector()
	if !o.state.ClaimGeneration(orchestration.TriggerHuman) {
		o.pendingHuman = true
		o.saveState()
		return
	}
	o.saveState()
	o.startGeneration(orchestration.TriggerHuman, nil)
}

// cancelDelayed drops an autonomous attempt that claimed the mutex and is
// still waiting out its delay.
func (o *Orchestrator) cancelDelayed() {
	if o.delayed == "" {
		return
	}
	o.timers.Cancel(o.delayed)
	o.delayed = ""
	o.state.ReleaseGeneration()
}

// blocked reports whether budget or spend rules forbid any generation.
func (o *Orchestrator) blocked() bool {
	return o.state.BudgetPhase() == orchestration.BudgetOver || o.state.SpendExhausted()
}

func (o *Orchestrator) armDirector() {
	o.timers.Schedule(keyDirector, o.timing.DirectorDelay, o.onDirector)
}

func (o *Orchestrator) onDirector(token uint64) {
	if !o.timers.Current(keyDirector, token) || o.blocked() {
		return
	}
	if !o.state.ClaimGeneration(orchestration.TriggerDirector) {
		o.armDirector()
		return
	}
	if _, ok := o.state.ConsumeAutonomous(); !ok {
		o.state.ReleaseGeneration()
		return
	}
	note := o.state.EffectiveLifecycle().DirectorNote()
	o.startGeneration(orchestration.TriggerDirector, []string{note})
}

// scheduleFollowUp lets the next persona answer the last line after a short
// pause. The mutex is held through the pause.
func (o *Orchestrator) scheduleFollowUp() {
	if len(o.personas) < 2 || o.blocked() {
		return
	}
	o.delayedAttempt(orchestration.TriggerFollowUp, keyFollowUp, o.timing.FollowUpDelay, func() []string {
		return []string{"Respond to your scene partner's last line."}
	})
}

// delayedAttempt claims the mutex and an autonomous exchange now, then
// generates after d unless a human turn or a cancel intervened.
func (o *Orchestrator) delayedAttempt(trigger orchestration.Trigger, key string, d time.Duration, notes func() []string) bool {
	if !o.state.ClaimGeneration(trigger) {
		return false
	}
	epoch, ok := o.state.ConsumeAutonomous()
	if !ok {
		o.state.ReleaseGeneration()
		return false
	}
	o.delayed = key
	o.timers.Schedule(key, d, func(token uint64) {
		if !o.timers.Current(key, token) || o.delayed != key {
			return
		}
		o.delayed = ""
		if o.state.Epoch() != epoch || o.blocked() {
			o.state.ReleaseGeneration()
			return
		}
		extra := notes()
		if extra == nil {
			o.state.ReleaseGeneration()
			return
		}
		o.startGeneration(trigger, extra)
	})
	return true
}

// NotifyCanvasEdit buffers a human edit for the debounced canvas reaction.
// It never blocks, so the scene actor may call it directly.
func (o *Orchestrator) NotifyCanvasEdit(edit orchestration.CanvasEdit) {
	o.box.push(func() {
		o.state.BufferCanvasEdit(edit)
		o.timers.Schedule(keyCanvas, o.timing.CanvasDebounce, o.onCanvas)
	})
}

func (o *Orchestrator) onCanvas(token uint64) {
	if !o.timers.Current(keyCanvas, token) {
		return
	}
	score, edits := o.state.TakeCanvasEdits()
	now := o.clock.Now()
	if len(edits) == 0 || o.blocked() || !o.state.CanvasReactionAllowed(score, now) {
		return
	}
	if !o.state.ClaimGeneration(orchestration.TriggerCanvas) {
		return
	}
	if _, ok := o.state.ConsumeAutonomous(); !ok {
		o.state.ReleaseGeneration()
		return
	}
	o.state.MarkCanvasReaction(now)
	notes := make([]string, 0, len(edits)+1)
	notes = append(notes, "The players changed the canvas. React to what they made.")
	for _, edit := range edits {
		notes = append(notes, edit.Describe())
	}
	o.startGeneration(orchestration.TriggerCanvas, notes)
}

// NotifySound reports a sound cue a player triggered.
func (o *Orchestrator) NotifySound(author, cue string) error {
	cue = strings.TrimSpace(cue)
	if cue == "" {
		return apperrors.New(apperrors.CodeMissingField, "sound cue is required")
	}
	if !o.box.push(func() { o.onSound(author, cue) }) {
		return ErrStopped
	}
	return nil
}

func (o *Orchestrator) onSound(author, cue string) {
	now := o.clock.Now()
	if o.blocked() || !o.state.LowLatencyAllowed(now) {
		return
	}
	note := fmt.Sprintf("%s played the sound cue %q.", nameOr(author, "A player"), cue)
	if o.delayedAttempt(orchestration.TriggerSound, keySound, o.timing.SoundDelay, func() []string { return []string{note} }) {
		o.state.MarkLowLatency(now)
	}
}

// NotifyReaction counts an audience emoji. Enough reactions in a window
// start a wave reaction.
func (o *Orchestrator) NotifyReaction(emoji string) error {
	if !o.box.push(func() { o.onReaction(emoji) }) {
		return ErrStopped
	}
	return nil
}

func (o *Orchestrator) onReaction(emoji string) {
	total := o.state.AddReaction(emoji)
	if total < o.state.Policy().WaveMinReactions || o.delayed == keyWave {
		return
	}
	now := o.clock.Now()
	if o.blocked() || !o.state.LowLatencyAllowed(now) {
		return
	}
	collect := func() []string {
		summary, ok := o.state.TakeReactions()
		if !ok {
			return nil
		}
		return []string{fmt.Sprintf("The audience is reacting: %s. Play to the room.", summary)}
	}
	if o.delayedAttempt(orchestration.TriggerWave, keyWave, o.timing.WaveDelay, collect) {
		o.state.MarkLowLatency(now)
	}
}

// NotifyHeckle queues an audience heckle for the next generation. Heckles
// that fail moderation are dropped.
func (o *Orchestrator) NotifyHeckle(author, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.New(apperrors.CodeMissingField, "heckle text is required")
	}
	if category := o.moderator.Check(text); category != sanitize.CategoryNone {
		log.Printf("orchestrator: dropped heckle scene=%q category=%q", o.sceneID, category)
		return apperrors.New(apperrors.CodeModerated, "heckle was not accepted")
	}
	event := fmt.Sprintf("%s heckled from the audience: %q", nameOr(author, "Someone"), text)
	if !o.box.push(func() { o.state.Inject(event) }) {
		return ErrStopped
	}
	return nil
}

// NotifyVote records a vote on the open poll and broadcasts the tally.
func (o *Orchestrator) NotifyVote(ctx context.Context, voter, pollID string, option int) error {
	var voteErr error
	err := o.call(ctx, func() {
		if err := o.state.Vote(pollID, voter, option); err != nil {
			voteErr = apperrors.Wrap(apperrors.CodeInvalidFrame, "vote was not accepted", err)
			return
		}
		if poll, ok := o.state.ActivePoll(); ok {
			o.broadcastPoll(poll, false)
		}
	})
	if err != nil {
		return err
	}
	return voteErr
}

// SetGameMode switches the game mode for every later assistant message.
func (o *Orchestrator) SetGameMode(ctx context.Context, mode string) error {
	var modeErr error
	err := o.call(ctx, func() {
		if err := o.state.SetGameMode(orchestration.GameMode(mode)); err != nil {
			modeErr = apperrors.Wrap(apperrors.CodeInvalidFrame, fmt.Sprintf("unknown game mode %q", mode), err)
			return
		}
		if err := o.scene.SetMode(mode); err != nil {
			log.Printf("orchestrator: broadcast mode failed scene=%q err=%v", o.sceneID, err)
		}
		o.saveState()
	})
	if err != nil {
		return err
	}
	return modeErr
}

func (o *Orchestrator) broadcastPoll(poll orchestration.Poll, closed bool) {
	err := o.scene.Broadcast(board.FramePoll, board.PollPayload{
		PollID:   poll.ID,
		Question: poll.Question,
		Options:  poll.Options,
		ClosesAt: poll.ClosesAt.UnixMilli(),
		Tally:    poll.Tally(),
		Closed:   closed,
	})
	if err != nil {
		log.Printf("orchestrator: broadcast poll failed scene=%q err=%v", o.sceneID, err)
	}
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
