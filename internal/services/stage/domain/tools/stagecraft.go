package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
)

const (
	maxEffectMS        = 10_000
	maxSequenceSteps   = 12
	defaultPollSeconds = 30
	maxPollSeconds     = 120
	maxPollOptions     = 4
)

var soundCues = map[string]struct{}{
	"applause": {}, "laugh": {}, "gasp": {}, "drumroll": {}, "rimshot": {},
	"thunder": {}, "door": {}, "crash": {}, "bell": {}, "sad_trombone": {},
}

var moods = map[string]struct{}{
	"neutral": {}, "tense": {}, "joyful": {}, "eerie": {}, "romantic": {}, "somber": {}, "chaotic": {},
}

var sequenceActions = map[string]struct{}{
	"shake": {}, "bounce": {}, "spin": {}, "nudge": {}, "pulse": {}, "fade": {},
}

type HighlightInput struct {
	ID         string `json:"id" jsonschema:"object to highlight"`
	Color      string `json:"color,omitempty" jsonschema:"glow color"`
	DurationMS int    `json:"duration_ms,omitempty" jsonschema:"effect length in milliseconds"`
}

type SetRelationshipInput struct {
	A          string `json:"a" jsonschema:"first character or entity"`
	B          string `json:"b" jsonschema:"second character or entity"`
	Descriptor string `json:"descriptor" jsonschema:"how they relate, e.g. estranged siblings"`
}

type AdvancePhaseInput struct {
	Phase string `json:"phase" jsonschema:"one of establish, build, peak, resolve, curtain"`
}

type SequenceStepInput struct {
	TargetID string  `json:"target_id" jsonschema:"object to animate"`
	Action   string  `json:"action" jsonschema:"one of shake, bounce, spin, nudge, pulse, fade"`
	DX       float64 `json:"dx,omitempty" jsonschema:"horizontal offset for nudge"`
	DY       float64 `json:"dy,omitempty" jsonschema:"vertical offset for nudge"`
	DelayMS  int     `json:"delay_ms,omitempty" jsonschema:"delay before this step"`
}

type AnimateSequenceInput struct {
	Steps []SequenceStepInput `json:"steps" jsonschema:"ordered animation steps"`
}

type SpotlightInput struct {
	ID         string `json:"id" jsonschema:"object to spotlight"`
	DurationMS int    `json:"duration_ms,omitempty" jsonschema:"spotlight length in milliseconds"`
}

type BlackoutInput struct {
	DurationMS int `json:"duration_ms,omitempty" jsonschema:"blackout length in milliseconds"`
}

type PlaySoundInput struct {
	Cue string `json:"cue" jsonschema:"one of applause, laugh, gasp, drumroll, rimshot, thunder, door, crash, bell, sad_trombone"`
}

type SetMoodInput struct {
	Mood      string  `json:"mood" jsonschema:"one of neutral, tense, joyful, eerie, romantic, somber, chaotic"`
	Intensity float64 `json:"intensity,omitempty" jsonschema:"0 to 1"`
}

type PollAudienceInput struct {
	Question        string   `json:"question" jsonschema:"question for the audience"`
	Options         []string `json:"options" jsonschema:"two to four answers"`
	DurationSeconds int      `json:"duration_seconds,omitempty" jsonschema:"how long voting stays open"`
}

func clampMS(ms int, def int) int {
	if ms <= 0 {
		return def
	}
	if ms > maxEffectMS {
		return maxEffectMS
	}
	return ms
}

func highlight(_ context.Context, env *Env, in HighlightInput) (any, error) {
	obj, err := env.existing(in.ID)
	if err != nil {
		return nil, err
	}
	payload := board.EffectPayload{Kind: "highlight", TargetID: obj.ID, Color: in.Color, Duration: clampMS(in.DurationMS, 1500)}
	env.Board.Broadcast(board.FrameEffect, payload)
	return payload, nil
}

func setRelationship(_ context.Context, env *Env, in SetRelationshipInput) (any, error) {
	if env.Stage == nil {
		return nil, errors.New("stage controls are not available")
	}
	a, b := strings.TrimSpace(in.A), strings.TrimSpace(in.B)
	descriptor := strings.TrimSpace(in.Descriptor)
	if a == "" || b == "" || descriptor == "" {
		return nil, errors.New("a, b, and descriptor are required")
	}
	if strings.EqualFold(a, b) {
		return nil, errors.New("a relationship needs two different entities")
	}
	if err := env.Stage.SetRelationship(a, b, descriptor); err != nil {
		return nil, err
	}
	return map[string]string{"a": a, "b": b, "descriptor": descriptor}, nil
}

func advancePhase(_ context.Context, env *Env, in AdvancePhaseInput) (any, error) {
	if env.Stage == nil {
		return nil, errors.New("stage controls are not available")
	}
	effective, err := env.Stage.AdvancePhase(in.Phase)
	if err != nil {
		return nil, err
	}
	return map[string]string{"phase": effective}, nil
}

func animateSequence(_ context.Context, env *Env, in AnimateSequenceInput) (any, error) {
	if len(in.Steps) == 0 {
		return nil, errors.New("at least one step is required")
	}
	if len(in.Steps) > maxSequenceSteps {
		return nil, fmt.Errorf("at most %d steps are allowed", maxSequenceSteps)
	}
	payload := board.SequencePayload{Steps: make([]board.SequenceStep, 0, len(in.Steps))}
	for i, step := range in.Steps {
		if _, ok := sequenceActions[step.Action]; !ok {
			return nil, fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
		if _, err := env.existing(step.TargetID); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		payload.Steps = append(payload.Steps, board.SequenceStep{
			TargetID: step.TargetID,
			Action:   step.Action,
			DX:       step.DX,
			DY:       step.DY,
			DelayMS:  clampMS(step.DelayMS, 0),
		})
	}
	env.Board.Broadcast(board.FrameSequence, payload)
	return map[string]int{"steps": len(payload.Steps)}, nil
}

func spotlight(_ context.Context, env *Env, in SpotlightInput) (any, error) {
	obj, err := env.existing(in.ID)
	if err != nil {
		return nil, err
	}
	payload := board.SpotlightPayload{TargetID: obj.ID, Duration: clampMS(in.DurationMS, 3000)}
	env.Board.Broadcast(board.FrameSpotlight, payload)
	return payload, nil
}

func blackout(_ context.Context, env *Env, in BlackoutInput) (any, error) {
	payload := board.BlackoutPayload{Duration: clampMS(in.DurationMS, 2000)}
	env.Board.Broadcast(board.FrameBlackout, payload)
	return payload, nil
}

func playSound(_ context.Context, env *Env, in PlaySoundInput) (any, error) {
	cue := strings.ToLower(strings.TrimSpace(in.Cue))
	if _, ok := soundCues[cue]; !ok {
		return nil, fmt.Errorf("unknown sound cue %q", in.Cue)
	}
	payload := board.SoundPayload{Cue: cue, Author: env.Author}
	env.Board.Broadcast(board.FrameSoundCue, payload)
	return payload, nil
}

func setMood(_ context.Context, env *Env, in SetMoodInput) (any, error) {
	mood := strings.ToLower(strings.TrimSpace(in.Mood))
	if _, ok := moods[mood]; !ok {
		return nil, fmt.Errorf("unknown mood %q", in.Mood)
	}
	intensity := in.Intensity
	if intensity <= 0 || intensity > 1 {
		intensity = 0.5
	}
	payload := board.MoodPayload{Mood: mood, Intensity: intensity}
	env.Board.Broadcast(board.FrameMood, payload)
	return payload, nil
}

func pollAudience(_ context.Context, env *Env, in PollAudienceInput) (any, error) {
	if env.Stage == nil {
		return nil, errors.New("stage controls are not available")
	}
	question := strings.TrimSpace(in.Question)
	var options []string
	for _, option := range in.Options {
		if option = strings.TrimSpace(option); option != "" {
			options = append(options, option)
		}
	}
	if question == "" || len(options) < 2 || len(options) > maxPollOptions {
		return nil, fmt.Errorf("a poll needs a question and 2 to %d options", maxPollOptions)
	}
	seconds := in.DurationSeconds
	if seconds <= 0 {
		seconds = defaultPollSeconds
	}
	if seconds > maxPollSeconds {
		seconds = maxPollSeconds
	}
	pollID, err := env.Stage.OpenPoll(question, options, time.Duration(seconds)*time.Second)
	if err != nil {
		return nil, err
	}
	return map[string]any{"poll_id": pollID, "closes_in_seconds": seconds}, nil
}
