package orchestration

import (
	"errors"
	"time"
)

var (
	ErrLifecycleRegress = errors.New("lifecycle phase cannot move backwards")
	ErrUnknownMode      = errors.New("unknown game mode")
)

// Trigger names what started a generation.
type Trigger string

const (
	TriggerHuman    Trigger = "human"
	TriggerFollowUp Trigger = "follow_up"
	TriggerDirector Trigger = "director"
	TriggerCanvas   Trigger = "canvas"
	TriggerSound    Trigger = "sound"
	TriggerWave     Trigger = "wave"
	TriggerExternal Trigger = "external"
)

// Durable is the part of the state that must survive an actor restart.
type Durable struct {
	HumanTurns    int            `json:"humanTurns"`
	Explicit      Lifecycle      `json:"explicitLifecycle"`
	TerminalFired bool           `json:"terminalFired"`
	SpendTokens   int64          `json:"spendTokens"`
	ActivePersona int            `json:"activePersona"`
	GameMode      GameMode       `json:"gameMode"`
	Title         string         `json:"title,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Transcript    []Message      `json:"transcript,omitempty"`
}

// State is one scene's orchestration state. It is not safe for concurrent
// use; the orchestrator actor serialises access.
type State struct {
	Durable

	policy Policy

	generating bool
	trigger    Trigger
	autonomous int
	epoch      uint64

	canvasEdits []CanvasEdit
	reactions   map[string]int
	injected    []string
	poll        *Poll

	lastHumanChat      time.Time
	lastCanvasReaction time.Time
	lastLowLatency     time.Time
}

// New returns a fresh state for a scene with no history.
func New(policy Policy) *State {
	return Restore(policy, Durable{GameMode: ModeFreeform})
}

// Restore rebuilds a state from persisted fields. Coordination fields start
// at their conservative defaults.
func Restore(policy Policy, durable Durable) *State {
	s := &State{Durable: durable, policy: policy.withDefaults()}
	if !s.GameMode.Valid() {
		s.GameMode = ModeFreeform
	}
	s.Wake()
	return s
}

// Policy returns the limits in effect.
func (s *State) Policy() Policy { return s.policy }

// Wake resets every field that is not durable.
func (s *State) Wake() {
	s.generating = false
	s.trigger = ""
	s.autonomous = 0
	s.canvasEdits = nil
	s.reactions = make(map[string]int)
	s.injected = nil
	s.poll = nil
	s.lastHumanChat = time.Time{}
	s.lastCanvasReaction = time.Time{}
	s.lastLowLatency = time.Time{}
}

// Snapshot returns a deep copy of the durable fields.
func (s *State) Snapshot() Durable {
	out := s.Durable
	out.Relationships = append([]Relationship(nil), s.Relationships...)
	out.Transcript = make([]Message, 0, len(s.Transcript))
	for _, msg := range s.Transcript {
		out.Transcript = append(out.Transcript, msg.clone())
	}
	return out
}

// RecordHumanTurn counts a human message, resets the autonomous exchange
// counter, and invalidates any delayed autonomous attempt already claimed.
func (s *State) RecordHumanTurn(now time.Time) BudgetPhase {
	s.HumanTurns++
	s.autonomous = 0
	s.epoch++
	s.lastHumanChat = now
	return s.BudgetPhase()
}

// BudgetPhase is the current budget phase.
func (s *State) BudgetPhase() BudgetPhase {
	return BudgetPhaseFor(s.HumanTurns, s.policy.TurnBudget)
}

// TurnsRemaining is how many human turns are left before the budget closes.
func (s *State) TurnsRemaining() int {
	left := s.policy.TurnBudget - s.HumanTurns
	if left < 0 {
		return 0
	}
	return left
}

// EffectiveLifecycle is the more advanced of the explicit and automatic
// phases.
func (s *State) EffectiveLifecycle() Lifecycle {
	auto := AutoLifecycle(s.HumanTurns, s.policy.TurnBudget)
	if s.Explicit > auto {
		return s.Explicit
	}
	return auto
}

// AdvanceLifecycle records an explicit phase change. Requests behind the
// effective phase are rejected so callers can report them.
func (s *State) AdvanceLifecycle(to Lifecycle) (Lifecycle, error) {
	if to < LifecycleEstablish || to > LifecycleCurtain {
		return s.EffectiveLifecycle(), ErrLifecycleRegress
	}
	if to < s.EffectiveLifecycle() {
		return s.EffectiveLifecycle(), ErrLifecycleRegress
	}
	s.Explicit = to
	return s.EffectiveLifecycle(), nil
}

// ClaimGeneration takes the generation mutex. It reports false when a
// generation is already running.
func (s *State) ClaimGeneration(trigger Trigger) bool {
	if s.generating {
		return false
	}
	s.generating = true
	s.trigger = trigger
	return true
}

// ReleaseGeneration frees the generation mutex.
func (s *State) ReleaseGeneration() {
	s.generating = false
	s.trigger = ""
}

// Generating reports whether a generation holds the mutex and which trigger
// started it.
func (s *State) Generating() (bool, Trigger) {
	return s.generating, s.trigger
}

// Epoch changes every time a human turn is recorded.
func (s *State) Epoch() uint64 { return s.epoch }

// ConsumeAutonomous spends one autonomous exchange. It returns the epoch
// to re-check after any delay, or false when the exchange limit is reached.
func (s *State) ConsumeAutonomous() (uint64, bool) {
	if s.autonomous >= s.policy.MaxAutonomous {
		return s.epoch, false
	}
	s.autonomous++
	return s.epoch, true
}

// Autonomous returns the consecutive autonomous exchanges since the last
// human turn.
func (s *State) Autonomous() int { return s.autonomous }

// AddSpend records token usage.
func (s *State) AddSpend(tokens int64) {
	if tokens > 0 {
		s.SpendTokens += tokens
	}
}

// SpendExhausted reports whether the scene reached its spend cap.
func (s *State) SpendExhausted() bool {
	return s.SpendTokens >= s.policy.SpendCap
}

// NextPersona returns the persona index for the next generation and
// advances the rotation.
func (s *State) NextPersona(count int) int {
	if count <= 0 {
		return 0
	}
	current := s.ActivePersona % count
	if current < 0 {
		current = 0
	}
	s.ActivePersona = (current + 1) % count
	return current
}

// SetGameMode changes the active game mode.
func (s *State) SetGameMode(mode GameMode) error {
	if !mode.Valid() {
		return ErrUnknownMode
	}
	s.GameMode = mode
	return nil
}

// TerminalDue reports whether the one-shot terminal side effects should
// run now.
func (s *State) TerminalDue() bool {
	return !s.TerminalFired &&
		s.EffectiveLifecycle() == LifecycleCurtain &&
		s.HumanTurns >= s.policy.MinTerminalTurns
}

// MarkTerminalFired records that terminal side effects have started.
func (s *State) MarkTerminalFired() { s.TerminalFired = true }

// Inject queues a one-shot event for the next generation's context.
func (s *State) Inject(event string) {
	if event != "" {
		s.injected = append(s.injected, event)
	}
}

// TakeInjected returns and clears queued one-shot events.
func (s *State) TakeInjected() []string {
	out := s.injected
	s.injected = nil
	return out
}

// LastHumanChat returns when the last human message arrived.
func (s *State) LastHumanChat() time.Time { return s.lastHumanChat }
