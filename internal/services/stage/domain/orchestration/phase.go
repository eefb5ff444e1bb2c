package orchestration

import (
	"fmt"
	"strings"
)

// BudgetPhase is how close a scene is to its human-turn budget.
type BudgetPhase string

const (
	BudgetNormal BudgetPhase = "normal"
	BudgetLate   BudgetPhase = "late"
	BudgetFinal  BudgetPhase = "final"
	BudgetOver   BudgetPhase = "over"
)

const (
	lateFraction  = 0.60
	finalFraction = 0.85
)

// BudgetPhaseFor maps a human-turn count onto a budget phase.
func BudgetPhaseFor(turns, budget int) BudgetPhase {
	if budget <= 0 {
		return BudgetNormal
	}
	if turns > budget {
		return BudgetOver
	}
	ratio := float64(turns) / float64(budget)
	switch {
	case ratio >= finalFraction:
		return BudgetFinal
	case ratio >= lateFraction:
		return BudgetLate
	default:
		return BudgetNormal
	}
}

// Guidance returns the wrap-up instruction injected for a budget phase.
func (p BudgetPhase) Guidance() string {
	switch p {
	case BudgetLate:
		return "The scene is past its midpoint. Start steering threads toward a payoff and avoid opening new subplots."
	case BudgetFinal:
		return "Only a few exchanges remain. Resolve the central conflict now and land a clear ending beat."
	default:
		return ""
	}
}

// Lifecycle is the dramatic stage of a scene. Values are ordered.
type Lifecycle int

const (
	LifecycleEstablish Lifecycle = iota
	LifecycleBuild
	LifecyclePeak
	LifecycleResolve
	LifecycleCurtain
)

var lifecycleNames = [...]string{"establish", "build", "peak", "resolve", "curtain"}

func (l Lifecycle) String() string {
	if l < LifecycleEstablish || l > LifecycleCurtain {
		return fmt.Sprintf("lifecycle(%d)", int(l))
	}
	return lifecycleNames[l]
}

// ParseLifecycle resolves a lifecycle name.
func ParseLifecycle(name string) (Lifecycle, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range lifecycleNames {
		if candidate == name {
			return Lifecycle(i), nil
		}
	}
	return LifecycleEstablish, fmt.Errorf("unknown lifecycle phase %q", name)
}

var lifecycleThresholds = []struct {
	phase    Lifecycle
	fraction float64
}{
	{LifecycleCurtain, 1.00},
	{LifecycleResolve, 0.70},
	{LifecyclePeak, 0.45},
	{LifecycleBuild, 0.15},
}

// AutoLifecycle is the phase implied by turn count alone.
func AutoLifecycle(turns, budget int) Lifecycle {
	if budget <= 0 {
		return LifecycleEstablish
	}
	ratio := float64(turns) / float64(budget)
	for _, th := range lifecycleThresholds {
		if ratio >= th.fraction {
			return th.phase
		}
	}
	return LifecycleEstablish
}

// Direction returns the performer guidance for a lifecycle phase.
func (l Lifecycle) Direction() string {
	switch l {
	case LifecycleEstablish:
		return "Establish who, where, and what. Offer concrete details the humans can build on."
	case LifecycleBuild:
		return "Raise the stakes. Heighten what is already on stage instead of inventing new premises."
	case LifecyclePeak:
		return "This is the peak. Push the central conflict to its most intense moment."
	case LifecycleResolve:
		return "Resolve. Pay off earlier offers and let consequences land."
	case LifecycleCurtain:
		return "Curtain. Deliver a closing line and a final image."
	default:
		return ""
	}
}

// DirectorNote is the complication prompt used after inactivity, keyed by a
// coarse narrative phase.
func (l Lifecycle) DirectorNote() string {
	switch {
	case l <= LifecycleBuild:
		return "The stage has gone quiet. Introduce a small, surprising complication that invites the humans back in."
	case l == LifecyclePeak:
		return "The stage has gone quiet at the peak. Escalate with one bold twist tied to what is already on the board."
	default:
		return "The stage has gone quiet near the end. Nudge toward resolution with a callback to an earlier moment."
	}
}

// GameMode constrains the shape of every assistant message.
type GameMode string

const (
	ModeFreeform   GameMode = "freeform"
	ModeOneWord    GameMode = "one_word"
	ModeThreeLines GameMode = "three_lines"
	ModeYesAnd     GameMode = "yes_and"
)

// Valid reports whether m is a known mode.
func (m GameMode) Valid() bool {
	switch m {
	case ModeFreeform, ModeOneWord, ModeThreeLines, ModeYesAnd:
		return true
	default:
		return false
	}
}

// Rule is the instruction the performers get for a mode.
func (m GameMode) Rule() string {
	switch m {
	case ModeOneWord:
		return "Game: one word. Reply with exactly one word of dialogue."
	case ModeThreeLines:
		return "Game: three lines. Reply with at most three short lines."
	case ModeYesAnd:
		return "Game: yes, and. Begin by accepting the last offer with \"Yes, and\" then build on it."
	default:
		return ""
	}
}
