// Package orchestrator drives the AI performers through one scene.
//
// Each Orchestrator is an actor: a single goroutine owns the scene's
// orchestration.State and processes triggers one at a time. Generations run
// on their own goroutines while the actor holds the generation mutex on
// their behalf, and report back through the actor's mailbox.
package orchestrator

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/yesand/internal/platform/clock"
	"github.com/louisbranch/yesand/internal/platform/id"
	"github.com/louisbranch/yesand/internal/platform/timeouts"
	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/domain/placement"
	"github.com/louisbranch/yesand/internal/services/stage/domain/sanitize"
	"github.com/louisbranch/yesand/internal/services/stage/domain/tools"
	"github.com/louisbranch/yesand/internal/services/stage/llm"
	"github.com/louisbranch/yesand/internal/services/stage/scheduler"
	"github.com/louisbranch/yesand/internal/services/stage/storage"
)

var (
	// ErrStopped is returned by calls made after Stop.
	ErrStopped = errors.New("orchestrator is stopped")

	errPanicked = errors.New("generation panicked")
)

// Fixed lines shown to players when no generation runs.
const (
	ClosingMessage = "That's our show! Thank you for playing. Take a bow."
	SpendMessage   = "The performers are out of energy for this scene. Thanks for playing!"
	FailureMessage = "Sorry, the performers lost their place. Try that again?"
)

// Scene is the part of the scene store the orchestrator uses. All board
// writes go through Performer.
type Scene interface {
	ID() string
	Snapshot(ctx context.Context) ([]board.Object, error)
	ForPerformer(author string) tools.Board
	Broadcast(frameType string, payload any) error
	SetMode(mode string) error
	SetAIActive(ctx context.Context, persona string) error
	ClearAIActive(ctx context.Context) error
}

// Timing holds the trigger delays.
type Timing struct {
	DirectorDelay  time.Duration
	FollowUpDelay  time.Duration
	CanvasDebounce time.Duration
	SoundDelay     time.Duration
	WaveDelay      time.Duration
	MaxSteps       int
}

// DefaultTiming returns the stock delays.
func DefaultTiming() Timing {
	return Timing{
		DirectorDelay:  45 * time.Second,
		FollowUpDelay:  2 * time.Second,
		CanvasDebounce: 4 * time.Second,
		SoundDelay:     1500 * time.Millisecond,
		WaveDelay:      2500 * time.Millisecond,
		MaxSteps:       6,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.DirectorDelay <= 0 {
		t.DirectorDelay = d.DirectorDelay
	}
	if t.FollowUpDelay <= 0 {
		t.FollowUpDelay = d.FollowUpDelay
	}
	if t.CanvasDebounce <= 0 {
		t.CanvasDebounce = d.CanvasDebounce
	}
	if t.SoundDelay <= 0 {
		t.SoundDelay = d.SoundDelay
	}
	if t.WaveDelay <= 0 {
		t.WaveDelay = d.WaveDelay
	}
	if t.MaxSteps <= 0 {
		t.MaxSteps = d.MaxSteps
	}
	return t
}

// Config wires an orchestrator.
type Config struct {
	Scene       Scene
	States      storage.StateStore
	Generator   llm.Generator
	Images      llm.ImageGenerator
	Registry    *tools.Registry
	Moderator   sanitize.Moderator
	Clock       clock.Clock
	Policy      orchestration.Policy
	Timing      Timing
	Personas    []string
	DefaultMode orchestration.GameMode
	NewID       func(prefix string) string
}

// Status is a point-in-time view of the actor.
type Status struct {
	Generating   bool
	Trigger      orchestration.Trigger
	InFlight     int
	HumanTurns   int
	Autonomous   int
	BudgetPhase  orchestration.BudgetPhase
	Lifecycle    orchestration.Lifecycle
	SpendTokens  int64
	GameMode     orchestration.GameMode
	TerminalDone bool
}

// Orchestrator is one scene's orchestration actor.
type Orchestrator struct {
	sceneID   string
	scene     Scene
	states    storage.StateStore
	gen       llm.Generator
	images    llm.ImageGenerator
	registry  *tools.Registry
	moderator sanitize.Moderator
	clock     clock.Clock
	timing    Timing
	personas  []string
	newID     func(prefix string) string

	timers *scheduler.Scheduler
	box    *mailbox
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	work   sync.WaitGroup

	// Owned by the run goroutine.
	state        *orchestration.State
	delayed      string
	pendingHuman bool
	inFlight     int
	// turn is shared by every generation answering the current human turn.
	turn         *placement.Turn
	lastPersona  string
}

// Open loads the scene's durable state and starts the actor.
func Open(ctx context.Context, cfg Config) (*Orchestrator, error) {
	if cfg.Scene == nil {
		return nil, errors.New("scene is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = tools.NewRegistry()
	}
	if cfg.Moderator == nil {
		cfg.Moderator = sanitize.NewPatternModerator(sanitize.DefaultRules(), nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.NewID == nil {
		cfg.NewID = id.Prefixed
	}
	personas := make([]string, 0, len(cfg.Personas))
	for _, p := range cfg.Personas {
		if p = strings.TrimSpace(p); p != "" {
			personas = append(personas, p)
		}
	}
	if len(personas) == 0 {
		personas = []string{"Spark", "Echo"}
	}

	state := orchestration.New(cfg.Policy)
	if cfg.States != nil {
		durable, err := cfg.States.LoadState(ctx, cfg.Scene.ID())
		switch {
		case err == nil:
			state = orchestration.Restore(cfg.Policy, durable)
		case errors.Is(err, storage.ErrNotFound):
		default:
			return nil, err
		}
	}
	if state.HumanTurns == 0 && cfg.DefaultMode.Valid() {
		state.GameMode = cfg.DefaultMode
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sceneID:   cfg.Scene.ID(),
		scene:     cfg.Scene,
		states:    cfg.States,
		gen:       cfg.Generator,
		images:    cfg.Images,
		registry:  cfg.Registry,
		moderator: cfg.Moderator,
		clock:     cfg.Clock,
		timing:    cfg.Timing.withDefaults(),
		personas:  personas,
		newID:     cfg.NewID,
		box:       newMailbox(),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       runCtx,
		cancel:    cancel,
		state:     state,
		turn:      placement.NewTurn(placement.DefaultOptions()),
	}
	o.timers = scheduler.New(cfg.Clock, func(fn func()) { o.box.push(fn) })
	_ = o.scene.SetMode(string(state.GameMode))

	go o.run()
	return o, nil
}

func (o *Orchestrator) run() {
	defer close(o.done)
	for {
		select {
		case <-o.box.signal:
			for _, fn := range o.box.drain() {
				o.exec(fn)
			}
		case <-o.quit:
			return
		}
	}
}

func (o *Orchestrator) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("orchestrator: scene=%q recovered panic: %v", o.sceneID, r)
		}
	}()
	fn()
}

// call runs fn on the actor and waits for it.
func (o *Orchestrator) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !o.box.push(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-o.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels timers and in-flight generations and waits for background
// work to finish. State is saved before the actor exits.
func (o *Orchestrator) Stop() {
	o.once.Do(func() {
		o.timers.Stop()
		saved := make(chan struct{})
		if o.box.push(func() {
			defer close(saved)
			o.saveState()
		}) {
			select {
			case <-saved:
			case <-o.done:
			}
		}
		o.cancel()
		o.box.close()
		close(o.quit)
		<-o.done
		o.work.Wait()
		// The actor is gone and no generation can report back, so drop
		// the claim here.
		o.delayed = ""
		o.pendingHuman = false
		o.inFlight = 0
		o.state.ReleaseGeneration()
	})
	<-o.done
	o.work.Wait()
}

// Status reports the actor's current view.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	var out Status
	err := o.call(ctx, func() {
		generating, trigger := o.state.Generating()
		out = Status{
			Generating:   generating,
			Trigger:      trigger,
			InFlight:     o.inFlight,
			HumanTurns:   o.state.HumanTurns,
			Autonomous:   o.state.Autonomous(),
			BudgetPhase:  o.state.BudgetPhase(),
			Lifecycle:    o.state.EffectiveLifecycle(),
			SpendTokens:  o.state.SpendTokens,
			GameMode:     o.state.GameMode,
			TerminalDone: o.state.TerminalFired,
		}
	})
	return out, err
}

// Personas returns the configured performer names.
func (o *Orchestrator) Personas() []string {
	return append([]string(nil), o.personas...)
}

func (o *Orchestrator) saveState() {
	if o.states == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Storage)
	defer cancel()
	if err := o.states.SaveState(ctx, o.sceneID, o.state.Snapshot()); err != nil {
		log.Printf("orchestrator: save state failed scene=%q err=%v", o.sceneID, err)
	}
}

func (o *Orchestrator) say(role orchestration.Role, author, persona, text string) {
	err := o.scene.Broadcast(board.FrameChat, board.ChatMessagePayload{
		Role:    string(role),
		Author:  author,
		Persona: persona,
		Text:    text,
		At:      o.clock.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("orchestrator: broadcast chat failed scene=%q err=%v", o.sceneID, err)
	}
}

// system sends a line that is not attributed to any performer.
func (o *Orchestrator) system(text string) {
	o.say(orchestration.RoleAssistant, "stage", "", text)
}
