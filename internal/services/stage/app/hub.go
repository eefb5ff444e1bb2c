package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/yesand/internal/platform/clock"
	apperrors "github.com/louisbranch/yesand/internal/platform/errors"
	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/domain/sanitize"
	"github.com/louisbranch/yesand/internal/services/stage/domain/tools"
	"github.com/louisbranch/yesand/internal/services/stage/llm"
	"github.com/louisbranch/yesand/internal/services/stage/orchestrator"
	"github.com/louisbranch/yesand/internal/services/stage/scene"
	"github.com/louisbranch/yesand/internal/services/stage/storage"
)

const maxSceneIDRunes = 64

// HubConfig wires every scene the hub opens.
type HubConfig struct {
	Boards      storage.BoardStore
	States      storage.StateStore
	Generator   llm.Generator
	Images      llm.ImageGenerator
	Moderator   sanitize.Moderator
	Clock       clock.Clock
	Policy      orchestration.Policy
	Timing      orchestrator.Timing
	Personas    []string
	DefaultMode orchestration.GameMode
	IdleAfter   time.Duration
}

// runtime is one live scene: its store actor and its orchestrator.
type runtime struct {
	scene *scene.Scene
	orch  *orchestrator.Orchestrator
}

// Hub owns the live scenes of one process. Scenes open on first use and
// are evicted once idle.
type Hub struct {
	cfg      HubConfig
	registry *tools.Registry

	mu     sync.Mutex
	scenes map[string]*runtime
	closed bool
}

// NewHub returns an empty hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Moderator == nil {
		cfg.Moderator = sanitize.NewPatternModerator(sanitize.DefaultRules(), nil)
	}
	return &Hub{cfg: cfg, registry: tools.NewRegistry(), scenes: make(map[string]*runtime)}
}

// Registry returns the tool registry shared by every scene.
func (h *Hub) Registry() *tools.Registry { return h.registry }

func validSceneID(sceneID string) error {
	sceneID = strings.TrimSpace(sceneID)
	if sceneID == "" {
		return apperrors.New(apperrors.CodeMissingField, "scene id is required")
	}
	if len([]rune(sceneID)) > maxSceneIDRunes || strings.ContainsAny(sceneID, "/\\ \t\n") {
		return apperrors.New(apperrors.CodeInvalidFrame, "scene id is malformed")
	}
	return nil
}

// acquire returns the live runtime for sceneID, hydrating it from storage
// when needed.
func (h *Hub) acquire(ctx context.Context, sceneID string) (*runtime, error) {
	if err := validSceneID(sceneID); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, apperrors.New(apperrors.CodeSceneClosed, "stage is shutting down")
	}
	if rt, ok := h.scenes[sceneID]; ok {
		return rt, nil
	}

	var orchRef atomic.Pointer[orchestrator.Orchestrator]
	sc, err := scene.Open(ctx, scene.Config{
		SceneID: sceneID,
		Store:   h.cfg.Boards,
		Clock:   h.cfg.Clock,
		OnEdit: func(edit orchestration.CanvasEdit) {
			if o := orchRef.Load(); o != nil {
				o.NotifyCanvasEdit(edit)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.Open(ctx, orchestrator.Config{
		Scene:       sc,
		States:      h.cfg.States,
		Generator:   h.cfg.Generator,
		Images:      h.cfg.Images,
		Registry:    h.registry,
		Moderator:   h.cfg.Moderator,
		Clock:       h.cfg.Clock,
		Policy:      h.cfg.Policy,
		Timing:      h.cfg.Timing,
		Personas:    h.cfg.Personas,
		DefaultMode: h.cfg.DefaultMode,
	})
	if err != nil {
		sc.Stop()
		return nil, err
	}
	orchRef.Store(orch)

	rt := &runtime{scene: sc, orch: orch}
	h.scenes[sceneID] = rt
	log.Printf("stage: scene opened scene=%q", sceneID)
	return rt, nil
}

// lookup returns a live runtime without opening one.
func (h *Hub) lookup(sceneID string) (*runtime, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rt, ok := h.scenes[sceneID]
	return rt, ok
}

// RunExternalTool dispatches a tool call against sceneID on behalf of an
// external agent.
func (h *Hub) RunExternalTool(ctx context.Context, sceneID, persona, name string, raw json.RawMessage) (tools.Outcome, error) {
	rt, err := h.acquire(ctx, sceneID)
	if err != nil {
		return tools.Outcome{}, err
	}
	return rt.orch.RunExternalTool(ctx, persona, name, raw)
}

// Snapshot returns the live objects of sceneID.
func (h *Hub) Snapshot(ctx context.Context, sceneID string) ([]board.Object, error) {
	rt, err := h.acquire(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	return rt.scene.Snapshot(ctx)
}

// Replay returns the replay log of sceneID.
func (h *Hub) Replay(ctx context.Context, sceneID string) ([]board.ReplayEvent, error) {
	rt, err := h.acquire(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	return rt.scene.Replay(ctx)
}

// DeleteScene wipes sceneID from storage and disconnects everyone.
func (h *Hub) DeleteScene(ctx context.Context, sceneID string) error {
	rt, err := h.acquire(ctx, sceneID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.scenes, sceneID)
	h.mu.Unlock()

	rt.orch.Stop()
	if err := rt.scene.DeleteScene(ctx); err != nil {
		return err
	}
	if h.cfg.States != nil {
		if err := h.cfg.States.DeleteState(ctx, sceneID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	log.Printf("stage: scene deleted scene=%q", sceneID)
	return nil
}

// EvictIdle stops every scene with no connections, no generation in
// flight, and no activity within the idle window. It returns how many
// scenes were stopped.
func (h *Hub) EvictIdle(ctx context.Context) int {
	if h.cfg.IdleAfter <= 0 {
		return 0
	}
	h.mu.Lock()
	candidates := make(map[string]*runtime, len(h.scenes))
	for id, rt := range h.scenes {
		candidates[id] = rt
	}
	h.mu.Unlock()

	now := h.cfg.Clock.Now()
	evicted := 0
	for id, rt := range candidates {
		stats, err := rt.scene.Stats(ctx)
		if err != nil || stats.Connections > 0 || now.Sub(stats.LastActivity) < h.cfg.IdleAfter {
			continue
		}
		status, err := rt.orch.Status(ctx)
		if err != nil || status.InFlight > 0 || (status.Generating && status.Trigger != orchestration.TriggerFollowUp) {
			continue
		}

		h.mu.Lock()
		if h.scenes[id] != rt {
			h.mu.Unlock()
			continue
		}
		delete(h.scenes, id)
		h.mu.Unlock()

		rt.orch.Stop()
		rt.scene.Stop()
		evicted++
		log.Printf("stage: scene evicted scene=%q idle=%s", id, now.Sub(stats.LastActivity).Round(time.Second))
	}
	return evicted
}

// runEviction sweeps idle scenes until ctx ends.
func (h *Hub) runEviction(ctx context.Context) error {
	if h.cfg.IdleAfter <= 0 {
		<-ctx.Done()
		return nil
	}
	interval := h.cfg.IdleAfter / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.EvictIdle(ctx)
		}
	}
}

// Close stops every live scene.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	scenes := h.scenes
	h.scenes = make(map[string]*runtime)
	h.mu.Unlock()

	for _, rt := range scenes {
		rt.orch.Stop()
		rt.scene.Stop()
	}
}
