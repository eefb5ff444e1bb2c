// Package scene runs the authoritative store for one scene's objects,
// connections, and replay log.
//
// Each Scene is a single goroutine that owns its state; every exported
// method hands work to that goroutine and, where a result is needed, waits
// for it. Different scenes run independently.
package scene

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/yesand/internal/platform/clock"
	apperrors "github.com/louisbranch/yesand/internal/platform/errors"
	"github.com/louisbranch/yesand/internal/platform/timeouts"
	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/scheduler"
	"github.com/louisbranch/yesand/internal/services/stage/storage"
)

const (
	// DefaultReplayCap bounds the replay log.
	DefaultReplayCap = 2000
	// DefaultAIActiveTTL is how long the synthetic AI presence entry lives
	// without being refreshed.
	DefaultAIActiveTTL = 90 * time.Second

	// AIIdentity is the presence identity used for the AI performers.
	AIIdentity = "ai"

	geometryDebounce = 100 * time.Millisecond
	editDebounce     = 500 * time.Millisecond

	aiActiveKey = "ai-active"
	inboxSize   = 128
)

// ErrStopped is returned by calls made after the scene stopped.
var ErrStopped = errors.New("scene is stopped")

// Peer delivers frames to one connection. Send errors are ignored by the
// scene; a dead peer is removed when its connection disconnects.
type Peer interface {
	Send(frame board.Frame) error
	Close() error
}

// Config wires a scene to its collaborators.
type Config struct {
	SceneID     string
	Store       storage.BoardStore
	Clock       clock.Clock
	Bounds      board.Rect
	ReplayCap   int
	AIActiveTTL time.Duration
	// OnEdit receives every accepted human edit. It runs on the scene
	// goroutine and must not block.
	OnEdit func(orchestration.CanvasEdit)
}

// Stats summarises a scene for the hub's idle eviction.
type Stats struct {
	Connections  int
	Objects      int
	LastActivity time.Time
}

type member struct {
	conn board.Connection
	peer Peer
}

// Scene is one scene's store actor.
type Scene struct {
	id        string
	store     storage.BoardStore
	clock     clock.Clock
	bounds    board.Rect
	replayCap int
	aiTTL     time.Duration
	onEdit    func(orchestration.CanvasEdit)
	timers    *scheduler.Scheduler

	inbox    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the run goroutine.
	objects      map[string]board.Object
	members      map[string]*member
	replay       []storage.ReplayRecord
	nextSeq      uint64
	ai           *board.PresenceEntry
	mode         string
	lastActivity time.Time
}

// Open loads the scene from cfg.Store and starts its goroutine. A nil store
// keeps the scene in memory only.
func Open(ctx context.Context, cfg Config) (*Scene, error) {
	if cfg.SceneID == "" {
		return nil, apperrors.New(apperrors.CodeMissingField, "scene id is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Bounds.W <= 0 || cfg.Bounds.H <= 0 {
		cfg.Bounds = board.Canvas
	}
	if cfg.ReplayCap <= 0 {
		cfg.ReplayCap = DefaultReplayCap
	}
	if cfg.AIActiveTTL <= 0 {
		cfg.AIActiveTTL = DefaultAIActiveTTL
	}

	s := &Scene{
		id:        cfg.SceneID,
		store:     cfg.Store,
		clock:     cfg.Clock,
		bounds:    cfg.Bounds,
		replayCap: cfg.ReplayCap,
		aiTTL:     cfg.AIActiveTTL,
		onEdit:    cfg.OnEdit,
		inbox:     make(chan func(), inboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		objects:   make(map[string]board.Object),
		members:   make(map[string]*member),
	}
	s.timers = scheduler.New(cfg.Clock, func(fn func()) { s.post(fn) })

	if cfg.Store != nil {
		loaded, err := cfg.Store.LoadBoard(ctx, cfg.SceneID)
		if err != nil {
			return nil, err
		}
		for _, obj := range loaded.Objects {
			s.objects[obj.ID] = obj
		}
		s.replay = loaded.Replay
		if n := len(s.replay); n > 0 {
			s.nextSeq = s.replay[n-1].Seq
		}
	}
	s.lastActivity = s.clock.Now()

	go s.run()
	return s, nil
}

// ID returns the scene id.
func (s *Scene) ID() string { return s.id }

func (s *Scene) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.inbox:
			s.exec(fn)
		case <-s.quit:
			return
		}
	}
}

func (s *Scene) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("stage: scene=%q recovered panic: %v", s.id, r)
		}
	}()
	fn()
}

// post queues fn without waiting for it to run.
func (s *Scene) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// call runs fn on the scene goroutine and waits for it.
func (s *Scene) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case <-s.quit:
		return ErrStopped
	default:
	}
	select {
	case s.inbox <- func() {
		defer close(finished)
		fn()
	}:
	case <-s.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stop ends the scene goroutine and cancels its timers. Queued work that
// has not started is dropped.
func (s *Scene) Stop() {
	s.stopOnce.Do(func() {
		s.timers.Stop()
		close(s.quit)
	})
	<-s.done
}

// Done is closed once the scene goroutine has exited.
func (s *Scene) Done() <-chan struct{} { return s.done }

// Connect registers a connection, sends it the full snapshot and presence,
// and tells everyone else about the new presence. Reconnecting with a known
// connection id replaces its peer.
func (s *Scene) Connect(ctx context.Context, conn board.Connection, peer Peer) error {
	if conn.ID == "" {
		return apperrors.New(apperrors.CodeMissingField, "connection id is required")
	}
	if conn.Identity == "" {
		return apperrors.New(apperrors.CodeMissingField, "identity is required")
	}
	if !conn.Role.Valid() {
		conn.Role = board.RoleSpectator
	}
	if conn.Name == "" {
		conn.Name = conn.Identity
	}
	return s.call(ctx, func() {
		s.members[conn.ID] = &member{conn: conn, peer: peer}
		s.touch()
		s.send(peer, board.FrameInit, board.InitPayload{
			SceneID:  s.id,
			Objects:  s.snapshot(),
			Presence: s.presence(),
			Mode:     s.mode,
		})
		s.broadcastPresence(conn.ID)
	})
}

// Disconnect removes a connection and returns how many remain.
func (s *Scene) Disconnect(ctx context.Context, connID string) (int, error) {
	var remaining int
	err := s.call(ctx, func() {
		if _, ok := s.members[connID]; ok {
			delete(s.members, connID)
			s.touch()
			s.broadcastPresence("")
		}
		remaining = len(s.members)
	})
	return remaining, err
}

// Snapshot returns every stored object ordered by id.
func (s *Scene) Snapshot(ctx context.Context) ([]board.Object, error) {
	var out []board.Object
	err := s.call(ctx, func() { out = s.snapshot() })
	return out, err
}

// Object returns one stored object.
func (s *Scene) Object(ctx context.Context, id string) (board.Object, bool, error) {
	var (
		obj board.Object
		ok  bool
	)
	err := s.call(ctx, func() {
		obj, ok = s.objects[id]
		obj = obj.Clone()
	})
	return obj, ok, err
}

// Presence returns the current presence list.
func (s *Scene) Presence(ctx context.Context) ([]board.PresenceEntry, error) {
	var out []board.PresenceEntry
	err := s.call(ctx, func() { out = s.presence() })
	return out, err
}

// Replay returns the replay log, oldest first.
func (s *Scene) Replay(ctx context.Context) ([]board.ReplayEvent, error) {
	var out []board.ReplayEvent
	err := s.call(ctx, func() {
		out = make([]board.ReplayEvent, 0, len(s.replay))
		for _, rec := range s.replay {
			out = append(out, rec.Event)
		}
	})
	return out, err
}

// Stats reports connection and activity counters.
func (s *Scene) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := s.call(ctx, func() {
		out = Stats{Connections: len(s.members), Objects: len(s.objects), LastActivity: s.lastActivity}
	})
	return out, err
}

// SetEditing records which object a connection has text focus on. An empty
// objectID clears it.
func (s *Scene) SetEditing(ctx context.Context, connID, objectID string) error {
	return s.call(ctx, func() {
		m, ok := s.members[connID]
		if !ok || m.conn.Editing == objectID {
			return
		}
		m.conn.Editing = objectID
		s.broadcastPresence("")
	})
}

// MoveCursor relays a cursor position to everyone but its sender.
func (s *Scene) MoveCursor(connID string, x, y float64) error {
	if !s.post(func() {
		m, ok := s.members[connID]
		if !ok {
			return
		}
		s.broadcast(board.FrameCursor, board.CursorPayload{Identity: m.conn.Identity, X: x, Y: y}, connID)
	}) {
		return ErrStopped
	}
	return nil
}

// SetAIActive shows persona as an active participant until ClearAIActive
// or the TTL passes.
func (s *Scene) SetAIActive(ctx context.Context, persona string) error {
	return s.call(ctx, func() {
		s.ai = &board.PresenceEntry{Identity: AIIdentity, Name: persona, Role: board.RolePlayer, AI: true}
		s.timers.Schedule(aiActiveKey, s.aiTTL, func(token uint64) {
			if !s.timers.Current(aiActiveKey, token) || s.ai == nil {
				return
			}
			s.ai = nil
			s.broadcastPresence("")
		})
		s.broadcastPresence("")
	})
}

// ClearAIActive removes the synthetic AI presence entry.
func (s *Scene) ClearAIActive(ctx context.Context) error {
	return s.call(ctx, func() {
		s.timers.Cancel(aiActiveKey)
		if s.ai == nil {
			return
		}
		s.ai = nil
		s.broadcastPresence("")
	})
}

// Broadcast sends a frame to every connection without waiting for delivery.
func (s *Scene) Broadcast(frameType string, payload any) error {
	if !s.post(func() { s.broadcast(frameType, payload, "") }) {
		return ErrStopped
	}
	return nil
}

// SetMode records the active game mode shown to new connections and
// announces it.
func (s *Scene) SetMode(mode string) error {
	if !s.post(func() {
		s.mode = mode
		s.broadcast(board.FrameMode, board.ModePayload{Mode: mode}, "")
	}) {
		return ErrStopped
	}
	return nil
}

// DeleteScene removes everything stored for the scene, tells connections
// the board is gone, closes them, and stops the scene.
func (s *Scene) DeleteScene(ctx context.Context) error {
	var storeErr error
	err := s.call(ctx, func() {
		if s.store != nil {
			storeCtx, cancel := context.WithTimeout(context.Background(), timeouts.Storage)
			storeErr = s.store.DeleteBoard(storeCtx, s.id)
			cancel()
			if storeErr != nil {
				return
			}
		}
		s.objects = make(map[string]board.Object)
		s.replay = nil
		s.broadcast(board.FrameBoardDeleted, board.SceneRefPayload{SceneID: s.id}, "")
		for id, m := range s.members {
			if m.peer != nil {
				_ = m.peer.Close()
			}
			delete(s.members, id)
		}
	})
	if err != nil {
		return err
	}
	if storeErr != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "failed to delete scene", storeErr)
	}
	s.Stop()
	return nil
}

func (s *Scene) touch() {
	s.lastActivity = s.clock.Now()
}

func (s *Scene) nowMillis() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *Scene) snapshot() []board.Object {
	out := make([]board.Object, 0, len(s.objects))
	for _, obj := range s.objects {
		out = append(out, obj.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scene) presence() []board.PresenceEntry {
	conns := make([]board.Connection, 0, len(s.members))
	for _, m := range s.members {
		conns = append(conns, m.conn)
	}
	return board.BuildPresence(conns, s.ai)
}

func (s *Scene) broadcastPresence(exclude string) {
	s.broadcast(board.FramePresence, board.PresencePayload{Presence: s.presence()}, exclude)
}

func (s *Scene) broadcast(frameType string, payload any, exclude string) {
	frame := board.Frame{Type: frameType, Payload: mustJSON(payload)}
	for id, m := range s.members {
		if id == exclude || m.peer == nil {
			continue
		}
		_ = m.peer.Send(frame)
	}
}

func (s *Scene) send(peer Peer, frameType string, payload any) {
	if peer == nil {
		return
	}
	_ = peer.Send(board.Frame{Type: frameType, Payload: mustJSON(payload)})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("stage: failed to marshal frame payload: %v", err)
		return nil
	}
	return b
}
