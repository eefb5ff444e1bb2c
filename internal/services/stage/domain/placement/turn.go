package placement

import (
	"sync"

	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
)

// Turn tracks everything placed during one human turn. Sibling generations
// answering the same turn share a Turn so their placements see each other
// even before the scene store has applied them.
type Turn struct {
	mu        sync.Mutex
	opts      Options
	reserved  []Obstacle
	container *Obstacle
}

// NewTurn returns an empty ledger using opts.
func NewTurn(opts Options) *Turn {
	return &Turn{opts: opts}
}

// Reserve records r as taken for the rest of the turn.
func (t *Turn) Reserve(id string, r board.Rect) {
	t.mu.Lock()
	t.reserved = append(t.reserved, Obstacle{ID: id, Rect: r})
	t.mu.Unlock()
}

// SetContainer makes later placements try the interior of r first.
func (t *Turn) SetContainer(id string, r board.Rect) {
	t.mu.Lock()
	t.container = &Obstacle{ID: id, Rect: r}
	t.mu.Unlock()
}

// Container returns the current container, if any.
func (t *Turn) Container() (board.Rect, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.container == nil {
		return board.Rect{}, false
	}
	return t.container.Rect, true
}

// Reserved returns a copy of the rectangles reserved so far.
func (t *Turn) Reserved() []board.Rect {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]board.Rect, 0, len(t.reserved))
	for _, r := range t.reserved {
		out = append(out, r.Rect)
	}
	return out
}

// Place finds a position for size against existing objects plus everything
// reserved this turn, then reserves the result under id, replacing any
// earlier reservation for id. Search and reservation happen under one lock.
func (t *Turn) Place(existing []board.Object, id string, size board.Size, hint *board.Point) board.Point {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id != "" {
		t.reserved = withoutID(t.reserved, id)
	}
	pos := t.locate(existing, size, hint)
	t.reserved = append(t.reserved, Obstacle{ID: id, Rect: board.Rect{X: pos.X, Y: pos.Y, W: size.W, H: size.H}})
	return pos
}

// Locate finds a position the same way Place does without reserving it.
// Objects that never collide, such as labels, are placed this way.
func (t *Turn) Locate(existing []board.Object, size board.Size, hint *board.Point) board.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.locate(existing, size, hint)
}

func (t *Turn) locate(existing []board.Object, size board.Size, hint *board.Point) board.Point {
	obstacles := mergeReserved(Obstacles(existing), t.reserved)
	if t.container != nil {
		interior := t.container.Rect.Inset(t.opts.Inset)
		inner := withoutID(obstacles, t.container.ID)
		var innerHint *board.Point
		if hint != nil && interior.Contains(board.Rect{X: hint.X, Y: hint.Y, W: size.W, H: size.H}) {
			innerHint = hint
		}
		if pos, ok := search(inner, size, innerHint, interior, t.opts.Gap); ok {
			return pos
		}
	}
	return Place(obstacles, size, hint, t.opts)
}

// mergeReserved appends reservations not already present as stored objects.
func mergeReserved(obstacles []Obstacle, reserved []Obstacle) []Obstacle {
	seen := make(map[string]struct{}, len(obstacles))
	for _, obs := range obstacles {
		seen[obs.ID] = struct{}{}
	}
	out := append([]Obstacle(nil), obstacles...)
	for _, r := range reserved {
		if _, ok := seen[r.ID]; ok && r.ID != "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

func withoutID(obstacles []Obstacle, id string) []Obstacle {
	out := make([]Obstacle, 0, len(obstacles))
	for _, obs := range obstacles {
		if obs.ID != id {
			out = append(out, obs)
		}
	}
	return out
}
