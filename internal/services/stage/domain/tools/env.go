package tools

import (
	"context"
	"time"

	"github.com/louisbranch/yesand/internal/platform/id"
	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/placement"
)

// Board is the scene surface tools mutate. Updates with a zero UpdatedAt
// are stamped by the store.
type Board interface {
	Objects() []board.Object
	Object(id string) (board.Object, bool)
	Create(ctx context.Context, obj board.Object) (board.Object, error)
	Update(ctx context.Context, patch board.Patch) (board.Object, error)
	Delete(ctx context.Context, id string) error
	Broadcast(frameType string, payload any)
}

// Stage exposes the orchestration hooks a few tools need.
type Stage interface {
	SetRelationship(a, b, descriptor string) error
	AdvancePhase(phase string) (string, error)
	OpenPoll(question string, options []string, duration time.Duration) (string, error)
}

// ImageGenerator turns a prompt into an image URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Env is everything one generation step's tool calls share.
type Env struct {
	Board   Board
	Stage   Stage
	Images  ImageGenerator
	Turn    *placement.Turn
	Author  string
	BatchID string
	NewID   func() string
}

func (e *Env) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return id.Prefixed("obj")
}

func (e *Env) turn() *placement.Turn {
	if e.Turn == nil {
		e.Turn = placement.NewTurn(placement.DefaultOptions())
	}
	return e.Turn
}

// place finds a collision-free position for objID, ignoring objID's own
// stored geometry. Only colliding objects are reserved for the rest of the
// turn.
func (e *Env) place(objID string, size board.Size, hint *board.Point, collides bool) board.Point {
	existing := e.Board.Objects()
	others := existing[:0:0]
	for _, obj := range existing {
		if obj.ID != objID {
			others = append(others, obj)
		}
	}
	if !collides {
		return e.turn().Locate(others, size, hint)
	}
	return e.turn().Place(others, objID, size, hint)
}
