package scene

import (
	"context"
	"log"

	"github.com/louisbranch/yesand/internal/platform/timeouts"
	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/tools"
)

// PerformerBoard is the scene as seen by one AI author's tool calls.
type PerformerBoard struct {
	scene  *Scene
	author string
}

var _ tools.Board = (*PerformerBoard)(nil)

// ForPerformer binds the scene to an AI author.
func (s *Scene) ForPerformer(author string) tools.Board {
	return &PerformerBoard{scene: s, author: author}
}

// Objects returns the live objects, or nil if the scene stopped.
func (b *PerformerBoard) Objects() []board.Object {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Storage)
	defer cancel()
	objs, err := b.scene.Snapshot(ctx)
	if err != nil {
		return nil
	}
	return objs
}

// Object returns one live object.
func (b *PerformerBoard) Object(id string) (board.Object, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Storage)
	defer cancel()
	obj, ok, err := b.scene.Object(ctx, id)
	if err != nil {
		return board.Object{}, false
	}
	return obj, ok
}

// Create stores obj authored by the performer.
func (b *PerformerBoard) Create(ctx context.Context, obj board.Object) (board.Object, error) {
	res, err := b.scene.Mutate(ctx, Op{Kind: OpCreate, Author: b.author, AI: true, Object: obj})
	return res.Object, err
}

// Update merges patch. The scene stamps it so it never loses to the stored
// timestamp.
func (b *PerformerBoard) Update(ctx context.Context, patch board.Patch) (board.Object, error) {
	patch.UpdatedAt = 0
	res, err := b.scene.Mutate(ctx, Op{Kind: OpUpdate, Author: b.author, AI: true, Patch: patch})
	return res.Object, err
}

// Delete removes one object.
func (b *PerformerBoard) Delete(ctx context.Context, id string) error {
	_, err := b.scene.Mutate(ctx, Op{Kind: OpDelete, Author: b.author, AI: true, ObjectID: id})
	return err
}

// Broadcast sends a stagecraft frame. Effects and sequences go through the
// store so their targets are checked against live state.
func (b *PerformerBoard) Broadcast(frameType string, payload any) {
	var op *Op
	switch p := payload.(type) {
	case board.EffectPayload:
		if frameType == board.FrameEffect {
			op = &Op{Kind: OpEffect, Author: b.author, AI: true, Effect: p}
		}
	case board.SequencePayload:
		if frameType == board.FrameSequence {
			op = &Op{Kind: OpSequence, Author: b.author, AI: true, Sequence: p}
		}
	}
	if op == nil {
		_ = b.scene.Broadcast(frameType, payload)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Storage)
	defer cancel()
	if _, err := b.scene.Mutate(ctx, *op); err != nil {
		log.Printf("stage: performer %s dropped scene=%q author=%q err=%v", frameType, b.scene.id, b.author, err)
	}
}
