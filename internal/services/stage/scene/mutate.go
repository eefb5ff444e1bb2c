package scene

import (
	"context"
	"log"
	"time"

	apperrors "github.com/louisbranch/yesand/internal/platform/errors"
	"github.com/louisbranch/yesand/internal/platform/timeouts"
	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/storage"
)

// OpKind names a mutation.
type OpKind string

const (
	OpCreate   OpKind = "create"
	OpUpdate   OpKind = "update"
	OpDelete   OpKind = "delete"
	OpEffect   OpKind = "effect"
	OpSequence OpKind = "sequence"
	OpClear    OpKind = "clear"
)

// Op is one requested mutation. Only the fields for its Kind are read.
type Op struct {
	Kind OpKind
	// Origin is the connection that sent the op; it is left out of the
	// broadcast because it already applied the change locally.
	Origin string
	Author string
	// AI marks ops issued by performers. They are not reported to OnEdit.
	AI bool

	Object   board.Object
	Patch    board.Patch
	ObjectID string
	Effect   board.EffectPayload
	Sequence board.SequencePayload
}

// Result describes what an accepted op changed.
type Result struct {
	Object   board.Object
	Deleted  []string
	Detached []board.Object
}

// Mutate applies op on the scene goroutine. Rejections are returned as
// *errors.Error values carrying a code.
func (s *Scene) Mutate(ctx context.Context, op Op) (Result, error) {
	var (
		res    Result
		mutErr error
	)
	err := s.call(ctx, func() {
		switch op.Kind {
		case OpCreate:
			res, mutErr = s.create(op)
		case OpUpdate:
			res, mutErr = s.update(op)
		case OpDelete:
			res, mutErr = s.delete(op)
		case OpEffect:
			mutErr = s.effect(op)
		case OpSequence:
			mutErr = s.sequence(op)
		case OpClear:
			res, mutErr = s.clear(op)
		default:
			mutErr = apperrors.WithMetadata(apperrors.CodeInvalidFrame, "unknown mutation", map[string]string{"kind": string(op.Kind)})
		}
		if mutErr == nil {
			s.touch()
		}
	})
	if err != nil {
		return Result{}, err
	}
	return res, mutErr
}

// UndoBatch deletes every object created under batchID and returns the
// deleted ids.
func (s *Scene) UndoBatch(ctx context.Context, batchID, origin string) ([]string, error) {
	if batchID == "" {
		return nil, apperrors.New(apperrors.CodeMissingField, "batch id is required")
	}
	var (
		res     Result
		undoErr error
	)
	err := s.call(ctx, func() {
		var ids []string
		for id, obj := range s.objects {
			if obj.BatchID == batchID {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return
		}
		res, undoErr = s.deleteMany(ids, Op{Kind: OpDelete, Origin: origin})
		if undoErr == nil {
			s.touch()
		}
	})
	if err != nil {
		return nil, err
	}
	return res.Deleted, undoErr
}

func (s *Scene) create(op Op) (Result, error) {
	obj := op.Object.Clone()
	if err := obj.Validate(); err != nil {
		return Result{}, err
	}
	if _, exists := s.objects[obj.ID]; exists {
		return Result{}, apperrors.WithMetadata(apperrors.CodeObjectExists, "object already exists", map[string]string{"id": obj.ID})
	}
	now := s.nowMillis()
	if op.Author != "" {
		obj.Author = op.Author
	}
	if obj.UpdatedAt == 0 {
		obj.UpdatedAt = now
	}
	obj = obj.Clamped(s.bounds)

	plan := s.planReplay()
	plan.add(board.ReplayEvent{Kind: board.EventCreate, Timestamp: now, Object: eventObject(obj)}, 0)
	if err := s.persist(plan.mutation([]board.Object{obj}, nil)); err != nil {
		return Result{}, err
	}
	s.objects[obj.ID] = obj
	s.commitReplay(plan)

	s.broadcast(board.FrameObjectCreate, board.ObjectPayload{Object: obj}, op.Origin)
	s.report(op, orchestration.CanvasEdit{
		Kind:     board.EventCreate,
		Type:     obj.Type,
		ObjectID: obj.ID,
		Author:   obj.Author,
		Text:     objectText(obj),
	})
	return Result{Object: obj.Clone()}, nil
}

func (s *Scene) update(op Op) (Result, error) {
	patch := op.Patch
	if err := patch.Validate(); err != nil {
		return Result{}, err
	}
	stored, ok := s.objects[patch.ID]
	if !ok {
		return Result{}, apperrors.WithMetadata(apperrors.CodeObjectNotFound, "object not found", map[string]string{"id": patch.ID})
	}
	if patch.Empty() {
		return Result{Object: stored.Clone()}, nil
	}
	now := s.nowMillis()
	if patch.UpdatedAt == 0 {
		patch.UpdatedAt = s.serverStamp(stored, now)
	} else if patch.UpdatedAt <= stored.UpdatedAt {
		return Result{}, apperrors.WithMetadata(apperrors.CodeStaleWrite, "update is older than the stored object", map[string]string{"id": patch.ID})
	}

	merged := board.Merge(stored, patch)
	if err := merged.Validate(); err != nil {
		return Result{}, err
	}
	merged = merged.Clamped(s.bounds)

	window := editDebounce
	if patch.GeometryOnly() {
		window = geometryDebounce
	}
	plan := s.planReplay()
	plan.add(board.ReplayEvent{Kind: board.EventUpdate, Timestamp: now, Object: eventObject(merged)}, window)
	if err := s.persist(plan.mutation([]board.Object{merged}, nil)); err != nil {
		return Result{}, err
	}
	s.objects[merged.ID] = merged
	s.commitReplay(plan)

	s.broadcast(board.FrameObjectUpdate, board.ObjectPayload{Object: merged}, op.Origin)
	_, textChanged := patch.Props[board.PropText]
	s.report(op, orchestration.CanvasEdit{
		Kind:        board.EventUpdate,
		Type:        merged.Type,
		ObjectID:    merged.ID,
		Author:      op.Author,
		Text:        objectText(merged),
		TextChanged: textChanged,
	})
	return Result{Object: merged.Clone()}, nil
}

func (s *Scene) delete(op Op) (Result, error) {
	if op.ObjectID == "" {
		return Result{}, apperrors.New(apperrors.CodeMissingField, "object id is required")
	}
	if _, ok := s.objects[op.ObjectID]; !ok {
		return Result{}, apperrors.WithMetadata(apperrors.CodeObjectNotFound, "object not found", map[string]string{"id": op.ObjectID})
	}
	return s.deleteMany([]string{op.ObjectID}, op)
}

// deleteMany removes ids and clears any connector endpoint that pointed at
// them. Connectors being deleted in the same call are not detached.
func (s *Scene) deleteMany(ids []string, op Op) (Result, error) {
	now := s.nowMillis()
	removing := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		removing[id] = struct{}{}
	}

	plan := s.planReplay()
	for _, id := range ids {
		plan.add(board.ReplayEvent{Kind: board.EventDelete, Timestamp: now, ObjectID: id}, 0)
	}
	var detached []board.Object
	for _, obj := range s.objects {
		if _, gone := removing[obj.ID]; gone || obj.Type != board.TypeConnector {
			continue
		}
		changed := false
		for _, id := range ids {
			var hit bool
			obj, hit = obj.Detach(id)
			changed = changed || hit
		}
		if !changed {
			continue
		}
		obj.UpdatedAt = s.serverStamp(s.objects[obj.ID], now)
		detached = append(detached, obj)
		plan.add(board.ReplayEvent{Kind: board.EventUpdate, Timestamp: now, Object: eventObject(obj)}, 0)
	}

	if err := s.persist(plan.mutation(detached, ids)); err != nil {
		return Result{}, err
	}
	deleted := make([]board.Object, 0, len(ids))
	for _, id := range ids {
		deleted = append(deleted, s.objects[id])
		delete(s.objects, id)
	}
	for _, obj := range detached {
		s.objects[obj.ID] = obj
	}
	s.commitReplay(plan)

	editingCleared := false
	for _, m := range s.members {
		if _, gone := removing[m.conn.Editing]; gone {
			m.conn.Editing = ""
			editingCleared = true
		}
	}

	for _, id := range ids {
		s.broadcast(board.FrameObjectDelete, board.DeletePayload{ID: id}, op.Origin)
	}
	for _, obj := range detached {
		s.broadcast(board.FrameObjectUpdate, board.ObjectPayload{Object: obj}, "")
	}
	if editingCleared {
		s.broadcastPresence("")
	}
	for _, obj := range deleted {
		s.report(op, orchestration.CanvasEdit{
			Kind:     board.EventDelete,
			Type:     obj.Type,
			ObjectID: obj.ID,
			Author:   op.Author,
			Text:     objectText(obj),
		})
	}
	return Result{Deleted: ids, Detached: detached}, nil
}

func (s *Scene) effect(op Op) error {
	if op.Effect.Kind == "" {
		return apperrors.New(apperrors.CodeMissingField, "effect kind is required")
	}
	if op.Effect.TargetID != "" {
		if _, ok := s.objects[op.Effect.TargetID]; !ok {
			return apperrors.WithMetadata(apperrors.CodeObjectNotFound, "object not found", map[string]string{"id": op.Effect.TargetID})
		}
	}
	s.broadcast(board.FrameEffect, op.Effect, op.Origin)
	return nil
}

func (s *Scene) sequence(op Op) error {
	if len(op.Sequence.Steps) == 0 {
		return apperrors.New(apperrors.CodeMissingField, "sequence steps are required")
	}
	for _, step := range op.Sequence.Steps {
		if _, ok := s.objects[step.TargetID]; !ok {
			return apperrors.WithMetadata(apperrors.CodeObjectNotFound, "object not found", map[string]string{"id": step.TargetID})
		}
	}
	s.broadcast(board.FrameSequence, op.Sequence, op.Origin)
	return nil
}

func (s *Scene) clear(op Op) (Result, error) {
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	now := s.nowMillis()
	plan := s.planReplay()
	plan.add(board.ReplayEvent{Kind: board.EventClear, Timestamp: now}, 0)
	if err := s.persist(plan.mutation(nil, ids)); err != nil {
		return Result{}, err
	}
	s.objects = make(map[string]board.Object)
	s.commitReplay(plan)
	for _, m := range s.members {
		m.conn.Editing = ""
	}

	s.broadcast(board.FrameBoardCleared, board.SceneRefPayload{SceneID: s.id}, "")
	s.report(op, orchestration.CanvasEdit{Kind: board.EventClear, Author: op.Author})
	return Result{Deleted: ids}, nil
}

// serverStamp picks a timestamp for a server-originated write that is
// never older than what is stored.
func (s *Scene) serverStamp(stored board.Object, now int64) int64 {
	if now > stored.UpdatedAt {
		return now
	}
	return stored.UpdatedAt + 1
}

func (s *Scene) report(op Op, edit orchestration.CanvasEdit) {
	if op.AI || s.onEdit == nil {
		return
	}
	s.onEdit(edit)
}

func (s *Scene) persist(m storage.Mutation) error {
	if s.store == nil || m.Empty() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Storage)
	defer cancel()
	if err := s.store.ApplyMutation(ctx, s.id, m); err != nil {
		log.Printf("stage: persist mutation failed scene=%q err=%v", s.id, err)
		return apperrors.Wrap(apperrors.CodeUnknown, "failed to save change", err)
	}
	return nil
}

func eventObject(obj board.Object) *board.Object {
	out := obj.Clone()
	return &out
}

func objectText(obj board.Object) string {
	for _, key := range []string{board.PropText, board.PropName, board.PropTitle} {
		if text := obj.PropString(key); text != "" {
			return text
		}
	}
	return ""
}

// replayPlan stages replay log changes until the mutation is persisted.
type replayPlan struct {
	log       []storage.ReplayRecord
	nextSeq   uint64
	cap       int
	touched   map[uint64]storage.ReplayRecord
	trimBelow uint64
}

func (s *Scene) planReplay() *replayPlan {
	return &replayPlan{
		log:     append([]storage.ReplayRecord(nil), s.replay...),
		nextSeq: s.nextSeq,
		cap:     s.replayCap,
		touched: make(map[uint64]storage.ReplayRecord),
	}
}

// add appends event, or replaces the last entry when it updated the same
// object less than debounce ago.
func (p *replayPlan) add(event board.ReplayEvent, debounce time.Duration) {
	if n := len(p.log); n > 0 && debounce > 0 && event.Kind == board.EventUpdate {
		last := p.log[n-1]
		if last.Event.Kind == board.EventUpdate &&
			last.Event.TargetID() == event.TargetID() &&
			event.Timestamp-last.Event.Timestamp < debounce.Milliseconds() {
			rec := storage.ReplayRecord{Seq: last.Seq, Event: event}
			p.log[n-1] = rec
			p.touched[rec.Seq] = rec
			return
		}
	}
	p.nextSeq++
	rec := storage.ReplayRecord{Seq: p.nextSeq, Event: event}
	p.log = append(p.log, rec)
	p.touched[rec.Seq] = rec
	if over := len(p.log) - p.cap; over > 0 {
		p.log = p.log[over:]
		p.trimBelow = p.log[0].Seq
	}
}

func (p *replayPlan) mutation(put []board.Object, deleted []string) storage.Mutation {
	m := storage.Mutation{Put: put, Delete: deleted, TrimBelow: p.trimBelow}
	for _, rec := range p.log {
		if _, ok := p.touched[rec.Seq]; ok {
			m.Replay = append(m.Replay, rec)
		}
	}
	return m
}

func (s *Scene) commitReplay(p *replayPlan) {
	s.replay = p.log
	s.nextSeq = p.nextSeq
}
