package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/placement"
)

type MoveObjectInput struct {
	ID string  `json:"id" jsonschema:"object id"`
	X  float64 `json:"x" jsonschema:"target left edge"`
	Y  float64 `json:"y" jsonschema:"target top edge"`
}

type ResizeObjectInput struct {
	ID string  `json:"id" jsonschema:"object id"`
	W  float64 `json:"w" jsonschema:"new width"`
	H  float64 `json:"h" jsonschema:"new height"`
}

type EditTextInput struct {
	ID   string `json:"id" jsonschema:"object id"`
	Text string `json:"text" jsonschema:"replacement text"`
}

type RecolorInput struct {
	ID    string `json:"id" jsonschema:"object id"`
	Color string `json:"color" jsonschema:"color name or hex"`
}

type DeleteObjectInput struct {
	ID string `json:"id" jsonschema:"object id"`
}

type ReadBoardInput struct{}

// ObjectSummary is the compact view read_board returns.
type ObjectSummary struct {
	ID     string           `json:"id"`
	Type   board.ObjectType `json:"type"`
	X      float64          `json:"x"`
	Y      float64          `json:"y"`
	W      float64          `json:"w"`
	H      float64          `json:"h"`
	Text   string           `json:"text,omitempty"`
	Name   string           `json:"name,omitempty"`
	Author string           `json:"author,omitempty"`
	From   string           `json:"from_id,omitempty"`
	To     string           `json:"to_id,omitempty"`
}

type ReadBoardResult struct {
	Objects []ObjectSummary `json:"objects"`
	Count   int             `json:"count"`
	Canvas  board.Rect      `json:"canvas"`
}

func (e *Env) existing(objID string) (board.Object, error) {
	if strings.TrimSpace(objID) == "" {
		return board.Object{}, errors.New("id is required")
	}
	obj, ok := e.Board.Object(objID)
	if !ok {
		return board.Object{}, fmt.Errorf("object %q not found", objID)
	}
	return obj, nil
}

func moveObject(ctx context.Context, env *Env, in MoveObjectInput) (any, error) {
	obj, err := env.existing(in.ID)
	if err != nil {
		return nil, err
	}
	size := board.Size{W: obj.W, H: obj.H}
	pos := board.Point{X: in.X, Y: in.Y}
	if placement.Collides(obj) {
		pos = env.place(obj.ID, size, &pos, true)
	} else {
		pos = placement.Clamp(pos, size, board.Canvas)
	}
	updated, err := env.Board.Update(ctx, board.Patch{ID: obj.ID, X: board.Float(pos.X), Y: board.Float(pos.Y)})
	if err != nil {
		return nil, err
	}
	return placedFrom(updated), nil
}

func resizeObject(ctx context.Context, env *Env, in ResizeObjectInput) (any, error) {
	obj, err := env.existing(in.ID)
	if err != nil {
		return nil, err
	}
	if in.W <= 0 || in.H <= 0 {
		return nil, errors.New("w and h must be positive")
	}
	size := sizeFrom(board.Size{W: obj.W, H: obj.H}, &in.W, &in.H)
	pos := board.Point{X: obj.X, Y: obj.Y}
	if placement.Collides(obj) {
		pos = env.place(obj.ID, size, &pos, true)
	} else {
		pos = placement.Clamp(pos, size, board.Canvas)
	}
	updated, err := env.Board.Update(ctx, board.Patch{
		ID: obj.ID,
		X:  board.Float(pos.X),
		Y:  board.Float(pos.Y),
		W:  board.Float(size.W),
		H:  board.Float(size.H),
	})
	if err != nil {
		return nil, err
	}
	return placedFrom(updated), nil
}

func editText(ctx context.Context, env *Env, in EditTextInput) (any, error) {
	obj, err := env.existing(in.ID)
	if err != nil {
		return nil, err
	}
	key := board.PropText
	if obj.Type == board.TypeFrame {
		key = board.PropTitle
	}
	updated, err := env.Board.Update(ctx, board.Patch{ID: obj.ID, Props: map[string]any{key: in.Text}})
	if err != nil {
		return nil, err
	}
	return placedFrom(updated), nil
}

func recolor(ctx context.Context, env *Env, in RecolorInput) (any, error) {
	obj, err := env.existing(in.ID)
	if err != nil {
		return nil, err
	}
	color := strings.TrimSpace(in.Color)
	if color == "" {
		return nil, errors.New("color is required")
	}
	updated, err := env.Board.Update(ctx, board.Patch{ID: obj.ID, Props: map[string]any{board.PropColor: color}})
	if err != nil {
		return nil, err
	}
	return placedFrom(updated), nil
}

func deleteObject(ctx context.Context, env *Env, in DeleteObjectInput) (any, error) {
	obj, err := env.existing(in.ID)
	if err != nil {
		return nil, err
	}
	if err := env.Board.Delete(ctx, obj.ID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": obj.ID}, nil
}

func readBoard(_ context.Context, env *Env, _ ReadBoardInput) (any, error) {
	objects := env.Board.Objects()
	out := ReadBoardResult{Objects: make([]ObjectSummary, 0, len(objects)), Count: len(objects), Canvas: board.Canvas}
	for _, obj := range objects {
		out.Objects = append(out.Objects, ObjectSummary{
			ID:     obj.ID,
			Type:   obj.Type,
			X:      obj.X,
			Y:      obj.Y,
			W:      obj.W,
			H:      obj.H,
			Text:   firstNonEmpty(obj.PropString(board.PropText), obj.PropString(board.PropTitle)),
			Name:   obj.PropString(board.PropName),
			Author: obj.Author,
			From:   obj.PropString(board.PropFrom),
			To:     obj.PropString(board.PropTo),
		})
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
