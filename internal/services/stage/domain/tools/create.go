package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/placement"
)

var (
	noteSize      = board.Size{W: 200, H: 200}
	shapeSize     = board.Size{W: 240, H: 160}
	frameSize     = board.Size{W: 640, H: 420}
	labelSize     = board.Size{W: 220, H: 48}
	characterSize = board.Size{W: 160, H: 220}
	imageSize     = board.Size{W: 256, H: 256}
)

type CreateNoteInput struct {
	Text  string   `json:"text" jsonschema:"note text"`
	Color string   `json:"color,omitempty" jsonschema:"fill color name or hex"`
	X     *float64 `json:"x,omitempty" jsonschema:"preferred left edge"`
	Y     *float64 `json:"y,omitempty" jsonschema:"preferred top edge"`
	W     *float64 `json:"w,omitempty" jsonschema:"width (default 200)"`
	H     *float64 `json:"h,omitempty" jsonschema:"height (default 200)"`
}

type CreateShapeInput struct {
	Shape      string   `json:"shape" jsonschema:"one of rect, circle, frame, label"`
	Text       string   `json:"text,omitempty" jsonschema:"text or title shown in the shape"`
	Color      string   `json:"color,omitempty" jsonschema:"fill color name or hex"`
	X          *float64 `json:"x,omitempty" jsonschema:"preferred left edge"`
	Y          *float64 `json:"y,omitempty" jsonschema:"preferred top edge"`
	W          *float64 `json:"w,omitempty" jsonschema:"width"`
	H          *float64 `json:"h,omitempty" jsonschema:"height"`
	Background bool     `json:"background,omitempty" jsonschema:"scenery that other content may sit on"`
}

type CreateCharacterInput struct {
	Name        string   `json:"name" jsonschema:"character name"`
	Description string   `json:"description,omitempty" jsonschema:"one-line description"`
	Color       string   `json:"color,omitempty" jsonschema:"accent color"`
	X           *float64 `json:"x,omitempty" jsonschema:"preferred left edge"`
	Y           *float64 `json:"y,omitempty" jsonschema:"preferred top edge"`
}

type CreateConnectorInput struct {
	FromID string `json:"from_id" jsonschema:"id of the source object"`
	ToID   string `json:"to_id" jsonschema:"id of the target object"`
	Label  string `json:"label,omitempty" jsonschema:"text shown on the connector"`
}

type GenerateImageInput struct {
	Prompt string   `json:"prompt" jsonschema:"what the image should show"`
	X      *float64 `json:"x,omitempty" jsonschema:"preferred left edge"`
	Y      *float64 `json:"y,omitempty" jsonschema:"preferred top edge"`
}

// Placed describes where a created object landed.
type Placed struct {
	ID   string           `json:"id"`
	Type board.ObjectType `json:"type"`
	X    float64          `json:"x"`
	Y    float64          `json:"y"`
	W    float64          `json:"w"`
	H    float64          `json:"h"`
}

func placedFrom(obj board.Object) Placed {
	return Placed{ID: obj.ID, Type: obj.Type, X: obj.X, Y: obj.Y, W: obj.W, H: obj.H}
}

func hintFrom(x, y *float64) *board.Point {
	if x == nil && y == nil {
		return nil
	}
	p := board.Point{}
	if x != nil {
		p.X = *x
	}
	if y != nil {
		p.Y = *y
	}
	return &p
}

func sizeFrom(def board.Size, w, h *float64) board.Size {
	out := def
	if w != nil && *w > 0 && !math.IsInf(*w, 0) {
		out.W = *w
	}
	if h != nil && *h > 0 && !math.IsInf(*h, 0) {
		out.H = *h
	}
	out.W = math.Min(out.W, board.Canvas.W)
	out.H = math.Min(out.H, board.Canvas.H)
	return out
}

func (e *Env) createPlaced(ctx context.Context, kind board.ObjectType, size board.Size, hint *board.Point, props map[string]any, background bool) (board.Object, error) {
	obj := board.Object{
		ID:         e.newID(),
		Type:       kind,
		W:          size.W,
		H:          size.H,
		Props:      props,
		Author:     e.Author,
		BatchID:    e.BatchID,
		Background: background,
	}
	pos := e.place(obj.ID, size, hint, placement.Collides(obj))
	obj.X, obj.Y = pos.X, pos.Y
	return e.Board.Create(ctx, obj.Clamped(board.Canvas))
}

func withColor(props map[string]any, color string) map[string]any {
	if color = strings.TrimSpace(color); color != "" {
		props[board.PropColor] = color
	}
	return props
}

func createNote(ctx context.Context, env *Env, in CreateNoteInput) (any, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, errors.New("text is required")
	}
	props := withColor(map[string]any{board.PropText: in.Text}, in.Color)
	obj, err := env.createPlaced(ctx, board.TypeNote, sizeFrom(noteSize, in.W, in.H), hintFrom(in.X, in.Y), props, false)
	if err != nil {
		return nil, err
	}
	return placedFrom(obj), nil
}

func createShape(ctx context.Context, env *Env, in CreateShapeInput) (any, error) {
	kind := board.ObjectType(strings.ToLower(strings.TrimSpace(in.Shape)))
	def := shapeSize
	switch kind {
	case board.TypeRect, board.TypeCircle:
	case board.TypeFrame:
		def = frameSize
	case board.TypeLabel:
		def = labelSize
	default:
		return nil, fmt.Errorf("shape must be rect, circle, frame, or label")
	}
	props := withColor(map[string]any{}, in.Color)
	if in.Text != "" {
		key := board.PropText
		if kind == board.TypeFrame {
			key = board.PropTitle
		}
		props[key] = in.Text
	}
	obj, err := env.createPlaced(ctx, kind, sizeFrom(def, in.W, in.H), hintFrom(in.X, in.Y), props, in.Background)
	if err != nil {
		return nil, err
	}
	if kind == board.TypeFrame {
		env.turn().SetContainer(obj.ID, obj.Bounds())
	}
	return placedFrom(obj), nil
}

func createCharacter(ctx context.Context, env *Env, in CreateCharacterInput) (any, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.New("name is required")
	}
	props := withColor(map[string]any{board.PropName: name}, in.Color)
	if in.Description != "" {
		props[board.PropText] = in.Description
	}
	obj, err := env.createPlaced(ctx, board.TypeCharacter, characterSize, hintFrom(in.X, in.Y), props, false)
	if err != nil {
		return nil, err
	}
	return placedFrom(obj), nil
}

func createConnector(ctx context.Context, env *Env, in CreateConnectorInput) (any, error) {
	from, ok := env.Board.Object(in.FromID)
	if !ok {
		return nil, fmt.Errorf("object %q not found", in.FromID)
	}
	to, ok := env.Board.Object(in.ToID)
	if !ok {
		return nil, fmt.Errorf("object %q not found", in.ToID)
	}
	if from.ID == to.ID {
		return nil, errors.New("connector endpoints must differ")
	}
	fx, fy := from.X+from.W/2, from.Y+from.H/2
	tx, ty := to.X+to.W/2, to.Y+to.H/2
	props := map[string]any{board.PropFrom: from.ID, board.PropTo: to.ID}
	if in.Label != "" {
		props[board.PropText] = in.Label
	}
	obj := board.Object{
		ID:      env.newID(),
		Type:    board.TypeConnector,
		X:       math.Min(fx, tx),
		Y:       math.Min(fy, ty),
		W:       math.Max(math.Abs(tx-fx), 1),
		H:       math.Max(math.Abs(ty-fy), 1),
		Props:   props,
		Author:  env.Author,
		BatchID: env.BatchID,
	}
	created, err := env.Board.Create(ctx, obj.Clamped(board.Canvas))
	if err != nil {
		return nil, err
	}
	return placedFrom(created), nil
}

func generateImage(ctx context.Context, env *Env, in GenerateImageInput) (any, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}
	if env.Images == nil {
		return nil, errors.New("image generation is not available")
	}
	url, err := env.Images.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}
	props := map[string]any{board.PropURL: url, board.PropText: prompt}
	obj, err := env.createPlaced(ctx, board.TypeImage, imageSize, hintFrom(in.X, in.Y), props, false)
	if err != nil {
		return nil, err
	}
	return placedFrom(obj), nil
}
