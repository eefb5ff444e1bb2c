package board

import (
	"math"
	"strings"

	apperrors "github.com/louisbranch/yesand/internal/platform/errors"
)

// ObjectType is the closed set of object kinds a scene can hold.
type ObjectType string

const (
	TypeNote      ObjectType = "note"
	TypeRect      ObjectType = "rect"
	TypeCircle    ObjectType = "circle"
	TypeConnector ObjectType = "connector"
	TypeLabel     ObjectType = "label"
	TypeFrame     ObjectType = "frame"
	TypeImage     ObjectType = "image"
	TypeCharacter ObjectType = "character"
)

// Valid reports whether t is one of the known object types.
func (t ObjectType) Valid() bool {
	switch t {
	case TypeNote, TypeRect, TypeCircle, TypeConnector, TypeLabel, TypeFrame, TypeImage, TypeCharacter:
		return true
	default:
		return false
	}
}

// Well-known prop keys.
const (
	PropText  = "text"
	PropColor = "color"
	PropFrom  = "fromId"
	PropTo    = "toId"
	PropURL   = "url"
	PropName  = "name"
	PropTitle = "title"
)

// Object is one item on a scene canvas. UpdatedAt is milliseconds since the
// Unix epoch and drives last-writer-wins conflict resolution.
type Object struct {
	ID         string         `json:"id"`
	Type       ObjectType     `json:"type"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	W          float64        `json:"w"`
	H          float64        `json:"h"`
	Rotation   float64        `json:"rotation,omitempty"`
	Props      map[string]any `json:"props,omitempty"`
	Author     string         `json:"author,omitempty"`
	UpdatedAt  int64          `json:"updatedAt"`
	BatchID    string         `json:"batchId,omitempty"`
	Background bool           `json:"background,omitempty"`
}

// Bounds returns the object's axis-aligned rectangle, ignoring rotation.
func (o Object) Bounds() Rect {
	return Rect{X: o.X, Y: o.Y, W: o.W, H: o.H}
}

// Clone returns a copy whose Props map is not shared with o.
func (o Object) Clone() Object {
	out := o
	if o.Props != nil {
		out.Props = make(map[string]any, len(o.Props))
		for k, v := range o.Props {
			out.Props[k] = v
		}
	}
	return out
}

// PropString returns a string prop or "".
func (o Object) PropString(key string) string {
	if o.Props == nil {
		return ""
	}
	value, _ := o.Props[key].(string)
	return value
}

// Validate checks the fields required for an object to be stored.
func (o Object) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return apperrors.New(apperrors.CodeMissingField, "object id is required")
	}
	if o.Type == "" {
		return apperrors.New(apperrors.CodeMissingField, "object type is required")
	}
	if !o.Type.Valid() {
		return apperrors.WithMetadata(apperrors.CodeInvalidType, "unknown object type", map[string]string{"type": string(o.Type)})
	}
	if !finite(o.X, o.Y, o.W, o.H, o.Rotation) {
		return apperrors.New(apperrors.CodeInvalidGeometry, "geometry must be finite")
	}
	if o.W <= 0 || o.H <= 0 {
		return apperrors.New(apperrors.CodeInvalidGeometry, "width and height must be positive")
	}
	return nil
}

// Clamped returns o with its geometry forced inside bounds. Oversized
// objects shrink to the bounds.
func (o Object) Clamped(bounds Rect) Object {
	r := ClampRect(o.Bounds(), bounds)
	o.X, o.Y, o.W, o.H = r.X, r.Y, r.W, r.H
	return o
}

// References reports whether o is a connector with an endpoint at id.
func (o Object) References(id string) bool {
	if o.Type != TypeConnector || id == "" {
		return false
	}
	return o.PropString(PropFrom) == id || o.PropString(PropTo) == id
}

// Detach clears any connector endpoint pointing at id and reports whether
// anything changed. The connector itself is kept.
func (o Object) Detach(id string) (Object, bool) {
	if !o.References(id) {
		return o, false
	}
	out := o.Clone()
	for _, key := range []string{PropFrom, PropTo} {
		if out.PropString(key) == id {
			delete(out.Props, key)
		}
	}
	return out, true
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
