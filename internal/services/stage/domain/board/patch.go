package board

import (
	"strings"

	apperrors "github.com/louisbranch/yesand/internal/platform/errors"
)

// Patch is a partial update to one object. Nil pointer fields are left
// untouched. A Props entry with a nil value removes that key.
type Patch struct {
	ID         string         `json:"id"`
	Type       *ObjectType    `json:"type,omitempty"`
	X          *float64       `json:"x,omitempty"`
	Y          *float64       `json:"y,omitempty"`
	W          *float64       `json:"w,omitempty"`
	H          *float64       `json:"h,omitempty"`
	Rotation   *float64       `json:"rotation,omitempty"`
	Props      map[string]any `json:"props,omitempty"`
	Background *bool          `json:"background,omitempty"`
	UpdatedAt  int64          `json:"updatedAt"`
}

// Validate checks the patch before it is merged.
func (p Patch) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return apperrors.New(apperrors.CodeMissingField, "object id is required")
	}
	if p.Type != nil && !p.Type.Valid() {
		return apperrors.WithMetadata(apperrors.CodeInvalidType, "unknown object type", map[string]string{"type": string(*p.Type)})
	}
	for _, v := range []*float64{p.X, p.Y, p.W, p.H, p.Rotation} {
		if v != nil && !finite(*v) {
			return apperrors.New(apperrors.CodeInvalidGeometry, "geometry must be finite")
		}
	}
	if (p.W != nil && *p.W <= 0) || (p.H != nil && *p.H <= 0) {
		return apperrors.New(apperrors.CodeInvalidGeometry, "width and height must be positive")
	}
	return nil
}

// GeometryOnly reports whether the patch touches nothing but position,
// size, or rotation.
func (p Patch) GeometryOnly() bool {
	if p.Type != nil || p.Background != nil || len(p.Props) > 0 {
		return false
	}
	return p.X != nil || p.Y != nil || p.W != nil || p.H != nil || p.Rotation != nil
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return !p.GeometryOnly() && p.Type == nil && p.Background == nil && len(p.Props) == 0
}

// Merge applies p to stored. Geometry and type replace; props merge key by
// key. The stored object is not modified.
func Merge(stored Object, p Patch) Object {
	out := stored.Clone()
	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.X != nil {
		out.X = *p.X
	}
	if p.Y != nil {
		out.Y = *p.Y
	}
	if p.W != nil {
		out.W = *p.W
	}
	if p.H != nil {
		out.H = *p.H
	}
	if p.Rotation != nil {
		out.Rotation = *p.Rotation
	}
	if p.Background != nil {
		out.Background = *p.Background
	}
	if len(p.Props) > 0 {
		if out.Props == nil {
			out.Props = make(map[string]any, len(p.Props))
		}
		for k, v := range p.Props {
			if v == nil {
				delete(out.Props, k)
				continue
			}
			out.Props[k] = v
		}
	}
	out.UpdatedAt = p.UpdatedAt
	return out
}

// Float returns a pointer to v for building patches.
func Float(v float64) *float64 { return &v }
