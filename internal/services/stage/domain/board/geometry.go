package board

import "math"

// Rect is an axis-aligned rectangle in canvas units.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Point is a canvas position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is an object footprint.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Canvas is the fixed rectangle every scene is drawn on.
var Canvas = Rect{X: 0, Y: 0, W: 2400, H: 1600}

func (r Rect) Right() float64  { return r.X + r.W }
func (r Rect) Bottom() float64 { return r.Y + r.H }
func (r Rect) Area() float64   { return r.W * r.H }

// Inflate grows r by d on every side.
func (r Rect) Inflate(d float64) Rect {
	return Rect{X: r.X - d, Y: r.Y - d, W: r.W + 2*d, H: r.H + 2*d}
}

// Inset shrinks r by d on every side, never below zero size.
func (r Rect) Inset(d float64) Rect {
	out := Rect{X: r.X + d, Y: r.Y + d, W: r.W - 2*d, H: r.H - 2*d}
	if out.W < 0 {
		out.W = 0
	}
	if out.H < 0 {
		out.H = 0
	}
	return out
}

// IntersectionArea returns the area shared by r and o.
func (r Rect) IntersectionArea(o Rect) float64 {
	w := math.Min(r.Right(), o.Right()) - math.Max(r.X, o.X)
	h := math.Min(r.Bottom(), o.Bottom()) - math.Max(r.Y, o.Y)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Contains reports whether o lies entirely within r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.Right() <= r.Right() && o.Bottom() <= r.Bottom()
}

// ClampRect moves r inside bounds, shrinking it first when it cannot fit.
// Non-positive sizes become 1.
func ClampRect(r Rect, bounds Rect) Rect {
	if r.W <= 0 || math.IsNaN(r.W) {
		r.W = 1
	}
	if r.H <= 0 || math.IsNaN(r.H) {
		r.H = 1
	}
	r.W = math.Min(r.W, bounds.W)
	r.H = math.Min(r.H, bounds.H)
	r.X = clamp(r.X, bounds.X, bounds.Right()-r.W)
	r.Y = clamp(r.Y, bounds.Y, bounds.Bottom()-r.H)
	return r
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
