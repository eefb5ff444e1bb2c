// Package placement finds collision-free positions for new canvas content.
//
// Every creation path goes through Place or Turn.Place so content placed by
// concurrent generations in the same turn cannot land on top of each other.
package placement

import (
	"math"

	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
)

const (
	// DefaultGap is the minimum clearance between placed objects.
	DefaultGap = 16
	// DefaultInset is the margin kept inside a container frame.
	DefaultInset = 24

	minFineStep = 8
)

// Options tunes a placement search.
type Options struct {
	Bounds board.Rect
	Gap    float64
	Inset  float64
}

// DefaultOptions targets the full canvas.
func DefaultOptions() Options {
	return Options{Bounds: board.Canvas, Gap: DefaultGap, Inset: DefaultInset}
}

// Obstacle is a rectangle placement must avoid.
type Obstacle struct {
	ID   string
	Rect board.Rect
}

// Obstacles extracts collision subjects from objects. Labels, connectors,
// and background objects never block placement.
func Obstacles(objects []board.Object) []Obstacle {
	out := make([]Obstacle, 0, len(objects))
	for _, obj := range objects {
		if !Collides(obj) {
			continue
		}
		out = append(out, Obstacle{ID: obj.ID, Rect: obj.Bounds()})
	}
	return out
}

// Collides reports whether obj takes part in collision tests.
func Collides(obj board.Object) bool {
	if obj.Background {
		return false
	}
	switch obj.Type {
	case board.TypeLabel, board.TypeConnector:
		return false
	default:
		return true
	}
}

// OverlapFraction is the intersection area divided by the smaller
// rectangle's area. Touching edges score zero.
func OverlapFraction(a, b board.Rect) float64 {
	smaller := math.Min(a.Area(), b.Area())
	if smaller <= 0 {
		return 0
	}
	return a.IntersectionArea(b) / smaller
}

// Overlaps reports whether a and b come closer than gap.
func Overlaps(a, b board.Rect, gap float64) bool {
	half := gap / 2
	return OverlapFraction(a.Inflate(half), b.Inflate(half)) > 0
}

// Clamp moves a position so a box of size fits inside bounds.
func Clamp(p board.Point, size board.Size, bounds board.Rect) board.Point {
	r := board.ClampRect(board.Rect{X: p.X, Y: p.Y, W: size.W, H: size.H}, bounds)
	return board.Point{X: r.X, Y: r.Y}
}

// Place returns a position for a box of size that does not come within
// opts.Gap of any obstacle. hint may be nil. When nothing is free the
// bounds origin is returned and the caller accepts the overlap.
func Place(obstacles []Obstacle, size board.Size, hint *board.Point, opts Options) board.Point {
	if p, ok := search(obstacles, size, hint, opts.Bounds, opts.Gap); ok {
		return p
	}
	return Clamp(board.Point{X: opts.Bounds.X, Y: opts.Bounds.Y}, size, opts.Bounds)
}

func search(obstacles []Obstacle, size board.Size, hint *board.Point, area board.Rect, gap float64) (board.Point, bool) {
	if size.W <= 0 || size.H <= 0 || size.W > area.W || size.H > area.H {
		return board.Point{}, false
	}
	clear := func(p board.Point) bool {
		r := board.Rect{X: p.X, Y: p.Y, W: size.W, H: size.H}
		if !area.Contains(r) {
			return false
		}
		for _, obs := range obstacles {
			if Overlaps(r, obs.Rect, gap) {
				return false
			}
		}
		return true
	}

	if hint != nil {
		start := Clamp(*hint, size, area)
		if clear(start) {
			return start, true
		}
		if p, ok := rings(start, size, area, gap, clear); ok {
			return p, true
		}
	}
	if p, ok := grid(size, area, gap, clear); ok {
		return p, true
	}
	return fine(obstacles, size, area, gap, clear)
}

// rings walks square rings around start, one footprint-proportional step
// further out each time.
func rings(start board.Point, size board.Size, area board.Rect, gap float64, clear func(board.Point) bool) (board.Point, bool) {
	step := (math.Max(size.W, size.H) + gap) / 2
	maxRing := int(math.Ceil(math.Max(area.W, area.H)/step)) + 1
	for k := 1; k <= maxRing; k++ {
		for dy := -k; dy <= k; dy++ {
			for dx := -k; dx <= k; dx++ {
				if abs(dx) != k && abs(dy) != k {
					continue
				}
				p := board.Point{X: start.X + float64(dx)*step, Y: start.Y + float64(dy)*step}
				if clear(p) {
					return p, true
				}
			}
		}
	}
	return board.Point{}, false
}

// grid scans in object-sized steps, left to right, top to bottom.
func grid(size board.Size, area board.Rect, gap float64, clear func(board.Point) bool) (board.Point, bool) {
	for y := area.Y; y+size.H <= area.Bottom(); y += size.H + gap {
		for x := area.X; x+size.W <= area.Right(); x += size.W + gap {
			p := board.Point{X: x, Y: y}
			if clear(p) {
				return p, true
			}
		}
	}
	return board.Point{}, false
}

// fine scans below the lowest obstacle in sub-object steps.
func fine(obstacles []Obstacle, size board.Size, area board.Rect, gap float64, clear func(board.Point) bool) (board.Point, bool) {
	lowest := area.Y
	for _, obs := range obstacles {
		if obs.Rect.Bottom() > lowest && obs.Rect.IntersectionArea(area) > 0 {
			lowest = obs.Rect.Bottom()
		}
	}
	step := math.Max(math.Min(size.W, size.H)/4, minFineStep)
	startY := math.Min(lowest+gap, area.Bottom()-size.H)
	for y := startY; y+size.H <= area.Bottom(); y += step {
		for x := area.X; x+size.W <= area.Right(); x += step {
			p := board.Point{X: x, Y: y}
			if clear(p) {
				return p, true
			}
		}
	}
	for y := area.Y; y < startY; y += step {
		for x := area.X; x+size.W <= area.Right(); x += step {
			p := board.Point{X: x, Y: y}
			if clear(p) {
				return p, true
			}
		}
	}
	return board.Point{}, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
