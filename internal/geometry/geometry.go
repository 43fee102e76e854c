// Package geometry provides the coordinate spaces and transforms shared by
// the selector, detector, and overlay. All functions are pure.
package geometry

import "image"

// Space identifies which coordinate space a point or rect is expressed in.
// A bare rect is ambiguous without it.
type Space int

const (
	// SpaceScreen is absolute display pixel coordinates.
	SpaceScreen Space = iota
	// SpaceVideo is pixel coordinates of the raw captured frame.
	SpaceVideo
	// SpaceCanvas is logical whiteboard coordinates, independent of pan/zoom.
	SpaceCanvas
)

func (s Space) String() string {
	switch s {
	case SpaceScreen:
		return "screen"
	case SpaceVideo:
		return "video"
	case SpaceCanvas:
		return "canvas"
	default:
		return "unknown"
	}
}

// Point is a position in some coordinate space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Viewport is the canvas pan offset and scale. Zoom must be > 0; the canvas
// UI owns it and this core only reads it.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Rect is an axis-aligned rectangle tagged with its coordinate space.
// Width and height are non-negative after Normalize.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Space  Space   `json:"space"`
}

// Origin returns the top-left corner.
func (r Rect) Origin() Point { return Point{X: r.X, Y: r.Y} }

// Size returns the rect's dimensions.
func (r Rect) Size() Size { return Size{Width: r.Width, Height: r.Height} }

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Contains reports whether p lies inside the rect (edges inclusive).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.Right() && p.Y >= r.Y && p.Y <= r.Bottom()
}

// Normalize folds negative spans so width/height are non-negative,
// moving the origin accordingly.
func (r Rect) Normalize() Rect {
	if r.Width < 0 {
		r.X += r.Width
		r.Width = -r.Width
	}
	if r.Height < 0 {
		r.Y += r.Height
		r.Height = -r.Height
	}
	return r
}

// ClampInto constrains the rect to lie fully inside bounds, shrinking it
// if it is larger than the bounds in either dimension.
func ClampInto(r Rect, bounds Size) Rect {
	r = r.Normalize()
	if r.Width > bounds.Width {
		r.Width = bounds.Width
	}
	if r.Height > bounds.Height {
		r.Height = bounds.Height
	}
	r.X = clamp(r.X, 0, bounds.Width-r.Width)
	r.Y = clamp(r.Y, 0, bounds.Height-r.Height)
	return r
}

// ToImageRect converts to an image.Rectangle, truncating to integers.
func (r Rect) ToImageRect() image.Rectangle {
	n := r.Normalize()
	return image.Rect(int(n.X), int(n.Y), int(n.X+n.Width), int(n.Y+n.Height))
}

// FromImageRect converts an image.Rectangle into a Rect in the given space.
func FromImageRect(ir image.Rectangle, space Space) Rect {
	ir = ir.Canon()
	return Rect{
		X:      float64(ir.Min.X),
		Y:      float64(ir.Min.Y),
		Width:  float64(ir.Dx()),
		Height: float64(ir.Dy()),
		Space:  space,
	}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
