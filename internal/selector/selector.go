package selector

import (
	"github.com/meshflow/capture/internal/geometry"
)

// Handle identifies one of the eight resize grips.
type Handle int

const (
	HandleNone Handle = iota
	HandleTopLeft
	HandleTop
	HandleTopRight
	HandleRight
	HandleBottomRight
	HandleBottom
	HandleBottomLeft
	HandleLeft
)

// Mode is the selector's current interaction state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeDrawing
	ModeDragging
	ModeResizing
)

// Selector edits a capture rectangle over a live preview frame. All input
// and output geometry is native-video space; callers run pointer input
// through the coordinate mapper first, so the selector itself carries no
// zoom or device-pixel-ratio knowledge.
type Selector struct {
	native       geometry.Size
	minDrawSpan  geometry.Size
	handleRadius float64

	region    *geometry.Rect
	mode      Mode
	handle    Handle
	dragGrip  geometry.Point // pointer offset from region origin while dragging
	drawStart geometry.Point
	draft     geometry.Rect
}

// New creates a selector over a stream's native bounds. minDrawSpan is the
// commit threshold for new draws, already converted into video space.
func New(native geometry.Size, minDrawSpan geometry.Size) *Selector {
	return &Selector{
		native:       native,
		minDrawSpan:  minDrawSpan,
		handleRadius: DefaultHandleRadius,
	}
}

// Region returns the committed region, if any.
func (s *Selector) Region() (geometry.Rect, bool) {
	if s.region == nil {
		return geometry.Rect{}, false
	}
	return *s.region, true
}

// Draft returns the in-progress rect while an interaction is live, for
// preview rendering.
func (s *Selector) Draft() (geometry.Rect, bool) {
	if s.mode == ModeIdle {
		return geometry.Rect{}, false
	}
	return s.draft, true
}

// Mode returns the current interaction mode.
func (s *Selector) Mode() Mode { return s.mode }

// SetRegion installs a region directly (recrop, overlay result), enforcing
// the size and bounds invariants.
func (s *Selector) SetRegion(r geometry.Rect) geometry.Rect {
	clamped := s.conform(r)
	s.region = &clamped
	s.mode = ModeIdle
	return clamped
}

// Clear drops the committed region and any live interaction.
func (s *Selector) Clear() {
	s.region = nil
	s.mode = ModeIdle
}

// PointerDown starts an interaction. Precedence: resize handle, then drag
// inside the region, then a fresh draw that discards the old region.
func (s *Selector) PointerDown(p geometry.Point) {
	if s.region != nil {
		if h := s.hitHandle(p); h != HandleNone {
			s.mode = ModeResizing
			s.handle = h
			s.draft = *s.region
			return
		}
		if s.region.Contains(p) {
			s.mode = ModeDragging
			s.dragGrip = geometry.Point{X: p.X - s.region.X, Y: p.Y - s.region.Y}
			s.draft = *s.region
			return
		}
	}
	s.region = nil
	s.mode = ModeDrawing
	s.drawStart = p
	s.draft = geometry.Rect{X: p.X, Y: p.Y, Space: geometry.SpaceVideo}
}

// PointerMove updates the live interaction.
func (s *Selector) PointerMove(p geometry.Point) {
	switch s.mode {
	case ModeDrawing:
		s.draft = geometry.Rect{
			X:      s.drawStart.X,
			Y:      s.drawStart.Y,
			Width:  p.X - s.drawStart.X,
			Height: p.Y - s.drawStart.Y,
			Space:  geometry.SpaceVideo,
		}
	case ModeDragging:
		moved := s.draft
		moved.X = p.X - s.dragGrip.X
		moved.Y = p.Y - s.dragGrip.Y
		s.draft = geometry.ClampInto(moved, s.native)
	case ModeResizing:
		s.draft = s.conform(s.resize(*s.region, s.handle, p))
	}
}

// PointerUp finishes the interaction. It reports whether a region is
// committed afterwards: sub-threshold draws discard and leave none.
func (s *Selector) PointerUp(p geometry.Point) bool {
	s.PointerMove(p)
	mode := s.mode
	s.mode = ModeIdle

	switch mode {
	case ModeDrawing:
		d := s.draft.Normalize()
		if d.Width <= s.minDrawSpan.Width || d.Height <= s.minDrawSpan.Height {
			s.region = nil
			return false
		}
		committed := s.conform(d)
		s.region = &committed
		return true
	case ModeDragging, ModeResizing:
		committed := s.conform(s.draft)
		s.region = &committed
		return true
	default:
		return s.region != nil
	}
}

// resize moves the edges owned by the given handle to track the pointer.
// Corner handles move two edges from the opposite corner; edge handles move
// one.
func (s *Selector) resize(r geometry.Rect, h Handle, p geometry.Point) geometry.Rect {
	left, top := r.X, r.Y
	right, bottom := r.Right(), r.Bottom()

	switch h {
	case HandleTopLeft:
		left, top = p.X, p.Y
	case HandleTop:
		top = p.Y
	case HandleTopRight:
		right, top = p.X, p.Y
	case HandleRight:
		right = p.X
	case HandleBottomRight:
		right, bottom = p.X, p.Y
	case HandleBottom:
		bottom = p.Y
	case HandleBottomLeft:
		left, bottom = p.X, p.Y
	case HandleLeft:
		left = p.X
	}

	// Hold the opposite edge fixed when the pointer pushes past the minimum.
	switch h {
	case HandleTopLeft, HandleLeft, HandleBottomLeft:
		if left > right-MinRegionSize {
			left = right - MinRegionSize
		}
	case HandleTopRight, HandleRight, HandleBottomRight:
		if right < left+MinRegionSize {
			right = left + MinRegionSize
		}
	}
	switch h {
	case HandleTopLeft, HandleTop, HandleTopRight:
		if top > bottom-MinRegionSize {
			top = bottom - MinRegionSize
		}
	case HandleBottomLeft, HandleBottom, HandleBottomRight:
		if bottom < top+MinRegionSize {
			bottom = top + MinRegionSize
		}
	}

	return geometry.Rect{X: left, Y: top, Width: right - left, Height: bottom - top, Space: geometry.SpaceVideo}
}

// conform enforces the region invariants: at least MinRegionSize on each
// edge and fully inside the native bounds.
func (s *Selector) conform(r geometry.Rect) geometry.Rect {
	r = r.Normalize()
	if r.Width < MinRegionSize {
		r.Width = MinRegionSize
	}
	if r.Height < MinRegionSize {
		r.Height = MinRegionSize
	}
	r.Space = geometry.SpaceVideo
	return geometry.ClampInto(r, s.native)
}

// hitHandle returns the handle under the pointer, or HandleNone.
func (s *Selector) hitHandle(p geometry.Point) Handle {
	r := *s.region
	cx, cy := r.X+r.Width/2, r.Y+r.Height/2
	candidates := []struct {
		h Handle
		p geometry.Point
	}{
		{HandleTopLeft, geometry.Point{X: r.X, Y: r.Y}},
		{HandleTop, geometry.Point{X: cx, Y: r.Y}},
		{HandleTopRight, geometry.Point{X: r.Right(), Y: r.Y}},
		{HandleRight, geometry.Point{X: r.Right(), Y: cy}},
		{HandleBottomRight, geometry.Point{X: r.Right(), Y: r.Bottom()}},
		{HandleBottom, geometry.Point{X: cx, Y: r.Bottom()}},
		{HandleBottomLeft, geometry.Point{X: r.X, Y: r.Bottom()}},
		{HandleLeft, geometry.Point{X: r.X, Y: cy}},
	}
	for _, c := range candidates {
		dx, dy := p.X-c.p.X, p.Y-c.p.Y
		if dx*dx+dy*dy <= s.handleRadius*s.handleRadius {
			return c.h
		}
	}
	return HandleNone
}
