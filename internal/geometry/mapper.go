package geometry

// ScreenToCanvas maps a screen-space point into canvas space under the given
// viewport. Callers must subtract the render surface's top-left origin from
// the input first; the viewport alone does not know where the surface sits
// on the display.
func ScreenToCanvas(p Point, v Viewport) Point {
	return Point{
		X: (p.X - v.X) / v.Zoom,
		Y: (p.Y - v.Y) / v.Zoom,
	}
}

// CanvasToScreen is the exact inverse of ScreenToCanvas.
func CanvasToScreen(p Point, v Viewport) Point {
	return Point{
		X: p.X*v.Zoom + v.X,
		Y: p.Y*v.Zoom + v.Y,
	}
}

// ScreenToVideo maps a screen-space point into native-video pixels given the
// rect the video is displayed in and the native frame size. The result is
// clamped to [0, native].
func ScreenToVideo(p Point, displayed Rect, native Size) Point {
	sx := scaleFor(native.Width, displayed.Width)
	sy := scaleFor(native.Height, displayed.Height)
	return Point{
		X: clamp((p.X-displayed.X)*sx, 0, native.Width),
		Y: clamp((p.Y-displayed.Y)*sy, 0, native.Height),
	}
}

// VideoToScreen maps a native-video point back onto the displayed rect.
func VideoToScreen(p Point, displayed Rect, native Size) Point {
	sx := scaleFor(native.Width, displayed.Width)
	sy := scaleFor(native.Height, displayed.Height)
	return Point{
		X: p.X/sx + displayed.X,
		Y: p.Y/sy + displayed.Y,
	}
}

// RectScreenToVideo converts a screen-space rect into native-video space,
// clamped to the native bounds.
func RectScreenToVideo(r Rect, displayed Rect, native Size) Rect {
	r = r.Normalize()
	tl := ScreenToVideo(Point{X: r.X, Y: r.Y}, displayed, native)
	br := ScreenToVideo(Point{X: r.Right(), Y: r.Bottom()}, displayed, native)
	return Rect{
		X:      tl.X,
		Y:      tl.Y,
		Width:  br.X - tl.X,
		Height: br.Y - tl.Y,
		Space:  SpaceVideo,
	}
}

// RectVideoToScreen converts a native-video rect into screen space.
func RectVideoToScreen(r Rect, displayed Rect, native Size) Rect {
	r = r.Normalize()
	tl := VideoToScreen(Point{X: r.X, Y: r.Y}, displayed, native)
	br := VideoToScreen(Point{X: r.Right(), Y: r.Bottom()}, displayed, native)
	return Rect{
		X:      tl.X,
		Y:      tl.Y,
		Width:  br.X - tl.X,
		Height: br.Y - tl.Y,
		Space:  SpaceScreen,
	}
}

// scaleFor returns native/displayed, guarding the degenerate zero-width
// display case so callers never divide by zero.
func scaleFor(native, displayed float64) float64 {
	if displayed == 0 {
		return 1
	}
	return native / displayed
}
