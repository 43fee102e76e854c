// Package capture owns capture sessions: it wires the stream lifecycle,
// region selector, change detector, overlay helper, and persistence client
// into one pipeline behind a small operation surface.
package capture

// Session defaults
const (
	// Initial overlay rect hint when the caller does not supply one.
	DefaultOverlayHintWidth  = 640.0
	DefaultOverlayHintHeight = 480.0
)
