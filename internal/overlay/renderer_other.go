//go:build !windows

package overlay

// NewPlatformRenderer returns nil on platforms without a native selection
// surface; the runner then drives the protocol headless.
func NewPlatformRenderer() Renderer { return nil }
