package stream

import (
	"context"
	"image"
	"sync"

	"github.com/kbinani/screenshot"

	"github.com/meshflow/capture/internal/errors"
	"github.com/meshflow/capture/internal/geometry"
)

// Consecutive grab failures before a display track declares itself gone.
const displayFailureLimit = 3

// DisplaySource acquires streams from physical displays.
type DisplaySource struct{}

// NewDisplaySource creates a display-backed source.
func NewDisplaySource() *DisplaySource { return &DisplaySource{} }

// Request implements Source. Permission is pre-checked where the platform
// allows it; an unknown pre-check proceeds and lets acquisition fail.
func (d *DisplaySource) Request(ctx context.Context, opts Options) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeCancelled, "stream request cancelled")
	}

	switch perm, msg := QueryPermission(); perm {
	case PermissionDenied:
		return nil, errors.New(errors.CodePermissionDenied, msg)
	case PermissionGranted, PermissionUnknown:
	}

	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, errors.New(errors.CodeNoSource, "no active displays available")
	}
	if opts.DisplayIndex < 0 || opts.DisplayIndex >= n {
		return nil, errors.Newf(errors.CodeNoSource, "display %d not available (%d active)", opts.DisplayIndex, n)
	}

	bounds := screenshot.GetDisplayBounds(opts.DisplayIndex)

	// Probe a first grab so denial surfaces here, not on the first tick.
	if _, err := screenshot.CaptureRect(bounds); err != nil {
		return nil, errors.Wrap(err, errors.CodeUnsupported, "display capture unavailable on this platform")
	}

	t := &displayTrack{bounds: bounds, done: make(chan struct{})}
	native := geometry.Size{Width: float64(bounds.Dx()), Height: float64(bounds.Dy())}
	return NewStream(native, t), nil
}

// VirtualBounds returns the union of all display bounds, for overlay
// sessions that span every monitor.
func VirtualBounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, errors.New(errors.CodeNoSource, "no active displays available")
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	return union, nil
}

// displayTrack grabs frames from one display rectangle.
type displayTrack struct {
	bounds image.Rectangle

	mu       sync.Mutex
	failures int
	stopped  bool

	stopOnce sync.Once
	doneOnce sync.Once
	done     chan struct{}
}

func (t *displayTrack) Frame() (*image.RGBA, error) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil, errors.New(errors.CodeStreamEnded, "track stopped")
	}
	t.mu.Unlock()

	img, err := screenshot.CaptureRect(t.bounds)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.failures++
		if t.failures >= displayFailureLimit {
			// The display went away; signal external termination.
			t.doneOnce.Do(func() { close(t.done) })
		}
		return nil, errors.Wrap(err, errors.CodeStreamEnded, "display frame grab failed")
	}
	t.failures = 0
	return img, nil
}

func (t *displayTrack) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
	})
}

func (t *displayTrack) Done() <-chan struct{} { return t.done }
