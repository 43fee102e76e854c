// Package stream owns acquisition and teardown of screen capture streams.
package stream

import (
	"context"
	"image"

	"github.com/meshflow/capture/internal/geometry"
)

// State is the lifecycle position of a capture stream.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateActive
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Options selects what to capture.
type Options struct {
	DisplayIndex int
}

// Track yields frames from one underlying video source. Done is closed when
// the source disappears out from under us (display unplugged, sharing
// revoked); Stop must be idempotent.
type Track interface {
	Frame() (*image.RGBA, error)
	Stop()
	Done() <-chan struct{}
}

// Source is the OS capture entry point: requestDisplayStream.
type Source interface {
	Request(ctx context.Context, opts Options) (*Stream, error)
}

// Stream wraps one active OS video stream. It has exactly one owner at a
// time; ownership moves with it, it is never duplicated.
type Stream struct {
	tracks []Track
	native geometry.Size
}

// NewStream builds a stream over the given tracks and native frame size.
func NewStream(native geometry.Size, tracks ...Track) *Stream {
	return &Stream{tracks: tracks, native: native}
}

// Native returns the stream's native pixel bounds.
func (s *Stream) Native() geometry.Size { return s.native }

// Tracks returns the underlying tracks.
func (s *Stream) Tracks() []Track { return s.tracks }

// Frame returns the current frame of the primary track.
func (s *Stream) Frame() (*image.RGBA, error) {
	return s.tracks[0].Frame()
}
