package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/meshflow/capture/internal/errors"
)

// EndReason tells the sink why the stream went away.
type EndReason string

const (
	ReasonCancelled EndReason = "cancelled"
	ReasonExternal  EndReason = "source-ended"
	ReasonReleased  EndReason = "released"
)

// Lifecycle drives a single stream through Idle → Requesting → Active →
// Ended, with Requesting → Error on acquisition failure. Exactly one
// lifecycle owns a given stream at a time.
type Lifecycle struct {
	source Source

	mu      sync.Mutex
	state   State
	stream  *Stream
	stopped bool // tracks stopped; guards the exactly-once stop
	detach  chan struct{}
	onEnded []func(EndReason)
}

// NewLifecycle creates an Idle lifecycle over the given source.
func NewLifecycle(source Source) *Lifecycle {
	return &Lifecycle{source: source, state: StateIdle}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// OnEnded registers a callback fired exactly once when the stream ends,
// whatever the path: End, Release, or external revocation.
func (l *Lifecycle) OnEnded(fn func(EndReason)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEnded = append(l.onEnded, fn)
}

// Request acquires the stream. Failure is terminal: the lifecycle lands in
// StateError carrying a typed cause.
func (l *Lifecycle) Request(ctx context.Context, opts Options) (*Stream, error) {
	l.mu.Lock()
	if l.state != StateIdle {
		l.mu.Unlock()
		return nil, errors.Newf(errors.CodeInternal, "request from state %s", l.state)
	}
	l.state = StateRequesting
	l.mu.Unlock()

	s, err := l.source.Request(ctx, opts)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = StateError
		return nil, err
	}
	if l.state != StateRequesting {
		// Ended while the request was in flight; the caller lost the race.
		for _, t := range s.Tracks() {
			t.Stop()
		}
		return nil, errors.New(errors.CodeCancelled, "stream ended during acquisition")
	}
	l.state = StateActive
	l.stream = s
	l.detach = make(chan struct{})
	go l.watch(s, l.detach)
	return s, nil
}

// Adopt transfers an already-Active stream into this Idle lifecycle. Used
// when a stream acquired for a one-shot still capture is promoted to a live
// monitoring session; the previous owner must have Released it.
func (l *Lifecycle) Adopt(s *Stream) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateIdle {
		return errors.Newf(errors.CodeInternal, "adopt from state %s", l.state)
	}
	l.state = StateActive
	l.stream = s
	l.detach = make(chan struct{})
	go l.watch(s, l.detach)
	return nil
}

// Release hands the stream to a new owner without stopping its tracks.
// This lifecycle ends; its ended callbacks fire with ReasonReleased.
func (l *Lifecycle) Release() (*Stream, error) {
	l.mu.Lock()
	if l.state != StateActive {
		l.mu.Unlock()
		return nil, errors.Newf(errors.CodeInternal, "release from state %s", l.state)
	}
	s := l.stream
	l.stream = nil
	l.state = StateEnded
	l.stopped = true // ownership moved; this lifecycle must never stop the tracks
	close(l.detach)
	callbacks := l.takeCallbacks()
	l.mu.Unlock()

	for _, fn := range callbacks {
		fn(ReasonReleased)
	}
	return s, nil
}

// End stops every track exactly once and lands in StateEnded. Idempotent:
// safe to call repeatedly, concurrently, and from a track's own ended
// notification.
func (l *Lifecycle) End() {
	l.endWith(ReasonCancelled)
}

func (l *Lifecycle) endWith(reason EndReason) {
	l.mu.Lock()
	if l.state == StateEnded {
		l.mu.Unlock()
		return
	}
	s := l.stream
	l.stream = nil
	alreadyStopped := l.stopped
	l.stopped = true
	l.state = StateEnded
	if l.detach != nil {
		close(l.detach)
		l.detach = nil
	}
	callbacks := l.takeCallbacks()
	l.mu.Unlock()

	if s != nil && !alreadyStopped {
		for _, t := range s.Tracks() {
			t.Stop()
		}
	}
	slog.Debug("stream ended", "reason", string(reason))
	for _, fn := range callbacks {
		fn(reason)
	}
}

func (l *Lifecycle) takeCallbacks() []func(EndReason) {
	cbs := l.onEnded
	l.onEnded = nil
	return cbs
}

// watch waits for any track to report external termination.
func (l *Lifecycle) watch(s *Stream, detach chan struct{}) {
	for _, t := range s.Tracks() {
		go func(t Track) {
			select {
			case <-t.Done():
				l.endWith(ReasonExternal)
			case <-detach:
			}
		}(t)
	}
}
