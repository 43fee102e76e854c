package overlay

import (
	hook "github.com/robotn/gohook"
)

// Key rawcodes shared across the platforms gohook supports.
const (
	rawEscape = 27
	rawEnter  = 13
)

// HookSource feeds global pointer and key events through gohook. The
// helper runs without a focused window of its own, so a system-wide hook
// is the only way to observe the interaction.
type HookSource struct {
	events chan InputEvent
	stop   chan struct{}
}

// NewHookSource starts the global hook and begins translating events.
func NewHookSource() *HookSource {
	s := &HookSource{
		events: make(chan InputEvent, 64),
		stop:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Events implements InputSource.
func (s *HookSource) Events() <-chan InputEvent { return s.events }

// Close stops the hook and closes the event channel.
func (s *HookSource) Close() {
	close(s.stop)
	hook.End()
}

func (s *HookSource) run() {
	defer close(s.events)
	ch := hook.Start()
	if ch == nil {
		return
	}
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			out, relevant := translate(ev)
			if !relevant {
				continue
			}
			select {
			case s.events <- out:
			case <-s.stop:
				return
			default:
				// Drop move events rather than stall the hook loop.
			}
		}
	}
}

func translate(ev hook.Event) (InputEvent, bool) {
	switch ev.Kind {
	case hook.MouseDown:
		return InputEvent{Kind: InputDown, X: float64(ev.X), Y: float64(ev.Y)}, true
	case hook.MouseDrag, hook.MouseMove:
		return InputEvent{Kind: InputMove, X: float64(ev.X), Y: float64(ev.Y)}, true
	case hook.MouseUp:
		return InputEvent{Kind: InputUp, X: float64(ev.X), Y: float64(ev.Y)}, true
	case hook.KeyDown:
		switch ev.Rawcode {
		case rawEscape:
			return InputEvent{Kind: InputCancel}, true
		case rawEnter:
			return InputEvent{Kind: InputConfirm}, true
		}
	}
	return InputEvent{}, false
}
