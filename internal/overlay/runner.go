package overlay

import (
	"context"
	"image"
	"io"

	"github.com/meshflow/capture/internal/errors"
	"github.com/meshflow/capture/internal/geometry"
	"github.com/meshflow/capture/internal/selector"
	"github.com/meshflow/capture/internal/trace"
)

// InputKind classifies a helper-side input event.
type InputKind int

const (
	InputDown InputKind = iota
	InputMove
	InputUp
	InputConfirm
	InputCancel
)

// InputEvent is a pointer or key event in absolute screen coordinates.
type InputEvent struct {
	Kind InputKind
	X    float64
	Y    float64
}

// InputSource feeds global input events to the runner. The channel closes
// when the source shuts down.
type InputSource interface {
	Events() <-chan InputEvent
	Close()
}

// Renderer draws the overlay surface. Implementations are platform
// specific; a nil renderer runs headless.
type Renderer interface {
	Show(bounds image.Rectangle) error
	Update(region *geometry.Rect, draft *geometry.Rect)
	Hide()
}

func (r *Runner) render(sel *selector.Selector) {
	var region, draft *geometry.Rect
	if rr, ok := sel.Region(); ok {
		region = &rr
	}
	if d, ok := sel.Draft(); ok {
		draft = &d
	}
	r.renderer.Update(region, draft)
}

// Runner is the helper-process side of the protocol: it reads daemon
// commands from in, drives the shared selection model with global input,
// and reports the outcome on out.
type Runner struct {
	in       io.Reader
	out      io.Writer
	input    InputSource
	renderer Renderer
	bounds   func() (image.Rectangle, error)
}

// NewRunner creates a runner over the given pipes. bounds reports the
// virtual desktop rectangle the overlay covers.
func NewRunner(in io.Reader, out io.Writer, input InputSource, renderer Renderer, bounds func() (image.Rectangle, error)) *Runner {
	return &Runner{
		in:       in,
		out:      out,
		input:    input,
		renderer: renderer,
		bounds:   bounds,
	}
}

// Run executes the protocol loop until the daemon closes the pipe or a
// session reaches its outcome.
func (r *Runner) Run(ctx context.Context) error {
	enc := NewEncoder(r.out)
	dec := NewDecoder(r.in)

	if err := enc.Encode(Message{Type: TypeReady}); err != nil {
		return err
	}

	cmds := make(chan Message)
	readErr := make(chan error, 1)
	go func() {
		defer close(cmds)
		for {
			m, err := dec.Next()
			if err != nil {
				if err != io.EOF {
					readErr <- err
				}
				return
			}
			select {
			case cmds <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case m, ok := <-cmds:
			if !ok {
				return nil
			}
			switch m.Type {
			case TypeOpen:
				done, err := r.session(ctx, enc, cmds, geometry.Size{Width: m.Width, Height: m.Height})
				if err != nil {
					_ = enc.Encode(Message{Type: TypeError, Message: err.Error()})
					return err
				}
				if done {
					return nil
				}
			case TypeClose:
				return nil
			default:
				trace.Logger(ctx).Debug("ignoring daemon message", "type", m.Type)
			}
		}
	}
}

// session runs one selection interaction. Returns true when a terminal
// message was sent and the helper should exit.
func (r *Runner) session(ctx context.Context, enc *Encoder, cmds <-chan Message, hint geometry.Size) (bool, error) {
	bounds, err := r.bounds()
	if err != nil {
		return false, errors.Wrap(err, errors.CodeNoSource, "query virtual desktop bounds")
	}
	size := geometry.Size{Width: float64(bounds.Dx()), Height: float64(bounds.Dy())}

	// The overlay covers the desktop at 1:1 scale, so the selection model
	// operates directly in screen pixels relative to the virtual origin.
	sel := selector.New(size, geometry.Size{
		Width:  selector.DrawCommitSpanScreen,
		Height: selector.DrawCommitSpanScreen,
	})
	if hint.Width > 0 && hint.Height > 0 {
		sel.SetRegion(geometry.Rect{
			X:      (size.Width - hint.Width) / 2,
			Y:      (size.Height - hint.Height) / 2,
			Width:  hint.Width,
			Height: hint.Height,
			Space:  geometry.SpaceVideo,
		})
	}

	if r.renderer != nil {
		if err := r.renderer.Show(bounds); err != nil {
			return false, errors.Wrap(err, errors.CodeUnsupported, "show overlay surface")
		}
		defer r.renderer.Hide()
		r.render(sel)
	}

	origin := geometry.Point{X: float64(bounds.Min.X), Y: float64(bounds.Min.Y)}
	events := r.input.Events()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case m, ok := <-cmds:
			if !ok || m.Type == TypeClose {
				return true, enc.Encode(Message{Type: TypeCancel})
			}
			trace.Logger(ctx).Debug("ignoring daemon message during session", "type", m.Type)
		case ev, ok := <-events:
			if !ok {
				return true, enc.Encode(Message{Type: TypeCancel})
			}
			local := geometry.Point{X: ev.X - origin.X, Y: ev.Y - origin.Y}
			switch ev.Kind {
			case InputDown:
				sel.PointerDown(local)
			case InputMove:
				sel.PointerMove(local)
			case InputUp:
				sel.PointerUp(local)
			case InputConfirm:
				region, ok := sel.Region()
				if !ok {
					continue
				}
				confirmed := region
				confirmed.X += origin.X
				confirmed.Y += origin.Y
				confirmed.Space = geometry.SpaceScreen
				return true, enc.Encode(Message{Type: TypeConfirm, Rect: &confirmed})
			case InputCancel:
				return true, enc.Encode(Message{Type: TypeCancel})
			}
			if r.renderer != nil {
				r.render(sel)
			}
		}
	}
}
