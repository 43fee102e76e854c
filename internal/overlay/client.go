package overlay

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/meshflow/capture/internal/errors"
	"github.com/meshflow/capture/internal/geometry"
	"github.com/meshflow/capture/internal/resilience"
	"github.com/meshflow/capture/internal/trace"
)

// Client spawns and talks to the overlay helper binary.
type Client struct {
	bin     string
	timeout time.Duration
}

// NewClient creates a client for the helper binary at bin. timeout bounds
// the ready handshake after spawn.
func NewClient(bin string, timeout time.Duration) *Client {
	return &Client{bin: bin, timeout: timeout}
}

// Available reports whether the helper binary can be found. Callers use
// this to fall back to in-process selection without surfacing an error.
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.bin)
	return err == nil
}

// Callbacks receive the session outcome. Exactly one of OnConfirm or
// OnCancel fires per session.
type Callbacks struct {
	OnConfirm func(region geometry.Rect)
	OnCancel  func()
}

// Session is a live helper process showing the selection overlay.
type Session struct {
	cmd       *exec.Cmd
	enc       *Encoder
	stdin     io.Closer
	closeOnce sync.Once
	termOnce  sync.Once
	done      chan struct{}
}

// Open spawns the helper and waits for its ready message. The hint is the
// preferred initial selection size in screen pixels. Returns
// CodeOverlayUnavailable when the binary is missing or never becomes
// ready, so callers can fall back silently.
func (c *Client) Open(ctx context.Context, hint geometry.Size, cb Callbacks) (*Session, error) {
	if !c.Available() {
		return nil, errors.Newf(errors.CodeOverlayUnavailable, "overlay helper %q not found", c.bin)
	}

	var sess *Session
	err := resilience.Retry(ctx, resilience.HandshakeRetryConfig(), func() error {
		s, err := c.spawn(ctx, hint, cb)
		if err != nil {
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeOverlayUnavailable, "overlay helper handshake failed")
	}
	return sess, nil
}

func (c *Client) spawn(ctx context.Context, hint geometry.Size, cb Callbacks) (*Session, error) {
	cmd := exec.CommandContext(ctx, c.bin)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "overlay stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "overlay stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, errors.CodeOverlayUnavailable, "start overlay helper")
	}

	sess := &Session{
		cmd:   cmd,
		enc:   NewEncoder(stdin),
		stdin: stdin,
		done:  make(chan struct{}),
	}
	dec := NewDecoder(stdout)

	if err := sess.awaitReady(dec, c.timeout); err != nil {
		sess.kill()
		return nil, err
	}
	if err := sess.enc.Encode(Message{Type: TypeOpen, Width: hint.Width, Height: hint.Height}); err != nil {
		sess.kill()
		return nil, err
	}

	go sess.readLoop(ctx, dec, cb)
	return sess, nil
}

func (s *Session) awaitReady(dec *Decoder, timeout time.Duration) error {
	type result struct {
		msg Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := dec.Next()
		ch <- result{m, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return errors.Wrap(r.err, errors.CodeOverlayUnavailable, "overlay helper handshake")
		}
		if r.msg.Type != TypeReady {
			return errors.Newf(errors.CodeOverlayUnavailable, "unexpected handshake message %q", r.msg.Type)
		}
		return nil
	case <-time.After(timeout):
		return errors.New(errors.CodeOverlayUnavailable, "overlay helper did not become ready")
	}
}

func (s *Session) readLoop(ctx context.Context, dec *Decoder, cb Callbacks) {
	log := trace.Logger(ctx)
	defer close(s.done)
	defer s.kill()
	for {
		msg, err := dec.Next()
		if err != nil {
			// Helper exited without a terminal message: treat as cancel.
			s.terminate(func() {
				if cb.OnCancel != nil {
					cb.OnCancel()
				}
			})
			return
		}
		switch msg.Type {
		case TypeConfirm:
			if msg.Rect == nil {
				log.Warn("overlay confirm without rect")
				continue
			}
			region := *msg.Rect
			s.terminate(func() {
				if cb.OnConfirm != nil {
					cb.OnConfirm(region)
				}
			})
			return
		case TypeCancel:
			s.terminate(func() {
				if cb.OnCancel != nil {
					cb.OnCancel()
				}
			})
			return
		case TypeError:
			log.Warn("overlay helper error", "message", msg.Message)
		default:
			log.Debug("ignoring overlay message", "type", msg.Type)
		}
	}
}

// terminate runs fn at most once across confirm, cancel, and pipe-loss
// paths.
func (s *Session) terminate(fn func()) {
	s.termOnce.Do(fn)
}

// Close dismisses the overlay. The session's OnCancel fires if no outcome
// was delivered yet. Safe to call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.enc.Encode(Message{Type: TypeClose})
		select {
		case <-s.done:
		case <-time.After(time.Second):
			s.kill()
		}
	})
}

// Done is closed when the helper process has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) kill() {
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}
