package capture

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/meshflow/capture/internal/bus"
	"github.com/meshflow/capture/internal/detector"
	"github.com/meshflow/capture/internal/errors"
	"github.com/meshflow/capture/internal/geometry"
	"github.com/meshflow/capture/internal/overlay"
	"github.com/meshflow/capture/internal/persist"
	"github.com/meshflow/capture/internal/selector"
	"github.com/meshflow/capture/internal/stream"
	"github.com/meshflow/capture/internal/syncx"
	"github.com/meshflow/capture/internal/trace"
)

// Persister stores capture records. Calls are fire-and-forget: failures
// are logged and surfaced as session-error events, never retried here.
type Persister interface {
	Create(ctx context.Context, rec persist.Record) (string, error)
	Update(ctx context.Context, id string, patch persist.Patch) error
}

// OverlaySession is a live overlay helper interaction.
type OverlaySession interface {
	Close()
	Done() <-chan struct{}
}

// OverlayOpener abstracts the overlay helper client.
type OverlayOpener interface {
	Available() bool
	Open(ctx context.Context, hint geometry.Size, cb overlay.Callbacks) (OverlaySession, error)
}

type overlayOpener struct {
	c *overlay.Client
}

// NewOverlayOpener adapts an overlay.Client to the OverlayOpener interface.
func NewOverlayOpener(c *overlay.Client) OverlayOpener {
	return overlayOpener{c: c}
}

func (o overlayOpener) Available() bool { return o.c.Available() }

func (o overlayOpener) Open(ctx context.Context, hint geometry.Size, cb overlay.Callbacks) (OverlaySession, error) {
	return o.c.Open(ctx, hint, cb)
}

// Session is one capture session: a stream, its region, and the work
// hanging off them. Every async callback carries the session token and is
// a no-op once the token goes stale.
type Session struct {
	token     uint64
	lifecycle *stream.Lifecycle
	stream    *stream.Stream
	content   Content
	selector  *selector.Selector
	detector  *detector.Detector
	history   *History
	overlay   OverlaySession
	recordID  string
	sessionID string
	startedAt time.Time

	// displayed is the screen-space rect the video occupies in the UI;
	// pointer input maps through it into video space.
	displayed geometry.Rect
}

// Snapshot is a read-only view of the current session for the API surface.
type Snapshot struct {
	Active    bool           `json:"active"`
	ID        string         `json:"id,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	State     string         `json:"state,omitempty"`
	Region    *geometry.Rect `json:"region,omitempty"`
	StartedAt time.Time      `json:"started_at,omitzero"`
	RecordID  string         `json:"record_id,omitempty"`
	Entries   int            `json:"entries"`
	Overlay   bool           `json:"overlay_active"`
}

// Manager owns at most one capture session at a time and exposes the
// operations the transport surface calls.
type Manager struct {
	source  stream.Source
	sink    Sink
	persist Persister
	overlay OverlayOpener
	bus     *bus.Bus
	gen     syncx.Generation

	ctx context.Context

	newDetector func(frames detector.FrameSource, region geometry.Rect, emit func(detector.Entry)) *detector.Detector

	mu      sync.Mutex
	session *Session
}

// NewManager wires the pipeline. persister and opener may be nil in tests.
func NewManager(source stream.Source, sink Sink, persister Persister, opener OverlayOpener, b *bus.Bus) *Manager {
	return &Manager{
		source:      source,
		sink:        sink,
		persist:     persister,
		overlay:     opener,
		bus:         b,
		ctx:         context.Background(),
		newDetector: detector.New,
	}
}

// Start binds the manager's background work to ctx. Sessions started
// afterwards stop sampling when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
}

func (m *Manager) baseCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// StartStill acquires a stream, grabs a single frame, and keeps the
// stream active so the session can later be promoted to live monitoring.
func (m *Manager) StartStill(ctx context.Context, opts stream.Options) (Snapshot, error) {
	ctx, span := trace.StartSpan(ctx, "start_still")
	defer span.End()

	sess, err := m.begin(ctx, opts)
	if err != nil {
		return Snapshot{}, err
	}

	frame, err := sess.stream.Frame()
	if err != nil {
		m.teardown(sess.token, stream.ReasonCancelled)
		return Snapshot{}, errors.Wrap(err, errors.CodeNoSource, "initial frame grab failed")
	}

	native := sess.stream.Native()
	region := geometry.Rect{Width: native.Width, Height: native.Height, Space: geometry.SpaceVideo}
	entry := detector.Entry{Image: frame, Timestamp: time.Now()}

	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return Snapshot{}, errors.New(errors.CodeCancelled, "session ended during still capture")
	}
	// The selector starts empty: a still session has no crop until the user
	// draws one.
	sess.content = StillImage{Image: frame, Region: region, CapturedAt: entry.Timestamp}
	sess.history.Append(entry)
	m.mu.Unlock()

	m.sink.FrameCaptured(entry)
	m.createRecord(sess, region)
	return m.Snapshot(), nil
}

// StartLive acquires a stream and begins monitoring region for changes.
func (m *Manager) StartLive(ctx context.Context, opts stream.Options, region geometry.Rect) (Snapshot, error) {
	ctx, span := trace.StartSpan(ctx, "start_live")
	defer span.End()

	sess, err := m.begin(ctx, opts)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return Snapshot{}, errors.New(errors.CodeCancelled, "session ended during acquisition")
	}
	region = sess.selector.SetRegion(region)
	m.attachDetectorLocked(sess, region)
	m.mu.Unlock()

	m.sink.RegionChosen(region)
	m.createRecord(sess, region)
	return m.Snapshot(), nil
}

// PromoteToLive transfers the still session's stream to live monitoring
// without re-acquiring it. Ownership moves; the tracks are never stopped.
func (m *Manager) PromoteToLive(ctx context.Context, region geometry.Rect) (Snapshot, error) {
	_, span := trace.StartSpan(ctx, "promote_to_live")
	defer span.End()

	m.mu.Lock()
	sess := m.session
	if sess == nil {
		m.mu.Unlock()
		return Snapshot{}, errors.New(errors.CodeInvalidArgument, "no active session")
	}
	if _, ok := sess.content.(StillImage); !ok {
		m.mu.Unlock()
		return Snapshot{}, errors.New(errors.CodeInvalidArgument, "only a still session can be promoted")
	}

	s, err := sess.lifecycle.Release()
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}

	next := stream.NewLifecycle(m.source)
	if err := next.Adopt(s); err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}

	sess.token = m.gen.Next()
	sess.lifecycle = next
	sess.stream = s
	region = sess.selector.SetRegion(region)
	sess.content = LiveRegion{Region: region}
	m.watchEnd(next, sess.token)
	m.attachDetectorLocked(sess, region)
	m.mu.Unlock()

	m.sink.RegionChosen(region)
	kind := persist.KindLive
	m.updateRecord(sess, persist.Patch{Kind: &kind, Region: &region})
	return m.Snapshot(), nil
}

// Recrop redefines the capture region without restarting the stream.
func (m *Manager) Recrop(ctx context.Context, region geometry.Rect) (Snapshot, error) {
	_, span := trace.StartSpan(ctx, "recrop")
	defer span.End()

	m.mu.Lock()
	sess := m.session
	if sess == nil {
		m.mu.Unlock()
		return Snapshot{}, errors.New(errors.CodeInvalidArgument, "no active session")
	}
	region = sess.selector.SetRegion(region)
	m.applyRegionLocked(sess, region)
	m.mu.Unlock()

	m.sink.RegionChosen(region)
	m.updateRecord(sess, persist.Patch{Region: &region})
	return m.Snapshot(), nil
}

// SelectWithOverlay runs a system-wide selection through the overlay
// helper. A missing helper is not an error: the method reports
// usedOverlay=false and the in-process selector stays in charge.
func (m *Manager) SelectWithOverlay(ctx context.Context, hint geometry.Size) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "select_with_overlay")
	defer span.End()
	log := trace.Logger(ctx)

	if m.overlay == nil || !m.overlay.Available() {
		log.Debug("overlay helper unavailable, staying in-process")
		return false, nil
	}

	m.mu.Lock()
	sess := m.session
	if sess == nil {
		m.mu.Unlock()
		return false, errors.New(errors.CodeInvalidArgument, "no active session")
	}
	if sess.overlay != nil {
		m.mu.Unlock()
		return false, errors.New(errors.CodeInvalidArgument, "overlay selection already open")
	}
	token := sess.token
	m.mu.Unlock()

	if hint.Width <= 0 || hint.Height <= 0 {
		hint = geometry.Size{Width: DefaultOverlayHintWidth, Height: DefaultOverlayHintHeight}
	}

	osess, err := m.overlay.Open(ctx, hint, overlay.Callbacks{
		OnConfirm: func(rect geometry.Rect) { m.overlayConfirmed(token, rect) },
		OnCancel:  func() { m.overlayCancelled(token) },
	})
	if err != nil {
		if errors.IsCode(err, errors.CodeOverlayUnavailable) {
			log.Debug("overlay helper failed to open, staying in-process", "error", err)
			return false, nil
		}
		return false, err
	}

	m.mu.Lock()
	if m.session != sess || sess.token != token {
		m.mu.Unlock()
		osess.Close()
		return false, errors.New(errors.CodeCancelled, "session ended during overlay open")
	}
	// The overlay owns the interaction now; in-process pointer input is
	// suspended until it resolves.
	sess.overlay = osess
	m.mu.Unlock()
	return true, nil
}

func (m *Manager) overlayConfirmed(token uint64, screenRect geometry.Rect) {
	m.mu.Lock()
	sess := m.session
	if sess == nil || sess.token != token {
		m.mu.Unlock()
		return
	}
	sess.overlay = nil
	region := geometry.RectScreenToVideo(screenRect, sess.displayed, sess.stream.Native())
	region = sess.selector.SetRegion(region)
	m.applyRegionLocked(sess, region)
	m.mu.Unlock()

	m.bus.Publish(bus.EventOverlayConfirmed, region)
	m.sink.RegionChosen(region)
	m.updateRecord(sess, persist.Patch{Region: &region})
}

func (m *Manager) overlayCancelled(token uint64) {
	m.mu.Lock()
	sess := m.session
	if sess == nil || sess.token != token {
		m.mu.Unlock()
		return
	}
	sess.overlay = nil
	m.mu.Unlock()

	m.bus.Publish(bus.EventOverlayCancelled, nil)
}

// Stop tears the current session down. External stream revocation routes
// through the same path via the lifecycle's ended callback.
func (m *Manager) Stop() {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return
	}
	m.teardown(sess.token, stream.ReasonCancelled)
}

// SetDisplayGeometry updates the screen-space rect the video occupies in
// the UI, rebuilding the pointer mapping and the draw-commit threshold.
func (m *Manager) SetDisplayGeometry(displayed geometry.Rect) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.session
	if sess == nil || displayed.Width <= 0 || displayed.Height <= 0 {
		return
	}
	sess.displayed = displayed

	// The commit threshold is fixed in screen pixels; the selector works in
	// video pixels, so the span is translated at the current scale.
	native := sess.stream.Native()
	span := geometry.Size{
		Width:  selector.DrawCommitSpanScreen * native.Width / displayed.Width,
		Height: selector.DrawCommitSpanScreen * native.Height / displayed.Height,
	}
	prev := sess.selector
	sess.selector = selector.New(native, span)
	if region, ok := prev.Region(); ok {
		sess.selector.SetRegion(region)
	}
}

// PointerDown routes a screen-space pointer press to the in-process
// selector. Ignored while an overlay selection is open.
func (m *Manager) PointerDown(p geometry.Point) {
	m.withSelector(func(sess *Session, pv geometry.Point) {
		sess.selector.PointerDown(pv)
	}, p)
}

// PointerMove routes a screen-space pointer move to the selector.
func (m *Manager) PointerMove(p geometry.Point) {
	m.withSelector(func(sess *Session, pv geometry.Point) {
		sess.selector.PointerMove(pv)
	}, p)
}

// PointerUp routes a release; a committed selection becomes the session
// region.
func (m *Manager) PointerUp(p geometry.Point) {
	var committed bool
	var region geometry.Rect
	var sess *Session

	m.withSelector(func(s *Session, pv geometry.Point) {
		if s.selector.PointerUp(pv) {
			if r, ok := s.selector.Region(); ok {
				committed = true
				region = r
				sess = s
				m.applyRegionLocked(s, r)
			}
		}
	}, p)

	if committed {
		m.sink.RegionChosen(region)
		m.updateRecord(sess, persist.Patch{Region: &region})
	}
}

func (m *Manager) withSelector(fn func(*Session, geometry.Point), p geometry.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.session
	if sess == nil || sess.overlay != nil {
		return
	}
	pv := geometry.ScreenToVideo(p, sess.displayed, sess.stream.Native())
	fn(sess, pv)
}

// Snapshot returns the current session state for the API surface.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.session
	if sess == nil {
		return Snapshot{}
	}
	var kind string
	if sess.content != nil {
		kind = KindOf(sess.content)
	}
	snap := Snapshot{
		Active:    true,
		ID:        sess.sessionID,
		Kind:      kind,
		State:     sess.lifecycle.State().String(),
		StartedAt: sess.startedAt,
		RecordID:  sess.recordID,
		Entries:   sess.history.Len(),
		Overlay:   sess.overlay != nil,
	}
	if region, ok := sess.selector.Region(); ok {
		snap.Region = &region
	}
	return snap
}

// HistoryEntries returns the current session's capture history in order.
func (m *Manager) HistoryEntries() []detector.Entry {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.history.Entries()
}

// begin replaces any running session with a freshly acquired one.
func (m *Manager) begin(ctx context.Context, opts stream.Options) (*Session, error) {
	m.Stop()

	token := m.gen.Next()
	lc := stream.NewLifecycle(m.source)
	s, err := lc.Request(ctx, opts)
	if err != nil {
		return nil, err
	}

	native := s.Native()
	sess := &Session{
		token:     token,
		lifecycle: lc,
		stream:    s,
		selector: selector.New(native, geometry.Size{
			Width:  selector.DrawCommitSpanScreen,
			Height: selector.DrawCommitSpanScreen,
		}),
		history:   NewHistory(),
		sessionID: sessionID(token),
		startedAt: time.Now(),
		displayed: geometry.Rect{Width: native.Width, Height: native.Height, Space: geometry.SpaceScreen},
	}

	m.mu.Lock()
	if !m.gen.Valid(token) {
		m.mu.Unlock()
		lc.End()
		return nil, errors.New(errors.CodeCancelled, "superseded by a newer session")
	}
	m.session = sess
	m.mu.Unlock()

	m.watchEnd(lc, token)
	return sess, nil
}

// watchEnd routes external stream termination through the shared teardown
// path. Release is the promotion handoff, not an ending.
func (m *Manager) watchEnd(lc *stream.Lifecycle, token uint64) {
	lc.OnEnded(func(reason stream.EndReason) {
		if reason == stream.ReasonReleased {
			return
		}
		go m.teardown(token, reason)
	})
}

// attachDetectorLocked starts change monitoring for sess. Caller holds
// m.mu.
func (m *Manager) attachDetectorLocked(sess *Session, region geometry.Rect) {
	token := sess.token
	sess.content = LiveRegion{Region: region}
	sess.detector = m.newDetector(sess.stream, region, func(e detector.Entry) {
		m.frameCaptured(token, e)
	})
	sess.detector.Activate(m.ctx)
}

// applyRegionLocked propagates a committed region to the detector and
// content. Caller holds m.mu.
func (m *Manager) applyRegionLocked(sess *Session, region geometry.Rect) {
	switch c := sess.content.(type) {
	case LiveRegion:
		sess.content = LiveRegion{Region: region}
		if sess.detector != nil {
			sess.detector.SetRegion(region)
		}
	case StillImage:
		c.Region = region
		sess.content = c
	}
}

// frameCaptured is the detector's emit path; stale tokens are discarded.
func (m *Manager) frameCaptured(token uint64, e detector.Entry) {
	m.mu.Lock()
	sess := m.session
	if sess == nil || sess.token != token {
		m.mu.Unlock()
		return
	}
	sess.history.Append(e)
	m.mu.Unlock()

	m.sink.FrameCaptured(e)
}

// teardown ends the session identified by token. Idempotent across user
// stop, session replacement, and external revocation.
func (m *Manager) teardown(token uint64, reason stream.EndReason) {
	m.mu.Lock()
	sess := m.session
	if sess == nil || sess.token != token {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.mu.Unlock()

	if sess.detector != nil {
		sess.detector.Deactivate()
	}
	if sess.overlay != nil {
		sess.overlay.Close()
	}
	sess.lifecycle.End()

	now := time.Now()
	m.updateRecord(sess, persist.Patch{EndedAt: &now})
	m.sink.StreamEnded(reason)
}

// createRecord stores the session's backend record, fire-and-forget.
func (m *Manager) createRecord(sess *Session, region geometry.Rect) {
	if m.persist == nil {
		return
	}
	token := sess.token
	rec := persist.Record{
		SessionID: sess.sessionID,
		Kind:      KindOf(sess.content),
		Region:    region,
		StartedAt: sess.startedAt,
	}
	go func() {
		id, err := m.persist.Create(m.baseCtx(), rec)
		if err != nil {
			m.persistFailed(err)
			return
		}
		m.mu.Lock()
		if m.session == sess && sess.token == token {
			sess.recordID = id
		}
		m.mu.Unlock()
	}()
}

// updateRecord patches the session's backend record, fire-and-forget. A
// record whose create is still in flight is skipped; the teardown patch
// would race a backend id that does not exist yet.
func (m *Manager) updateRecord(sess *Session, patch persist.Patch) {
	if m.persist == nil {
		return
	}
	m.mu.Lock()
	id := sess.recordID
	m.mu.Unlock()
	if id == "" {
		return
	}
	go func() {
		if err := m.persist.Update(m.baseCtx(), id, patch); err != nil {
			m.persistFailed(err)
		}
	}()
}

func (m *Manager) persistFailed(err error) {
	trace.Logger(m.baseCtx()).Warn("persistence call failed", "error", err)
	if m.bus != nil {
		m.bus.Publish(bus.EventSessionError, err.Error())
	}
}

func sessionID(token uint64) string {
	return "sess-" + strconv.FormatUint(token, 10)
}
