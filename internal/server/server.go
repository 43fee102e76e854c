// Package server provides HTTP and WebSocket handlers
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/nfnt/resize"

	"github.com/meshflow/capture/internal/bus"
	"github.com/meshflow/capture/internal/capture"
	"github.com/meshflow/capture/internal/config"
	"github.com/meshflow/capture/internal/detector"
	"github.com/meshflow/capture/internal/errors"
	"github.com/meshflow/capture/internal/geometry"
	"github.com/meshflow/capture/internal/stream"
	"github.com/meshflow/capture/internal/trace"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type PointerMessage struct {
	Type  string  `json:"type"`
	Phase string  `json:"phase"` // down | move | up
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type ViewportMessage struct {
	Type      string        `json:"type"`
	Displayed geometry.Rect `json:"displayed"`
}

type RegionMessage struct {
	Type   string        `json:"type"`
	Region geometry.Rect `json:"region"`
}

type FrameMessage struct {
	Type      string    `json:"type"`
	Thumbnail string    `json:"thumbnail"` // base64 PNG preview
	Width     int       `json:"width"`     // full capture size
	Height    int       `json:"height"`
	Timestamp time.Time `json:"timestamp"`
}

type EndedMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	mgr        *capture.Manager
	cfg        *config.Config
	bus        *bus.Bus
	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a new server and starts broadcasting bus events.
func New(mgr *capture.Manager, b *bus.Bus, cfg *config.Config) *Server {
	s := &Server{
		mgr:        mgr,
		cfg:        cfg,
		bus:        b,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	go s.broadcastEvents()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/session/still", s.handleStartStill)
	mux.HandleFunc("POST /api/session/live", s.handleStartLive)
	mux.HandleFunc("POST /api/session/promote", s.handlePromote)
	mux.HandleFunc("POST /api/session/recrop", s.handleRecrop)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("POST /api/overlay/select", s.handleOverlaySelect)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/history", s.handleHistory)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	// Get trace context from HTTP upgrade request
	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		// Clients may stamp commands with their own trace_id; pick it up
		// so command logs correlate with the client's.
		msgCtx := baseCtx
		if tc, ok := trace.ExtractFromJSON(msg); ok {
			msgCtx = trace.WithContext(baseCtx, tc)
		}

		switch base.Type {
		case "pointer":
			var ptr PointerMessage
			if err := json.Unmarshal(msg, &ptr); err != nil {
				continue
			}
			s.handlePointer(ptr)
		case "viewport":
			var vp ViewportMessage
			if err := json.Unmarshal(msg, &vp); err != nil {
				continue
			}
			trace.Logger(msgCtx).Debug("viewport updated",
				"width", vp.Displayed.Width, "height", vp.Displayed.Height)
			s.mgr.SetDisplayGeometry(vp.Displayed)
		default:
			trace.Logger(msgCtx).Debug("ignoring websocket command", "type", base.Type)
		}
	}
}

func (s *Server) handlePointer(msg PointerMessage) {
	p := geometry.Point{X: msg.X, Y: msg.Y}
	switch msg.Phase {
	case "down":
		s.mgr.PointerDown(p)
	case "move":
		s.mgr.PointerMove(p)
	case "up":
		s.mgr.PointerUp(p)
	}
}

// broadcastEvents forwards bus events to every connected client.
func (s *Server) broadcastEvents() {
	sub := s.bus.Subscribe(BroadcastBuffer,
		bus.EventRegionSelected,
		bus.EventFrameReady,
		bus.EventStreamEnded,
		bus.EventOverlayConfirmed,
		bus.EventOverlayCancelled,
		bus.EventSessionError,
	)
	defer sub.Close()

	for evt := range sub.Events() {
		msg := s.messageFor(evt)
		if msg == nil {
			continue
		}

		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn, m any) {
				_ = wsjson.Write(context.Background(), c, m)
			}(conn, msg)
		}
		s.mu.RUnlock()
	}
}

func (s *Server) messageFor(evt bus.Event) any {
	switch evt.Name {
	case bus.EventRegionSelected:
		region, ok := evt.Payload.(geometry.Rect)
		if !ok {
			return nil
		}
		return RegionMessage{Type: "region", Region: region}
	case bus.EventFrameReady:
		entry, ok := evt.Payload.(detector.Entry)
		if !ok {
			return nil
		}
		return s.frameMessage(entry)
	case bus.EventStreamEnded:
		reason, _ := evt.Payload.(string)
		return EndedMessage{Type: "ended", Reason: reason}
	case bus.EventOverlayConfirmed:
		region, ok := evt.Payload.(geometry.Rect)
		if !ok {
			return nil
		}
		return RegionMessage{Type: "overlay_confirmed", Region: region}
	case bus.EventOverlayCancelled:
		return Message{Type: "overlay_cancelled"}
	case bus.EventSessionError:
		text, _ := evt.Payload.(string)
		return ErrorMessage{Type: "error", Message: text}
	default:
		return nil
	}
}

// frameMessage downsizes the captured frame into a preview thumbnail; the
// full image stays server-side with the history.
func (s *Server) frameMessage(entry detector.Entry) any {
	bounds := entry.Image.Bounds()
	width := uint(s.cfg.PreviewWidth)
	thumb := resize.Resize(width, 0, entry.Image, resize.Bilinear)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		slog.Warn("thumbnail encode failed", "error", err)
		return nil
	}

	return FrameMessage{
		Type:      "frame",
		Thumbnail: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Timestamp: entry.Timestamp,
	}
}

type regionRequest struct {
	Region geometry.Rect `json:"region"`
}

type overlayRequest struct {
	Hint geometry.Size `json:"hint"`
}

func (s *Server) handleStartStill(w http.ResponseWriter, r *http.Request) {
	snap, err := s.mgr.StartStill(r.Context(), stream.Options{DisplayIndex: s.cfg.DisplayIndex})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleStartLive(w http.ResponseWriter, r *http.Request) {
	var req regionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(err, errors.CodeInvalidArgument, "invalid region payload"))
		return
	}
	snap, err := s.mgr.StartLive(r.Context(), stream.Options{DisplayIndex: s.cfg.DisplayIndex}, req.Region)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req regionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(err, errors.CodeInvalidArgument, "invalid region payload"))
		return
	}
	snap, err := s.mgr.PromoteToLive(r.Context(), req.Region)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleRecrop(w http.ResponseWriter, r *http.Request) {
	var req regionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(err, errors.CodeInvalidArgument, "invalid region payload"))
		return
	}
	snap, err := s.mgr.Recrop(r.Context(), req.Region)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.mgr.Stop()
	writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleOverlaySelect(w http.ResponseWriter, r *http.Request) {
	var req overlayRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, errors.Wrap(err, errors.CodeInvalidArgument, "invalid hint payload"))
			return
		}
	}
	used, err := s.mgr.SelectWithOverlay(r.Context(), req.Hint)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"used_overlay": used})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.mgr.Snapshot())
}

type historyItem struct {
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.mgr.HistoryEntries()
	if len(entries) > HistoryLimit {
		entries = entries[len(entries)-HistoryLimit:]
	}

	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		item := historyItem{Timestamp: e.Timestamp}
		if e.Image != nil {
			item.Width = e.Image.Bounds().Dx()
			item.Height = e.Image.Bounds().Dy()
		}
		items = append(items, item)
	}
	writeJSON(w, items)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case errors.CodePermissionDenied:
		status = http.StatusForbidden
	case errors.CodeNoSource:
		status = http.StatusNotFound
	case errors.CodeUnsupported:
		status = http.StatusNotImplemented
	case errors.CodeCancelled:
		status = http.StatusConflict
	}

	trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
