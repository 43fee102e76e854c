package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/meshflow/capture/internal/bus"
	"github.com/meshflow/capture/internal/capture"
	"github.com/meshflow/capture/internal/config"
	"github.com/meshflow/capture/internal/detector"
	"github.com/meshflow/capture/internal/geometry"
	"github.com/meshflow/capture/internal/stream"
)

type testTrack struct {
	frame *image.RGBA
	done  chan struct{}
}

func newTestTrack() *testTrack {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	return &testTrack{frame: img, done: make(chan struct{})}
}

func (t *testTrack) Frame() (*image.RGBA, error) { return t.frame, nil }
func (t *testTrack) Stop()                       {}
func (t *testTrack) Done() <-chan struct{}       { return t.done }

type testSource struct{}

func (s *testSource) Request(_ context.Context, _ stream.Options) (*stream.Stream, error) {
	return stream.NewStream(geometry.Size{Width: 640, Height: 480}, newTestTrack()), nil
}

type testEnv struct {
	ts  *httptest.Server
	bus *bus.Bus
	mgr *capture.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)

	mgr := capture.NewManager(&testSource{}, capture.NewBusSink(b), nil, nil, b)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mgr.Start(ctx)
	t.Cleanup(mgr.Stop)

	cfg := &config.Config{
		HTTPAddr:       ":0",
		PreviewWidth:   320,
		AllowedOrigins: []string{"*"},
	}
	ts := httptest.NewServer(New(mgr, b, cfg).Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, bus: b, mgr: mgr}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) dialWS(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// Wait for the server to register the connection before publishing.
	time.Sleep(50 * time.Millisecond)
	return conn
}

func decodeSnapshot(t *testing.T, resp *http.Response) capture.Snapshot {
	t.Helper()
	defer resp.Body.Close()
	var snap capture.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}

	// Test regular request
	req = httptest.NewRequest("GET", "/test", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := &rateLimiter{}
	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("message %d rejected inside the window budget", i)
		}
	}
	if rl.allow() {
		t.Error("message above the window budget allowed")
	}
}

func TestMessageTypes(t *testing.T) {
	tests := []struct {
		name    string
		msg     interface{}
		typeVal string
	}{
		{
			"region",
			RegionMessage{Type: "region", Region: geometry.Rect{X: 1, Y: 2, Width: 300, Height: 200}},
			"region",
		},
		{
			"frame",
			FrameMessage{Type: "frame", Thumbnail: "aGk=", Width: 640, Height: 480},
			"frame",
		},
		{
			"ended",
			EndedMessage{Type: "ended", Reason: "cancelled"},
			"ended",
		},
		{
			"error",
			ErrorMessage{Type: "error", Message: "boom"},
			"error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("json.Marshal error: %v", err)
			}

			var base Message
			if err := json.Unmarshal(data, &base); err != nil {
				t.Fatalf("json.Unmarshal error: %v", err)
			}

			if base.Type != tt.typeVal {
				t.Errorf("type = %q, want %q", base.Type, tt.typeVal)
			}
		})
	}
}

func TestPointerMessageParsing(t *testing.T) {
	input := `{"type": "pointer", "phase": "down", "x": 120.5, "y": 44}`

	var ptr PointerMessage
	if err := json.Unmarshal([]byte(input), &ptr); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}

	if ptr.Phase != "down" {
		t.Errorf("phase = %q, want down", ptr.Phase)
	}
	if ptr.X != 120.5 || ptr.Y != 44 {
		t.Errorf("point = (%v, %v)", ptr.X, ptr.Y)
	}
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	// Still capture.
	snap := decodeSnapshot(t, env.post(t, "/api/session/still", ""))
	if !snap.Active || snap.Kind != "still" {
		t.Fatalf("still snapshot = %+v", snap)
	}

	// Current session is visible.
	resp, err := http.Get(env.ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	if got := decodeSnapshot(t, resp); !got.Active {
		t.Error("session endpoint reports inactive")
	}

	// Promote to live monitoring without restarting the stream.
	snap = decodeSnapshot(t, env.post(t, "/api/session/promote",
		`{"region":{"x":100,"y":100,"width":300,"height":200,"space":1}}`))
	if snap.Kind != "live" {
		t.Errorf("promoted kind = %q, want live", snap.Kind)
	}

	// Recrop in place.
	snap = decodeSnapshot(t, env.post(t, "/api/session/recrop",
		`{"region":{"x":0,"y":0,"width":200,"height":120,"space":1}}`))
	if snap.Region == nil || snap.Region.Width != 200 {
		t.Errorf("recropped region = %+v", snap.Region)
	}

	// Stop.
	env.post(t, "/api/session/stop", "").Body.Close()
	resp, err = http.Get(env.ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	if got := decodeSnapshot(t, resp); got.Active {
		t.Error("session still active after stop")
	}
}

func TestStartLiveRejectsBadPayload(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/session/live", "{not json")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPromoteWithoutSessionFails(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/session/promote",
		`{"region":{"x":0,"y":0,"width":100,"height":100,"space":1}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.post(t, "/api/session/still", "").Body.Close()

	resp, err := http.Get(env.ts.URL + "/api/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer resp.Body.Close()

	var items []historyItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("history length = %d, want 1", len(items))
	}
	if items[0].Width != 640 || items[0].Height != 480 {
		t.Errorf("history item size = %dx%d", items[0].Width, items[0].Height)
	}
}

func TestOverlaySelectFallsBackWithoutHelper(t *testing.T) {
	env := newTestEnv(t)
	env.post(t, "/api/session/still", "").Body.Close()

	resp := env.post(t, "/api/overlay/select", "")
	defer resp.Body.Close()
	var out map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["used_overlay"] {
		t.Error("overlay reported used with no helper configured")
	}
}

func TestWebSocketPointerDrawCommitsRegion(t *testing.T) {
	env := newTestEnv(t)
	env.post(t, "/api/session/still", "").Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn := env.dialWS(t, ctx)

	// Commands may carry a client trace_id; it must not disturb parsing.
	for _, raw := range []string{
		`{"type":"pointer","trace_id":"cafe01","phase":"down","x":50,"y":60}`,
		`{"type":"pointer","trace_id":"cafe01","phase":"move","x":400,"y":300}`,
		`{"type":"pointer","trace_id":"cafe01","phase":"up","x":400,"y":300}`,
	} {
		if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	want := geometry.Rect{X: 50, Y: 60, Width: 350, Height: 240, Space: geometry.SpaceVideo}
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := env.mgr.Snapshot()
		if snap.Region != nil && *snap.Region == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("region = %+v, want %+v", snap.Region, &want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn := env.dialWS(t, ctx)

	env.bus.Publish(bus.EventStreamEnded, "cancelled")

	var msg EndedMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "ended" || msg.Reason != "cancelled" {
		t.Errorf("message = %+v", msg)
	}
}

func TestFrameBroadcastCarriesThumbnail(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn := env.dialWS(t, ctx)

	entry := detector.Entry{Image: newTestTrack().frame, Timestamp: time.Now()}
	env.bus.Publish(bus.EventFrameReady, entry)

	var msg FrameMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Width != 640 || msg.Height != 480 {
		t.Errorf("full size = %dx%d, want 640x480", msg.Width, msg.Height)
	}

	raw, err := base64.StdEncoding.DecodeString(msg.Thumbnail)
	if err != nil {
		t.Fatalf("thumbnail base64: %v", err)
	}
	thumb, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("thumbnail png: %v", err)
	}
	if thumb.Bounds().Dx() != 320 {
		t.Errorf("thumbnail width = %d, want preview width 320", thumb.Bounds().Dx())
	}
}
