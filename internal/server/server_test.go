package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/babelcloud/hopemirror/config"
	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/session"
	"github.com/babelcloud/hopemirror/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBridge struct {
	mu    sync.Mutex
	calls []string
}

func (b *recordingBridge) record(s string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, s)
	return nil
}

func (b *recordingBridge) DisplaySize(context.Context, core.DeviceHandle) (int, int, error) {
	return 4, 8, nil
}

func (b *recordingBridge) Tap(_ core.DeviceHandle, x, y int) error {
	return b.record(fmt.Sprintf("tap %d %d", x, y))
}

func (b *recordingBridge) Swipe(_ core.DeviceHandle, x1, y1, x2, y2, _ int) error {
	return b.record(fmt.Sprintf("swipe %d %d %d %d", x1, y1, x2, y2))
}

func (b *recordingBridge) KeyEvent(_ core.DeviceHandle, code int) error {
	return b.record(fmt.Sprintf("key %d", code))
}

func (b *recordingBridge) Text(_ core.DeviceHandle, text string) error {
	return b.record("text " + text)
}

func (b *recordingBridge) has(call string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.calls {
		if c == call {
			return true
		}
	}
	return false
}

type stillCapture struct{ still []byte }

func (c stillCapture) OpenStill(context.Context, core.DeviceHandle) ([]byte, error) {
	return c.still, nil
}

func (c stillCapture) OpenStream(context.Context, core.DeviceHandle, transport.StreamOptions) (transport.Stream, error) {
	return nil, errors.New("not used")
}

// sessionMap is a fixed SessionSource.
type sessionMap map[core.DeviceHandle]*session.Session

func (m sessionMap) Get(dev core.DeviceHandle) (*session.Session, bool) {
	s, ok := m[dev]
	return s, ok
}

func (m sessionMap) Sessions() []*session.Session {
	out := make([]*session.Session, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

func startSession(t *testing.T, dev core.DeviceHandle) (*session.Session, *recordingBridge) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 8))))

	b := &recordingBridge{}
	s := session.New(session.Config{
		Device:  dev,
		Bridge:  b,
		Capture: stillCapture{still: buf.Bytes()},
		Settings: config.Mirror{
			Strategy:         config.StrategySnapshot,
			Scale:            0.5,
			SnapshotInterval: 5 * time.Millisecond,
			StreamFPS:        15,
			RetryBudget:      3,
		},
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	require.Eventually(t, func() bool { return s.Bus().Latest() != nil }, 5*time.Second, time.Millisecond)
	return s, b
}

func newTestServer(t *testing.T, sessions sessionMap) *PreviewServer {
	t.Helper()
	return New(sessions, Options{Addr: "127.0.0.1:0", FPS: 50, ScreenshotDir: t.TempDir()})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestPagesServed(t *testing.T) {
	h := newTestServer(t, sessionMap{}).Handler()

	rec := get(t, h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/api/sessions")

	rec = get(t, h, "/devices/emulator-5554")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<canvas")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/missing").Code)
}

func TestHealthAndStatus(t *testing.T) {
	h := newTestServer(t, sessionMap{}).Handler()

	rec := get(t, h, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"hopemirror"}`, rec.Body.String())

	rec = get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, float64(0), status["sessions"])
	assert.Equal(t, float64(50), status["fps"])
}

func TestSessionListAndInfo(t *testing.T) {
	s, _ := startSession(t, "R58M")
	h := newTestServer(t, sessionMap{"R58M": s}).Handler()

	rec := get(t, h, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sessions []session.Info `json:"sessions"`
		Count    int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "R58M", list.Sessions[0].Device)
	assert.Equal(t, "Streaming", list.Sessions[0].State)

	rec = get(t, h, "/api/devices/R58M")
	require.Equal(t, http.StatusOK, rec.Code)
	var info session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 2, info.Geometry.WindowWidth)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/devices/OTHER").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/devices/a$b").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, post(t, h, "/api/sessions", "").Code)
}

func TestScreenshotEndpoints(t *testing.T) {
	s, _ := startSession(t, "R58M")
	srv := newTestServer(t, sessionMap{"R58M": s})
	h := srv.Handler()

	rec := get(t, h, "/api/devices/R58M/screenshot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	rec = post(t, h, "/api/devices/R58M/screenshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var saved struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.True(t, strings.HasPrefix(saved.Path, srv.ScreenshotDir()))
	_, err = os.Stat(saved.Path)
	require.NoError(t, err)
}

func TestKeyAndTextEndpoints(t *testing.T) {
	s, b := startSession(t, "R58M")
	h := newTestServer(t, sessionMap{"R58M": s}).Handler()

	assert.Equal(t, http.StatusOK, post(t, h, "/api/devices/R58M/key", `{"key":"home"}`).Code)
	assert.Equal(t, http.StatusOK, post(t, h, "/api/devices/R58M/text", `{"text":"hi"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/api/devices/R58M/key", `{"key":"warp"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/api/devices/R58M/key", `nope`).Code)

	require.Eventually(t, func() bool { return b.has("key 3") && b.has("text hi") }, 5*time.Second, time.Millisecond)

	rec := get(t, h, "/api/keys")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "volume_up")

	require.NoError(t, s.Stop())
	assert.Equal(t, http.StatusConflict, post(t, h, "/api/devices/R58M/key", `{"key":"home"}`).Code)
}

func dialPreview(t *testing.T, ts *httptest.Server, serial string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + serial
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	frames   int
	geometry bool
	streamed bool
	messages []map[string]interface{}
}

// readUntil reads messages until done reports true.
func readUntil(t *testing.T, conn *websocket.Conn, r *received, done func(*received) bool) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for !done(r) {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if kind == websocket.BinaryMessage {
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, 4, cfg.Width)
			r.frames++
			continue
		}
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		r.messages = append(r.messages, msg)
		switch msg["type"] {
		case "geometry":
			r.geometry = true
		case "state":
			r.streamed = r.streamed || msg["state"] == "Streaming"
		}
	}
}

func lastOfType(r *received, typ string) map[string]interface{} {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i]["type"] == typ {
			return r.messages[i]
		}
	}
	return nil
}

func TestWebSocketRelaysFramesAndInput(t *testing.T) {
	s, b := startSession(t, "R58M")
	ts := httptest.NewServer(newTestServer(t, sessionMap{"R58M": s}).Handler())
	defer ts.Close()

	conn := dialPreview(t, ts, "R58M")
	r := &received{}
	readUntil(t, conn, r, func(r *received) bool { return r.frames >= 2 && r.geometry && r.streamed })

	geom := lastOfType(r, "geometry")["geometry"].(map[string]interface{})
	assert.Equal(t, float64(2), geom["windowWidth"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "tap", "x": 1, "y": 2}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "swipe", "x": 0, "y": 0, "x2": 2, "y2": 4}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "key", "key": "back"}))
	require.Eventually(t, func() bool {
		return b.has("tap 2 4") && b.has("swipe 0 0 4 8") && b.has("key 4")
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "screenshot"}))
	readUntil(t, conn, r, func(r *received) bool { return lastOfType(r, "screenshot") != nil })
	path := lastOfType(r, "screenshot")["path"].(string)
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "warp"}))
	readUntil(t, conn, r, func(r *received) bool { return lastOfType(r, "error") != nil })
	assert.Contains(t, lastOfType(r, "error")["error"], "warp")
}

func TestWebSocketEndsWithSession(t *testing.T) {
	s, _ := startSession(t, "R58M")
	ts := httptest.NewServer(newTestServer(t, sessionMap{"R58M": s}).Handler())
	defer ts.Close()

	conn := dialPreview(t, ts, "R58M")
	r := &received{}
	readUntil(t, conn, r, func(r *received) bool { return r.streamed })

	require.NoError(t, s.Stop())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var final string
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == "state" {
			final = msg["state"].(string)
		}
	}
	assert.Equal(t, "Stopped", final)
}

func TestWebSocketUnknownDevice(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, sessionMap{}).Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/R58M"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, sessionMap{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- srv.Serve(ctx, ln) }()

	require.Eventually(t, srv.IsRunning, 5*time.Second, time.Millisecond)
	assert.Equal(t, "http://"+ln.Addr().String()+"/devices/R58M", srv.DeviceURL("R58M"))

	resp, err := http.Get(srv.URL() + "api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.False(t, srv.IsRunning())
}
