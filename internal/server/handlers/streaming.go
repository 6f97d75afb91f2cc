package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/decode"
	"github.com/babelcloud/hopemirror/internal/framebus"
	"github.com/babelcloud/hopemirror/internal/geometry"
	"github.com/babelcloud/hopemirror/internal/session"
	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	defaultFrameRate = 30
	writeWait        = 2 * time.Second
	maxMessageSize   = 64 * 1024
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the preview listens on loopback by default
	},
}

// StreamingHandlers relays frames to browsers and their input back to
// sessions.
type StreamingHandlers struct {
	serverService ServerService
	sessions      SessionSource
}

// NewStreamingHandlers creates a new streaming handlers instance
func NewStreamingHandlers(serverSvc ServerService, sessions SessionSource) *StreamingHandlers {
	return &StreamingHandlers{
		serverService: serverSvc,
		sessions:      sessions,
	}
}

// HandleWebSocket serves /ws/{serial}.
func (h *StreamingHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(w, h.sessions, r.PathValue("serial"))
	if !ok {
		return
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		util.ComponentLogger(string(sess.Device()), "preview").Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		conn:    conn,
		session: sess,
		sub:     sess.Bus().Subscribe(),
		fps:     defaultFrameRate,
		quality: decode.DefaultJPEGQuality,
		logger:  util.ComponentLogger(string(sess.Device()), "preview").With("remote", r.RemoteAddr),
	}
	if h.serverService != nil {
		if fps := h.serverService.FrameRate(); fps > 0 {
			c.fps = fps
		}
		c.quality = h.serverService.JPEGQuality()
		c.shotDir = h.serverService.ScreenshotDir()
	}
	c.run(r.Context())
}

type streamClient struct {
	conn    *websocket.Conn
	session *session.Session
	sub     *framebus.Subscription
	fps     int
	quality int
	shotDir string
	logger  *slog.Logger

	writeMu sync.Mutex
}

func (c *streamClient) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer c.sub.Close()
	// Closing unblocks readLoop once either pump gives up.
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()
	defer c.conn.Close()

	c.logger.Info("preview client connected")
	defer c.logger.Info("preview client disconnected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.pumpFrames(ctx); err != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.pumpStatus(ctx)
	}()

	c.readLoop(ctx)
	cancel()
	wg.Wait()
}

// pumpFrames sends the newest frame at most fps times per second. Frames
// published in between are superseded in the subscription mailbox. It
// returns an error only when the connection is unusable.
func (c *streamClient) pumpFrames(ctx context.Context) error {
	limiter := time.NewTicker(time.Second / time.Duration(c.fps))
	defer limiter.Stop()

	for {
		frame, err := c.sub.Next(ctx)
		if err != nil {
			// Bus closed or client gone; pumpStatus reports the end.
			return nil
		}
		data, err := decode.EncodeJPEG(frame, c.quality)
		if err != nil {
			c.logger.Debug("frame encode failed", "seq", frame.Seq, "error", err)
			continue
		}
		if err := c.write(websocket.BinaryMessage, data); err != nil {
			c.logger.Debug("frame write failed", "error", err)
			return err
		}
		select {
		case <-limiter.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// pumpStatus pushes geometry and state whenever they change, and a final
// state once the session ends.
func (c *streamClient) pumpStatus(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(c.fps))
	defer ticker.Stop()

	var lastGeom geometry.State
	lastState := core.State(-1)
	push := func() error {
		if g := c.session.Geometry(); g != lastGeom {
			lastGeom = g
			if err := c.writeJSON(serverMessage{Type: msgGeometry, Geometry: &g}); err != nil {
				return err
			}
		}
		if st := c.session.State(); st != lastState {
			lastState = st
			msg := serverMessage{Type: msgState, State: st.String()}
			if err := c.session.Err(); err != nil {
				msg.Error = err.Error()
			}
			if err := c.writeJSON(msg); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		if err := push(); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-c.session.Done():
			push()
			c.closeWith(websocket.CloseNormalClosure, c.session.State().String())
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *streamClient) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.writeJSON(serverMessage{Type: msgError, Error: "invalid message"})
			continue
		}
		if reply, err := c.handle(msg); err != nil {
			c.writeJSON(serverMessage{Type: msgError, Error: err.Error()})
		} else if reply != nil {
			c.writeJSON(*reply)
		}
	}
}

func (c *streamClient) handle(msg clientMessage) (*serverMessage, error) {
	switch msg.Type {
	case msgTap:
		return nil, c.session.HandleInput(core.Tap(msg.X, msg.Y))
	case msgSwipe:
		return nil, c.session.HandleInput(core.ClassifyGesture(msg.X, msg.Y, msg.X2, msg.Y2))
	case msgKey:
		return nil, c.session.HandleCommand(msg.Key)
	case msgText:
		return nil, c.session.SendText(msg.Text)
	case msgScreenshot:
		path, err := c.session.SaveScreenshot(c.shotDir)
		if err != nil {
			return nil, err
		}
		return &serverMessage{Type: msgScreenshot, Path: path}, nil
	case msgPing:
		return &serverMessage{Type: msgPong}, nil
	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
		return nil, errors.Errorf("unknown message type %q", msg.Type)
	}
}

func (c *streamClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *streamClient) writeJSON(msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *streamClient) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
