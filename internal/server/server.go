// Package server is the browser preview: it serves a canvas page per
// session and relays frames and input over a websocket.
package server

import (
	"bufio"
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/server/handlers"
	"github.com/babelcloud/hopemirror/internal/server/router"
	"github.com/babelcloud/hopemirror/internal/session"
	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/babelcloud/hopemirror/internal/version"
	"github.com/pkg/errors"
)

//go:embed all:static
var staticFiles embed.FS

const shutdownTimeout = 2 * time.Second

// Options configures the preview server.
type Options struct {
	Addr          string
	FPS           int
	JPEGQuality   int
	ScreenshotDir string
}

// PreviewServer renders sessions in the browser.
type PreviewServer struct {
	opts     Options
	sessions handlers.SessionSource
	mux      *http.ServeMux
	handler  http.Handler
	logger   *slog.Logger

	mu         sync.RWMutex
	running    bool
	startTime  time.Time
	listenAddr string
	httpServer *http.Server
}

// New creates a preview server over sessions, which is normally the
// orchestrator.
func New(sessions handlers.SessionSource, opts Options) *PreviewServer {
	s := &PreviewServer{
		opts:     opts,
		sessions: sessions,
		mux:      http.NewServeMux(),
		logger:   util.GetLogger().With("component", "preview"),
	}
	s.setupRoutes()
	s.handler = loggingMiddleware(s.logger, s.mux)
	return s
}

// setupRoutes registers routers, most specific prefixes first.
func (s *PreviewServer) setupRoutes() {
	routers := []router.Router{
		&router.APIRouter{},
		&router.StreamingRouter{},
		&router.PagesRouter{}, // Must be last as it includes root handler
	}
	for _, r := range routers {
		r.RegisterRoutes(s.mux, s)
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *PreviewServer) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on Options.Addr and serves until ctx is cancelled.
func (s *PreviewServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.opts.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It returns nil after a cancel.
func (s *PreviewServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No read/write timeouts: websocket connections are long lived.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		ln.Close()
		return errors.New("preview server already running")
	}
	s.running = true
	s.startTime = time.Now()
	s.listenAddr = ln.Addr().String()
	s.httpServer = srv
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("preview shutdown error", "error", err)
			srv.Close()
		}
	})
	defer stop()

	s.logger.Info("preview listening", "addr", s.listenAddr)
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		s.logger.Info("preview stopped")
		return nil
	}
	return errors.Wrap(err, "preview server failed")
}

// URL is the address browsers should open, valid once serving.
func (s *PreviewServer) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr := s.listenAddr
	if addr == "" {
		addr = s.opts.Addr
	}
	return "http://" + addr + "/"
}

// DeviceURL is the preview page of dev.
func (s *PreviewServer) DeviceURL(dev core.DeviceHandle) string {
	return s.URL() + "devices/" + string(dev)
}

// ServerService implementation for handlers.

func (s *PreviewServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *PreviewServer) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

func (s *PreviewServer) GetVersion() string    { return version.Version }
func (s *PreviewServer) FrameRate() int        { return s.opts.FPS }
func (s *PreviewServer) JPEGQuality() int      { return s.opts.JPEGQuality }
func (s *PreviewServer) ScreenshotDir() string { return s.opts.ScreenshotDir }
func (s *PreviewServer) GetStaticFS() fs.FS    { return staticFiles }

// SessionSource implementation, delegating to the orchestrator.

func (s *PreviewServer) Get(dev core.DeviceHandle) (*session.Session, bool) {
	if s.sessions == nil {
		return nil, false
	}
	return s.sessions.Get(dev)
}

func (s *PreviewServer) Sessions() []*session.Session {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Sessions()
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.length += n
	return n, err
}

// Hijack lets the websocket upgrader take over the connection.
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http.Hijacker interface is not supported")
	}
	if lw.status == 0 {
		lw.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"bytes", lw.length,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}
