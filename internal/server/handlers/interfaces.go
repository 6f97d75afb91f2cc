package handlers

import (
	"io/fs"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/session"
)

// ServerService is what handlers need from the preview server.
type ServerService interface {
	// Status and info
	IsRunning() bool
	GetUptime() time.Duration
	GetVersion() string

	// Rendering
	FrameRate() int
	JPEGQuality() int
	ScreenshotDir() string

	// Static file serving
	GetStaticFS() fs.FS
}

// SessionSource looks up mirror sessions. The orchestrator satisfies it.
type SessionSource interface {
	Get(dev core.DeviceHandle) (*session.Session, bool)
	Sessions() []*session.Session
}
