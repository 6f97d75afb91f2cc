package handlers

import "github.com/babelcloud/hopemirror/internal/geometry"

// Inbound message types. Coordinates are in window space.
const (
	msgTap        = "tap"
	msgSwipe      = "swipe"
	msgKey        = "key"
	msgText       = "text"
	msgScreenshot = "screenshot"
	msgPing       = "ping"
)

// Outbound message types. Frames travel as binary JPEG messages.
const (
	msgGeometry = "geometry"
	msgState    = "state"
	msgError    = "error"
	msgPong     = "pong"
)

type clientMessage struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	X2   int    `json:"x2"`
	Y2   int    `json:"y2"`
	Key  string `json:"key,omitempty"`
	Text string `json:"text,omitempty"`
}

type serverMessage struct {
	Type     string          `json:"type"`
	Geometry *geometry.State `json:"geometry,omitempty"`
	State    string          `json:"state,omitempty"`
	Error    string          `json:"error,omitempty"`
	Path     string          `json:"path,omitempty"`
}
