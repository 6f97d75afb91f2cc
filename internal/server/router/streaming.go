package router

import (
	"net/http"

	"github.com/babelcloud/hopemirror/internal/server/handlers"
)

// StreamingRouter handles the websocket relay under /ws
type StreamingRouter struct {
	handlers *handlers.StreamingHandlers
}

// RegisterRoutes registers all streaming routes
func (r *StreamingRouter) RegisterRoutes(mux *http.ServeMux, server interface{}) {
	r.handlers = handlers.NewStreamingHandlers(services(server))

	ws := NewPatternRouter()
	ws.HandleFunc("GET /ws/{serial}", r.handlers.HandleWebSocket)

	mux.Handle(r.GetPathPrefix()+"/", ws)
}

// GetPathPrefix returns the path prefix for this router
func (r *StreamingRouter) GetPathPrefix() string {
	return "/ws"
}
