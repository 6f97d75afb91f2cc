package router

import (
	"net/http"

	"github.com/babelcloud/hopemirror/internal/server/handlers"
)

// APIRouter handles all /api/* routes
type APIRouter struct {
	handlers *handlers.APIHandlers
}

// RegisterRoutes registers all API routes
func (r *APIRouter) RegisterRoutes(mux *http.ServeMux, server interface{}) {
	r.handlers = handlers.NewAPIHandlers(services(server))

	api := NewPatternRouter()

	// Health and status endpoints
	api.HandleFunc("GET /api/health", r.handlers.HandleHealth)
	api.HandleFunc("GET /api/status", r.handlers.HandleStatus)
	api.HandleFunc("GET /api/keys", r.handlers.HandleKeyList)

	// Sessions
	api.HandleFunc("GET /api/sessions", r.handlers.HandleSessionList)
	api.HandleFunc("GET /api/devices/{serial}", r.handlers.HandleSessionInfo)
	api.HandleFunc("GET /api/devices/{serial}/screenshot", r.handlers.HandleScreenshot)
	api.HandleFunc("POST /api/devices/{serial}/screenshot", r.handlers.HandleSaveScreenshot)
	api.HandleFunc("POST /api/devices/{serial}/key", r.handlers.HandleKey)
	api.HandleFunc("POST /api/devices/{serial}/text", r.handlers.HandleText)

	mux.Handle(r.GetPathPrefix()+"/", api)
}

// GetPathPrefix returns the path prefix for this router
func (r *APIRouter) GetPathPrefix() string {
	return "/api"
}
