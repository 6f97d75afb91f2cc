package router

import (
	"net/http"

	"github.com/babelcloud/hopemirror/internal/server/handlers"
)

// PagesRouter handles the HTML pages (/, /devices/{serial})
type PagesRouter struct {
	handlers *handlers.PagesHandlers
}

// RegisterRoutes registers all page routes
func (r *PagesRouter) RegisterRoutes(mux *http.ServeMux, server interface{}) {
	svc, _ := services(server)
	if svc != nil {
		r.handlers = handlers.NewPagesHandlers(svc.GetStaticFS())
	} else {
		r.handlers = handlers.NewPagesHandlers(nil)
	}

	pages := NewPatternRouter()
	pages.HandleFunc("GET /devices/{serial}", r.handlers.HandleDevicePage)
	pages.HandleFunc("GET /devices/{serial}/", r.handlers.HandleDevicePage)
	// Root handler catches everything unmatched and 404s anything but "/".
	pages.HandleFunc("GET /{path:.*}", r.handlers.HandleRoot)

	mux.Handle("/", pages)
}

// GetPathPrefix returns the path prefix for this router
func (r *PagesRouter) GetPathPrefix() string {
	return "/"
}
