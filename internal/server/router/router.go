package router

import (
	"net/http"

	"github.com/babelcloud/hopemirror/internal/server/handlers"
)

// Router registers one group of routes on the server mux. server is the
// preview server; routers take the services they need from it.
type Router interface {
	RegisterRoutes(mux *http.ServeMux, server interface{})
	GetPathPrefix() string
}

// services extracts what handlers depend on. Either may be nil.
func services(server interface{}) (handlers.ServerService, handlers.SessionSource) {
	var svc handlers.ServerService
	var sessions handlers.SessionSource
	if s, ok := server.(handlers.ServerService); ok {
		svc = s
	}
	if s, ok := server.(handlers.SessionSource); ok {
		sessions = s
	}
	return svc, sessions
}
