package handlers

import (
	"io"
	"io/fs"
	"net/http"
	"path"
	"time"
)

// PagesHandlers serves the embedded HTML pages.
type PagesHandlers struct {
	staticFS fs.FS
}

// NewPagesHandlers creates a new pages handlers instance
func NewPagesHandlers(staticFS fs.FS) *PagesHandlers {
	return &PagesHandlers{staticFS: staticFS}
}

// HandleRoot serves the session index at exactly "/".
func (h *PagesHandlers) HandleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	h.servePage(w, req, "static/index.html")
}

// HandleDevicePage serves the canvas page for /devices/{serial}. The page
// reads the serial from its own URL.
func (h *PagesHandlers) HandleDevicePage(w http.ResponseWriter, req *http.Request) {
	h.servePage(w, req, "static/device.html")
}

func (h *PagesHandlers) servePage(w http.ResponseWriter, req *http.Request, name string) {
	if h.staticFS == nil {
		http.Error(w, "Static files not available", http.StatusNotFound)
		return
	}
	file, err := h.staticFS.Open(name)
	if err != nil {
		http.Error(w, "Page not available", http.StatusNotFound)
		return
	}
	defer file.Close()

	rs, ok := file.(io.ReadSeeker)
	if !ok {
		http.Error(w, "Page not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, req, path.Base(name), time.Time{}, rs)
}
