package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/input"
	"github.com/babelcloud/hopemirror/internal/session"
	"github.com/pkg/errors"
)

// APIHandlers contains handlers for all /api/* routes
type APIHandlers struct {
	serverService ServerService
	sessions      SessionSource
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(serverSvc ServerService, sessions SessionSource) *APIHandlers {
	return &APIHandlers{
		serverService: serverSvc,
		sessions:      sessions,
	}
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"hopemirror"}`))
}

func (h *APIHandlers) HandleStatus(w http.ResponseWriter, req *http.Request) {
	status := map[string]interface{}{
		"running":  true,
		"sessions": 0,
	}
	if h.serverService != nil {
		status["running"] = h.serverService.IsRunning()
		status["uptime"] = h.serverService.GetUptime().String()
		status["version"] = h.serverService.GetVersion()
		status["fps"] = h.serverService.FrameRate()
	}
	if h.sessions != nil {
		status["sessions"] = len(h.sessions.Sessions())
	}
	RespondJSON(w, http.StatusOK, status)
}

// HandleSessionList lists every known session, live or terminal.
func (h *APIHandlers) HandleSessionList(w http.ResponseWriter, req *http.Request) {
	infos := make([]session.Info, 0)
	if h.sessions != nil {
		for _, s := range h.sessions.Sessions() {
			infos = append(infos, s.Info())
		}
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": infos,
		"count":    len(infos),
	})
}

// HandleSessionInfo describes the session of one device.
func (h *APIHandlers) HandleSessionInfo(w http.ResponseWriter, req *http.Request) {
	sess, ok := lookupSession(w, h.sessions, req.PathValue("serial"))
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, sess.Info())
}

// HandleScreenshot returns the newest frame as PNG.
func (h *APIHandlers) HandleScreenshot(w http.ResponseWriter, req *http.Request) {
	sess, ok := lookupSession(w, h.sessions, req.PathValue("serial"))
	if !ok {
		return
	}
	data, err := sess.Screenshot()
	if err != nil {
		respondScreenshotError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `inline; filename="`+session.ScreenshotName(sess.Device(), time.Now())+`"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// HandleSaveScreenshot writes the newest frame to the screenshot directory.
func (h *APIHandlers) HandleSaveScreenshot(w http.ResponseWriter, req *http.Request) {
	sess, ok := lookupSession(w, h.sessions, req.PathValue("serial"))
	if !ok {
		return
	}
	dir := ""
	if h.serverService != nil {
		dir = h.serverService.ScreenshotDir()
	}
	path, err := sess.SaveScreenshot(dir)
	if err != nil {
		respondScreenshotError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"path":    path,
	})
}

func respondScreenshotError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrFrameUnavailable) {
		respondError(w, http.StatusServiceUnavailable, "no frame captured yet")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

type keyRequest struct {
	Key string `json:"key"`
}

type textRequest struct {
	Text string `json:"text"`
}

// HandleKey sends a named key to the device.
func (h *APIHandlers) HandleKey(w http.ResponseWriter, req *http.Request) {
	sess, ok := lookupSession(w, h.sessions, req.PathValue("serial"))
	if !ok {
		return
	}
	var body keyRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Key == "" {
		respondError(w, http.StatusBadRequest, "body must be {\"key\": name}")
		return
	}
	if err := sess.HandleCommand(body.Key); err != nil {
		respondInputError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleText types text on the device.
func (h *APIHandlers) HandleText(w http.ResponseWriter, req *http.Request) {
	sess, ok := lookupSession(w, h.sessions, req.PathValue("serial"))
	if !ok {
		return
	}
	var body textRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "body must be {\"text\": string}")
		return
	}
	if err := sess.SendText(body.Text); err != nil {
		respondInputError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func respondInputError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotStreaming):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, input.ErrUnknownCommand):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// HandleKeyList returns the key names HandleKey accepts.
func (h *APIHandlers) HandleKeyList(w http.ResponseWriter, req *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]interface{}{"keys": input.KeyNames()})
}
