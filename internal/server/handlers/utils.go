package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/session"
)

// RespondJSON writes data as a JSON response with the given status.
func RespondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	RespondJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// isValidDeviceSerial accepts USB serials, emulator names and host:port
// serials of network devices.
func isValidDeviceSerial(serial string) bool {
	if len(serial) < 3 || len(serial) > 64 {
		return false
	}
	for _, c := range serial {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '.' || c == '-' || c == '_' || c == ':') {
			return false
		}
	}
	return true
}

// lookupSession resolves serial to a session, writing the error response
// itself when it cannot.
func lookupSession(w http.ResponseWriter, sessions SessionSource, serial string) (*session.Session, bool) {
	if !isValidDeviceSerial(serial) {
		respondError(w, http.StatusBadRequest, "invalid device serial")
		return nil, false
	}
	if sessions == nil {
		respondError(w, http.StatusServiceUnavailable, "no sessions")
		return nil, false
	}
	sess, ok := sessions.Get(core.DeviceHandle(serial))
	if !ok {
		respondError(w, http.StatusNotFound, "no session for device "+serial)
		return nil, false
	}
	return sess, true
}
