package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/babelcloud/browsercast/internal/signaling"
)

// APIHandlers contains handlers for all /api/* routes
type APIHandlers struct {
	serverService ServerService
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(serverSvc ServerService) *APIHandlers {
	return &APIHandlers{serverService: serverSvc}
}

// Health and status endpoints
func (h *APIHandlers) HandleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"browsercast-display"}`))
}

func (h *APIHandlers) HandleStatus(w http.ResponseWriter, req *http.Request) {
	if h.serverService == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"running","service":"browsercast-display"}`))
		return
	}

	status := map[string]interface{}{
		"room":    h.serverService.Room(),
		"uptime":  h.serverService.GetUptime().String(),
		"version": h.serverService.GetVersion(),
		"session": nil,
	}
	if st, ok := h.serverService.DisplayState(); ok {
		status["session"] = st
	}

	RespondJSON(w, http.StatusOK, status)
}

// HandleProgress accepts playback progress from the player page and
// forwards it to the controller.
func (h *APIHandlers) HandleProgress(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var status signaling.Status
	if err := json.NewDecoder(req.Body).Decode(&status); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid progress body")
		return
	}
	if status.CurrentTime < 0 {
		RespondError(w, http.StatusBadRequest, "currentTime must not be negative")
		return
	}

	if err := h.serverService.ReportProgress(req.Context(), status); err != nil {
		if errors.Is(err, ErrNoSession) {
			RespondError(w, http.StatusConflict, err.Error())
			return
		}
		RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ErrNoSession is returned by ServerService.ReportProgress when no cast
// session is attached.
var ErrNoSession = errors.New("no active cast session")
