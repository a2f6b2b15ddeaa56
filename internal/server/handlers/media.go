package handlers

import (
	"net/http"

	"github.com/babelcloud/browsercast/internal/util"
)

// liveBuffer is the per-viewer channel depth. Once it is full the
// broadcaster, and through it the feeder, waits on the viewer.
const liveBuffer = 16

// MediaHandlers serves the pushed live stream to the player.
type MediaHandlers struct {
	serverService ServerService
}

// NewMediaHandlers creates a new media handlers instance
func NewMediaHandlers(serverSvc ServerService) *MediaHandlers {
	return &MediaHandlers{serverService: serverSvc}
}

// HandleLive streams fragmented MP4 from the broadcaster until the viewer
// leaves or the broadcaster ends it: dropped, reset for a new stream, or
// closed.
func (h *MediaHandlers) HandleLive(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	live := h.serverService.Live()
	if live == nil {
		http.Error(w, "live stream not available", http.StatusNotFound)
		return
	}

	logger := util.ComponentLogger("live")
	id, ch := live.Subscribe(liveBuffer)
	defer live.Unsubscribe(id)

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-req.Context().Done():
			logger.Debug("Live viewer left", "id", id)
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(data); err != nil {
				logger.Debug("Live write failed", "id", id, "error", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// HandleMedia serves the pulled media resource.
func (h *MediaHandlers) HandleMedia(w http.ResponseWriter, req *http.Request) {
	h.serverService.MediaHandler().ServeHTTP(w, req)
}

// HandleMetrics exposes the Prometheus registry.
func (h *MediaHandlers) HandleMetrics(w http.ResponseWriter, req *http.Request) {
	h.serverService.MetricsHandler().ServeHTTP(w, req)
}
