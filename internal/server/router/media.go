package router

import (
	"net/http"

	"github.com/babelcloud/browsercast/internal/server/handlers"
)

// MediaRouter handles the pulled resource, the live stream and metrics.
type MediaRouter struct {
	handlers *handlers.MediaHandlers
}

// RegisterRoutes registers all media routes
func (r *MediaRouter) RegisterRoutes(mux *http.ServeMux, server interface{}) {
	serverService, ok := server.(handlers.ServerService)
	if !ok {
		return
	}
	r.handlers = handlers.NewMediaHandlers(serverService)

	// The player addresses the pulled file as /media/MEDIA_FILE?size=N
	mux.HandleFunc("/media/", r.handlers.HandleMedia)
	mux.HandleFunc("/live", r.handlers.HandleLive)
	mux.HandleFunc("/metrics", r.handlers.HandleMetrics)
}

// GetPathPrefix returns the path prefix for this router
func (r *MediaRouter) GetPathPrefix() string {
	return "/media"
}
