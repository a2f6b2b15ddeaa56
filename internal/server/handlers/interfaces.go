package handlers

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/babelcloud/browsercast/internal/pipeline"
	"github.com/babelcloud/browsercast/internal/session"
	"github.com/babelcloud/browsercast/internal/signaling"
)

// ServerService defines the interface for server operations that handlers need
type ServerService interface {
	// Status and info
	GetUptime() time.Duration
	GetVersion() string
	Room() string

	// Current session, if any
	DisplayState() (session.DisplayState, bool)
	ReportProgress(ctx context.Context, status signaling.Status) error

	// Media
	MediaHandler() http.Handler
	Live() *pipeline.Broadcaster
	MetricsHandler() http.Handler

	// Static file serving
	GetStaticFS() fs.FS
}
