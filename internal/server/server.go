package server

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/browsercast/internal/metrics"
	"github.com/babelcloud/browsercast/internal/pipeline"
	"github.com/babelcloud/browsercast/internal/rangebridge"
	"github.com/babelcloud/browsercast/internal/server/handlers"
	"github.com/babelcloud/browsercast/internal/server/router"
	"github.com/babelcloud/browsercast/internal/session"
	"github.com/babelcloud/browsercast/internal/signaling"
	"github.com/babelcloud/browsercast/internal/util"
	"github.com/babelcloud/browsercast/internal/version"
)

//go:embed all:static
var staticFiles embed.FS

// Session is the part of a display session the HTTP side talks to.
// *session.Display satisfies it.
type Session interface {
	State() session.DisplayState
	ReportProgress(ctx context.Context, status signaling.Status) error
}

// DisplayServer is the local HTTP server the browser player talks to. It
// outlives individual cast sessions; the current one is attached with
// Attach.
type DisplayServer struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	mux        *http.ServeMux

	broker    *rangebridge.Broker
	live      *pipeline.Broadcaster
	media     http.Handler
	collector metrics.Collector

	// State
	mu        sync.RWMutex
	running   bool
	startTime time.Time
	room      string
	session   Session
	logger    *slog.Logger
}

// NewDisplayServer creates a server listening on addr once started.
func NewDisplayServer(addr string, collector metrics.Collector) *DisplayServer {
	broker := rangebridge.NewBroker()
	s := &DisplayServer{
		addr:      addr,
		mux:       http.NewServeMux(),
		broker:    broker,
		live:      pipeline.NewBroadcaster(),
		media:     rangebridge.NewHandler(broker),
		collector: metrics.OrNoop(collector),
		startTime: time.Now(),
		logger:    util.ComponentLogger("display-server"),
	}
	s.setupRoutes()
	return s
}

// Broker is the range bridge the session resolves pulls through.
func (s *DisplayServer) Broker() *rangebridge.Broker { return s.broker }

// Live returns the broadcaster fed by push-mode sessions.
func (s *DisplayServer) Live() *pipeline.Broadcaster { return s.live }

// Handler returns the routed handler, wrapped in request logging.
func (s *DisplayServer) Handler() http.Handler {
	return loggingMiddleware(s.logger, s.mux)
}

// Start binds the listen address and serves in the background.
func (s *DisplayServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.addr)
	}

	s.mu.Lock()
	s.listener = ln
	s.startTime = time.Now()
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  0, // No read timeout for streaming connections
		WriteTimeout: 0, // No write timeout for streaming connections
		IdleTimeout:  0,
	}
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server stopped", "error", err)
		}
	}()
	s.logger.Info("Display server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *DisplayServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the player page URL.
func (s *DisplayServer) URL() string {
	return fmt.Sprintf("http://%s/", s.Addr())
}

// Stop stops the server
func (s *DisplayServer) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.running = false
	s.mu.Unlock()

	// Wake any handler blocked on a pull and end live viewers.
	s.broker.Close()
	s.live.Close()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("HTTP server shutdown error", "error", err)
			// Force close if graceful shutdown fails
			if err := srv.Close(); err != nil {
				s.logger.Warn("HTTP server force close error", "error", err)
			}
		}
	}

	s.logger.Info("Display server stopped")
	return nil
}

// IsRunning returns whether the server is running
func (s *DisplayServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Attach makes sess the session the API reports on. A nil sess detaches.
func (s *DisplayServer) Attach(room string, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
	s.session = sess
}

// setupRoutes sets up all HTTP routes
func (s *DisplayServer) setupRoutes() {
	routers := []router.Router{
		&router.APIRouter{},
		&router.MediaRouter{},
		&router.PagesRouter{}, // Must be last as it includes root handler
	}
	for _, r := range routers {
		r.RegisterRoutes(s.mux, s)
	}
}

// ServerService interface implementations for handlers

// GetUptime returns server uptime
func (s *DisplayServer) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// GetVersion returns version info
func (s *DisplayServer) GetVersion() string {
	return version.Version
}

// Room returns the room code of the attached session.
func (s *DisplayServer) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// DisplayState returns the attached session's state.
func (s *DisplayServer) DisplayState() (session.DisplayState, bool) {
	s.mu.RLock()
	sess := s.session
	s.mu.RUnlock()
	if sess == nil {
		return session.DisplayState{}, false
	}
	return sess.State(), true
}

// ReportProgress forwards progress to the attached session.
func (s *DisplayServer) ReportProgress(ctx context.Context, status signaling.Status) error {
	s.mu.RLock()
	sess := s.session
	s.mu.RUnlock()
	if sess == nil {
		return handlers.ErrNoSession
	}
	return sess.ReportProgress(ctx, status)
}

// MediaHandler returns the range bridge handler.
func (s *DisplayServer) MediaHandler() http.Handler { return s.media }

// MetricsHandler returns the collector's scrape handler.
func (s *DisplayServer) MetricsHandler() http.Handler { return s.collector.Handler() }

// GetStaticFS returns static file system
func (s *DisplayServer) GetStaticFS() fs.FS {
	return staticFiles
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.length += n
	return n, err
}

// Flush keeps streaming handlers working behind the middleware.
func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("http.Hijacker interface is not supported")
	}
	return hj.Hijack()
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"bytes", lw.length,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}
