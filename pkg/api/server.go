// Package api exposes the REST control surface of the device engine: a thin
// translation layer that validates requests and delegates to the manager.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fleetsim/fleetsim/pkg/engine"
	"github.com/fleetsim/fleetsim/pkg/logging"
	"github.com/fleetsim/fleetsim/pkg/metrics"
)

// maxRequestBodySize caps control-plane request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Server is the HTTP control surface.
type Server struct {
	manager *engine.Manager
	expo    *metrics.Exposition
	log     *slog.Logger

	httpServer *http.Server
	port       int
	version    string
	startTime  time.Time
}

// Options configures a server.
type Options struct {
	Manager    *engine.Manager
	Exposition *metrics.Exposition
	Logger     *slog.Logger
	Port       int
	Version    string
}

// NewServer builds the server and its route table.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		manager: opts.Manager,
		expo:    opts.Exposition,
		log:     log.With("component", "api"),
		port:    opts.Port,
		version: opts.Version,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.withMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // group operations may legitimately run for minutes
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.startTime = time.Now()
	s.log.Info("starting control API", "port", s.port)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control API error", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns seconds since Start.
func (s *Server) Uptime() float64 {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime).Seconds()
}

// withMiddleware wraps the mux with body capping, request logging, and
// request metrics.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		wrapped := &statusCapturingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		begin := time.Now()
		handler.ServeHTTP(wrapped, r)

		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		if s.expo != nil {
			s.expo.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		}
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(begin))
	})
}

// statusCapturingResponseWriter records the response status code.
type statusCapturingResponseWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
}

func (w *statusCapturingResponseWriter) WriteHeader(code int) {
	if !w.headerWritten {
		w.statusCode = code
		w.headerWritten = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingResponseWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.statusCode = http.StatusOK
		w.headerWritten = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusCapturingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
