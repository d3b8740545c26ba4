// Package web provides the HTTP control surface for the kiln controller:
// a status page, status JSON, start/stop and profile management.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sweeney/kiln-controller/internal/firing"
	"github.com/sweeney/kiln-controller/internal/preset"
	"github.com/sweeney/kiln-controller/internal/schedule"
	"github.com/sweeney/kiln-controller/internal/status"
)

// maxBody bounds request bodies; profiles are small.
const maxBody = 1 << 20

// Controller starts and stops firings.
type Controller interface {
	StartFiring(profile string, sched *schedule.Schedule) (sessionID string, err error)
	StopFiring() bool
}

// FromManager adapts a firing.Manager to Controller.
func FromManager(m *firing.Manager) Controller { return managerController{m} }

type managerController struct{ m *firing.Manager }

func (c managerController) StartFiring(profile string, sched *schedule.Schedule) (string, error) {
	s, err := c.m.Start(profile, sched)
	if err != nil {
		return "", err
	}
	return s.ID(), nil
}

func (c managerController) StopFiring() bool { return c.m.Stop() }

// Server serves the control surface over HTTP.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	tracker    *status.Tracker
	firings    Controller
	presets    preset.Store
	logger     *slog.Logger

	// defaultProfile is started by POST /control when no profile is named.
	defaultProfile string
}

// Option customises a Server.
type Option func(*Server)

// WithDefaultProfile sets the profile POST /control starts when the request
// names none.
func WithDefaultProfile(name string) Option {
	return func(s *Server) { s.defaultProfile = name }
}

// New creates a Server. Status is read from tracker; firings and presets
// back the control routes.
func New(addr string, tracker *status.Tracker, firings Controller, presets preset.Store, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{tracker: tracker, firings: firings, presets: presets, logger: logger}
	for _, o := range opts {
		o(s)
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/control", s.handleControl).Methods(http.MethodPost)

	// Full paths on the root router: a mux subrouter answers a method
	// mismatch with 404 instead of 405.
	r.HandleFunc("/api/status", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/api/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/api/profiles", s.handleListProfiles).Methods(http.MethodGet)
	r.HandleFunc("/api/profiles/{name}", s.handleGetProfile).Methods(http.MethodGet)
	r.HandleFunc("/api/profiles/{name}", s.handlePutProfile).Methods(http.MethodPut)
	r.HandleFunc("/api/profiles/{name}", s.handleDeleteProfile).Methods(http.MethodDelete)

	// A panicking handler answers 500 instead of dropping the connection.
	s.handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)),
	)(r)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Debug("http_request",
			"method", r.Method, "path", r.URL.Path, "status", rec.code,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	names, err := s.presets.List(r.Context())
	if err != nil {
		s.logger.Warn("profile_list_failed", "error", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, names)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
