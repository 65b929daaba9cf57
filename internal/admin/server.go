// Package admin serves a small read-only HTTP surface for operators.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Veraticus/sightings/internal/matcher"
	"github.com/Veraticus/sightings/internal/registry"
	"github.com/Veraticus/sightings/internal/session"
	"github.com/Veraticus/sightings/internal/storage"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	defaultListLimit  = 50
)

// SessionReader exposes a read-only view of a session.
type SessionReader interface {
	SessionState(ctx context.Context, identity string) (session.Session, error)
}

// SightingLister lists finalized sightings.
type SightingLister interface {
	List(ctx context.Context, plate string, limit int) ([]storage.Sighting, error)
}

// HealthCheck reports an unhealthy dependency by returning an error.
type HealthCheck func(ctx context.Context) error

// Server routes admin requests.
type Server struct {
	router    *mux.Router
	sessions  SessionReader
	lookup    registry.Lookup
	sightings SightingLister
	metrics   http.Handler
	checks    map[string]HealthCheck
	logger    *slog.Logger
	token     string
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry enables GET /registry/{plate}.
func WithRegistry(lookup registry.Lookup) Option {
	return func(s *Server) { s.lookup = lookup }
}

// WithSightings enables GET /sightings.
func WithSightings(l SightingLister) Option {
	return func(s *Server) { s.sightings = l }
}

// WithMetrics mounts h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthCheck adds a named check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithToken requires "Authorization: Bearer <token>" on data endpoints.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer builds the router.
func NewServer(sessions SessionReader, opts ...Option) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session reader is required")
	}

	s := &Server{
		router:   mux.NewRouter(),
		sessions: sessions,
		checks:   make(map[string]HealthCheck),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "admin"))

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	data := s.router.NewRoute().Subrouter()
	data.Use(s.requireToken)
	data.HandleFunc("/sessions/{identity}", s.handleSession).Methods(http.MethodGet)
	if s.lookup != nil {
		data.HandleFunc("/registry/{plate}", s.handleRegistry).Methods(http.MethodGet)
	}
	if s.sightings != nil {
		data.HandleFunc("/sightings", s.handleSightings).Methods(http.MethodGet)
	}

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "Admin server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown admin server: %w", err)
		}
		return nil
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Checks map[string]string `json:"checks,omitempty"`
	Status string            `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	code := http.StatusOK

	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

type sessionView struct {
	UpdatedAt        time.Time           `json:"updated_at"`
	Location         *session.Location   `json:"location,omitempty"`
	Selected         *registry.Record    `json:"selected,omitempty"`
	Identity         string              `json:"identity"`
	State            session.State       `json:"state"`
	PendingImageRef  string              `json:"pending_image_ref,omitempty"`
	PendingPlateText string              `json:"pending_plate_text,omitempty"`
	Candidates       []matcher.Candidate `json:"candidates,omitempty"`
	ProcessedCount   int                 `json:"processed_count"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	identity, err := url.PathUnescape(mux.Vars(r)["identity"])
	if err != nil || identity == "" {
		writeError(w, http.StatusBadRequest, "invalid identity")
		return
	}

	sess, err := s.sessions.SessionState(r.Context(), identity)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to read session",
			slog.String("identity", identity),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "session unavailable")
		return
	}

	writeJSON(w, http.StatusOK, sessionView{
		Identity:         sess.Identity,
		State:            sess.State,
		PendingImageRef:  sess.PendingImageRef,
		PendingPlateText: sess.PendingPlateText,
		Location:         sess.Location,
		Candidates:       sess.Candidates,
		Selected:         sess.Selected,
		UpdatedAt:        sess.UpdatedAt,
		ProcessedCount:   len(sess.Processed),
	})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	plate := registry.NormalizePlate(mux.Vars(r)["plate"])
	rec, err := s.lookup.LookupExact(r.Context(), plate)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "plate not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSightings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := s.sightings.List(r.Context(), registry.NormalizePlate(q.Get("plate")), limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to list sightings", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "sightings unavailable")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Sightings []storage.Sighting `json:"sightings"`
	}{Sightings: list})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
