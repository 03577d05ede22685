// Package http serves backtest results, health and metrics over a read-only
// JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/backtest/pairtrade"
	"github.com/sawpanic/pairsrun/internal/persistence"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// SummaryReader loads the summary artifact of a finished run
type SummaryReader interface {
	ReadSummary(runID string) (*pairtrade.Summary, error)
}

// Dependencies are the data sources behind the API. Summaries is required;
// the rest are optional and their routes answer 503 when missing.
type Dependencies struct {
	Summaries SummaryReader
	Runs      persistence.RunsRepo
	Database  persistence.RepositoryHealth
	Breaker   BreakerStater
	Metrics   http.Handler
	Version   string
}

// Server represents the read-only HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	deps   Dependencies
	health *HealthHandler
	config ServerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "127.0.0.1", // Local-only by default
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// NewServer creates a new HTTP server instance
func NewServer(config ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Summaries == nil {
		return nil, errors.New("http: a summary reader is required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultServerConfig().RequestTimeout
	}

	server := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		health: NewHealthHandler(deps.Database, deps.Breaker, deps.Version),
		config: config,
	}
	server.setupRoutes()

	server.server = &http.Server{
		Addr:         server.GetAddress(),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return server, nil
}

// Handler exposes the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.Handle("/health", s.health).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/runs").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)
	api.HandleFunc("", s.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/{id}", s.getRun).Methods(http.MethodGet)
	api.HandleFunc("/{id}/pairs", s.getRunPairs).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
	})
}

// getRun serves the summary artifact; runs that were persisted but whose
// artifacts are gone fall back to the stored record
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	summary, err := s.deps.Summaries.ReadSummary(id)
	if err == nil {
		s.writeJSON(w, http.StatusOK, summary)
		return
	}
	if !errors.Is(err, pairtrade.ErrRunNotFound) {
		s.writeError(w, r, http.StatusInternalServerError, "summary_unreadable", err.Error())
		return
	}

	if s.deps.Runs != nil && id != pairtrade.LatestRun {
		record, dbErr := s.deps.Runs.Get(r.Context(), id)
		if dbErr == nil {
			s.writeJSON(w, http.StatusOK, record)
			return
		}
		if !errors.Is(dbErr, persistence.ErrNotFound) {
			s.writeError(w, r, http.StatusInternalServerError, "database_error", dbErr.Error())
			return
		}
	}

	s.writeError(w, r, http.StatusNotFound, "run_not_found", fmt.Sprintf("run %q not found", id))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "persistence_disabled", "run history needs the database")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be an integer in [1, 500]")
			return
		}
		limit = n
	}

	runs, err := s.deps.Runs.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "database_error", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, RunsResponse{Timestamp: time.Now().UTC(), Count: len(runs), Runs: runs})
}

func (s *Server) getRunPairs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "persistence_disabled", "run history needs the database")
		return
	}

	id := mux.Vars(r)["id"]
	pairs, err := s.deps.Runs.Pairs(r.Context(), id)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	if len(pairs) == 0 {
		s.writeError(w, r, http.StatusNotFound, "run_not_found", fmt.Sprintf("run %q not found", id))
		return
	}

	s.writeJSON(w, http.StatusOK, RunPairsResponse{RunID: id, Count: len(pairs), Pairs: pairs})
}

// writeJSON writes JSON response with proper error handling
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes standardized error response
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// RequestID returns the ID the middleware attached to ctx
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs all requests with structured format
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Debug().
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// timeoutMiddleware enforces request timeouts
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for local development
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); isLocal(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start listens until the server is shut down
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.GetAddress())
	if err != nil {
		return fmt.Errorf("port %d is busy or unavailable: %w", s.config.Port, err)
	}

	log.Info().Str("addr", s.GetAddress()).Msg("Starting HTTP server (read-only)")
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// GetAddress returns the server address
func (s *Server) GetAddress() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// isLocal reports whether an origin points at this machine
func isLocal(origin string) bool {
	return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
}
