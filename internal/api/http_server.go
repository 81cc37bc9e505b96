package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"splitsync/internal/config"
	"splitsync/internal/domain"
	"splitsync/internal/logging"
	"splitsync/internal/models"
	"splitsync/internal/worker"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Syncer is the part of the orchestrator the status API drives.
type Syncer interface {
	ForceSync(ctx context.Context) (*worker.DrainResult, error)
	IsDraining() bool
}

// QueueReader lists the local mutation queue.
type QueueReader interface {
	ListQueue(ctx context.Context) ([]*models.MutationQueueItem, error)
	CountUnprocessed(ctx context.Context) (int, error)
}

// StatusDeps are the collaborators of the local API. DeadLetters and the
// entity stores may be nil; routes for a nil store are not registered.
type StatusDeps struct {
	Sync        Syncer
	Queue       QueueReader
	Monitor     domain.Connectivity
	DeadLetters domain.DeadLetterRepository

	Expenses ExpenseStore
	Groups   GroupStore
	Profile  ProfileStore
}

// HTTPServer exposes the local API: sync state, the pending queue, dropped
// mutations, a manual sync trigger and optimistic entity edits.
type HTTPServer struct {
	cfg     config.StatusConfig
	deps    StatusDeps
	server  *http.Server
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewHTTPServer(cfg config.StatusConfig, deps StatusDeps, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:     cfg,
		deps:    deps,
		limiter: newLimiter(cfg.RateLimit),
		logger:  logging.Component(logger, "status_api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/queue", srv.handleQueue)
	mux.HandleFunc("/api/v1/dead-letters", srv.handleDeadLetters)
	mux.HandleFunc("/api/v1/sync", srv.handleSync)
	srv.registerEntityRoutes(mux)

	srv.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           srv.loggingMiddleware(srv.authMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("status API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Online           bool  `json:"online"`
	BackendReachable bool  `json:"backend_reachable"`
	FullyOnline      bool  `json:"fully_online"`
	Draining         bool  `json:"draining"`
	Pending          int   `json:"pending"`
	DeadLetters      int64 `json:"dead_letters"`
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := statusResponse{
		Online:           s.deps.Monitor.IsOnline(),
		BackendReachable: s.deps.Monitor.IsBackendReachable(),
		FullyOnline:      s.deps.Monitor.IsFullyOnline(),
		Draining:         s.deps.Sync.IsDraining(),
	}

	pending, err := s.deps.Queue.CountUnprocessed(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("count pending")
		writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	resp.Pending = pending

	if s.deps.DeadLetters != nil {
		if n, err := s.deps.DeadLetters.Count(r.Context()); err == nil {
			resp.DeadLetters = n
		} else {
			s.logger.Warn().Err(err).Msg("count dead letters")
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	items, err := s.deps.Queue.ListQueue(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list queue")
		writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	if items == nil {
		items = []*models.MutationQueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.DeadLetters == nil {
		writeJSON(w, http.StatusOK, map[string]any{"dead_letters": []*domain.DeadLetter{}})
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	letters, err := s.deps.DeadLetters.List(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list dead letters")
		writeError(w, http.StatusInternalServerError, "failed to read dead letters")
		return
	}
	if letters == nil {
		letters = []*domain.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.deps.Sync.ForceSync(r.Context())
	switch {
	case errors.Is(err, worker.ErrOffline):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, worker.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error().Err(err).Msg("manual sync")
		writeError(w, http.StatusInternalServerError, "sync failed")
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// authMiddleware checks the API key and the request rate. /healthz stays open.
func (s *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if s.cfg.APIKey != "" {
			key := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
				writeError(w, http.StatusForbidden, "invalid api key")
				return
			}
		}

		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
