// Package ops serves the operator endpoints of a running crawl: liveness,
// store readiness, Prometheus metrics, live progress and the run ledger.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
	"github.com/JakeFAU/ludostock-crawler/internal/crawl"
)

const (
	readyTimeout    = 3 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProgressSource reports the crawl in flight.
type ProgressSource interface {
	Progress() (crawl.Snapshot, bool)
}

// Deps are the optional collaborators behind the routes. A nil dependency
// makes its route answer 503.
type Deps struct {
	Store    Pinger
	Metrics  http.Handler
	Progress ProgressSource
	Runs     catalog.RunRepository
	// Middleware wraps every route, typically request metrics.
	Middleware []func(http.Handler) http.Handler
	Logger     *zap.Logger
}

// Server wires the ops routes.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(deps.Middleware...)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", s.metrics)
	r.Get("/progress", s.progress)
	r.Get("/runs/latest", s.latestRun)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully. It
// returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server started", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve ops: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ops: %w", err)
	}
	s.logger.Info("ops server stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "store": "none"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics unavailable")
		return
	}
	s.deps.Metrics.ServeHTTP(w, r)
}

type progressResponse struct {
	Running        bool    `json:"running"`
	Page           int     `json:"page,omitempty"`
	PagesCompleted int     `json:"pages_completed"`
	TotalPages     int     `json:"total_pages"`
	Collected      int64   `json:"collected"`
	Broken         int     `json:"broken"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ETASeconds     float64 `json:"eta_seconds"`
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return
	}
	snap, ok := s.deps.Progress.Progress()
	if !ok {
		writeJSON(w, http.StatusOK, progressResponse{})
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{
		Running:        true,
		Page:           snap.Page,
		PagesCompleted: snap.PagesCompleted,
		TotalPages:     snap.TotalPages,
		Collected:      snap.Collected,
		Broken:         snap.Broken,
		ElapsedSeconds: snap.Elapsed.Seconds(),
		ETASeconds:     snap.ETA.Seconds(),
	})
}

type runResponse struct {
	RunID             string     `json:"run_id"`
	Status            string     `json:"status"`
	StartPage         int        `json:"start_page"`
	EndPage           int        `json:"end_page"`
	LastCompletedPage int        `json:"last_completed_page"`
	ResumePage        int        `json:"resume_page"`
	Collected         int64      `json:"collected"`
	Note              string     `json:"note,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	run, ok, err := s.deps.Runs.LatestRun(ctx)
	if err != nil {
		s.logger.Error("load latest run", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "failed to load latest run")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		RunID:             run.ID.String(),
		Status:            string(run.Status),
		StartPage:         run.StartPage,
		EndPage:           run.EndPage,
		LastCompletedPage: run.LastCompletedPage,
		ResumePage:        run.ResumePage(),
		Collected:         run.Collected,
		Note:              run.Note,
		StartedAt:         run.StartedAt,
		FinishedAt:        run.FinishedAt,
	})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
