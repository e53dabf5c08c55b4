// Package api exposes the execution engine over HTTP. One POST endpoint per
// supported tool, a WebSocket endpoint for streamed output, and read-only
// endpoints for health, tool status, and the audit trail.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/clawinfra/kubeclaw/internal/audit"
	"github.com/clawinfra/kubeclaw/internal/engine"
	"github.com/clawinfra/kubeclaw/internal/executor"
	"github.com/clawinfra/kubeclaw/internal/types"
)

// Server is the HTTP API server.
type Server struct {
	addr       string
	engine     *engine.Engine
	exec       *executor.Executor
	audit      *audit.Log // optional; nil disables /audit/recent
	logger     *slog.Logger
	httpServer *http.Server
	started    time.Time
}

// NewServer creates a new API server. exec is used directly for the tool
// status probes; all command requests go through the engine.
func NewServer(addr string, eng *engine.Engine, exec *executor.Executor, auditLog *audit.Log, logger *slog.Logger) *Server {
	return &Server{
		addr:   addr,
		engine: eng,
		exec:   exec,
		audit:  auditLog,
		logger: logger.With("component", "api"),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	for _, tool := range types.Tools {
		mux.HandleFunc("/tools/"+string(tool), s.toolHandler(tool))
	}
	mux.HandleFunc("/tools/status", s.handleToolStatus)
	mux.HandleFunc("/ws/exec", s.handleExecWS)
	mux.HandleFunc("/audit/recent", s.handleAuditRecent)
	mux.HandleFunc("/health", s.handleHealth)

	s.started = time.Now()
	// No WriteTimeout: command responses can legitimately take minutes.
	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     s.corsMiddleware(s.loggingMiddleware(mux)),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

// handleAuditRecent returns the newest audit entries.
func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "audit log is disabled")
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := parseLimit(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		limit = n
	}
	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, toAuditPayload(entries))
}
