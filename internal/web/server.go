package web

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/gather/internal/config"
	"github.com/hpungsan/gather/internal/scheduler"
	"github.com/hpungsan/gather/internal/sink"
)

// NewServer creates the read-only HTTP status server.
// sched may be nil when no scheduler runs in this process.
func NewServer(db *sql.DB, cfg *config.Config, s *sink.Sink, sched *scheduler.Scheduler, version string, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handlers{
		db:      db,
		cfg:     cfg,
		sink:    s,
		sched:   sched,
		version: version,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /cycles", h.HandleCycles)
	mux.HandleFunc("GET /cycles/{id}", h.HandleCycle)
	mux.HandleFunc("GET /files", h.HandleFiles)

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Status.Bind, cfg.Status.Port),
		Handler:           securityHeaders(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("status server listening", zap.String("addr", srv.Addr))
	if strings.HasPrefix(srv.Addr, "0.0.0.0:") || strings.HasPrefix(srv.Addr, "[::]:") || strings.HasPrefix(srv.Addr, ":") {
		logger.Warn("status server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
