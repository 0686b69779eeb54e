// Package server runs the status endpoint beside an extraction run.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/lakeextract/internal/core/health"
	"github.com/mohammed-shakir/lakeextract/internal/core/middleware"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
)

// Router mounts /healthz, /readyz and /metrics.
func Router(log *slog.Logger, metrics http.Handler, progress health.ProgressReporter) http.Handler {
	log = logger.OrDiscard(log)
	r := chi.NewRouter()
	r.Use(middleware.Recover(log))
	r.Use(middleware.Logging(log))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(progress))
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

// Run serves h on addr until ctx is done.
func Run(ctx context.Context, addr string, log *slog.Logger, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, log, h)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, log *slog.Logger, h http.Handler) error {
	log = logger.OrDiscard(log)
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("status server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
