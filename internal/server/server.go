// Package server provides the status HTTP server for camrelay. It accepts
// all dependencies as parameters so that both main() and tests can build
// the same handler chain without route drift.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rjsadow/camrelay/internal/diagnostics"
	"github.com/rjsadow/camrelay/internal/metrics"
	"github.com/rjsadow/camrelay/internal/middleware"
)

const shutdownTimeout = 5 * time.Second

// ReadinessChecker reports whether the relay can accept work.
type ReadinessChecker interface {
	CheckWritable() error
}

// App holds all dependencies needed to build the HTTP handler.
type App struct {
	Staging       ReadinessChecker
	DiagCollector *diagnostics.Collector
	Logger        *slog.Logger
}

// Handler builds and returns the complete HTTP handler with all routes
// registered and middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	h := &handlers{app: a, log: a.logger()}

	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/status", h.handleStatus)

	return middleware.SecurityHeaders(
		middleware.RequestID(
			middleware.AccessLog(h.log)(
				metrics.Middleware(mux))))
}

func (a *App) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// Run serves the status endpoints on addr until ctx is cancelled, then
// shuts the listener down gracefully.
func (a *App) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger().Info("status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
