package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ============================================================================
// HTTP server
// ============================================================================
// Serves the state websocket, prometheus metrics and a liveness probe.
// ============================================================================

func newHTTPMux(cfg HTTPConfig, ws *Server, metrics *Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	if ws != nil {
		ws.Register(mux, cfg.WSPath)
	}
	if metrics != nil {
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{
			Registry: metrics.Registry(),
		}))
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// runHTTPServer serves handler on addr and shuts down gracefully when ctx is
// canceled.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("HTTP listen on %s: %w", addr, err)
	}
	return serveHTTP(ctx, ln, handler, logger)
}

func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("HTTP server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		// Serve returns http.ErrServerClosed after Shutdown.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
