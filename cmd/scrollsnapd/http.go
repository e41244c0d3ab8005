package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ============================================================================
// HTTP Server
// ============================================================================
// Serves the state WebSocket feed and a JSON status endpoint.
//
//   GET /ws/state    WebSocket: state_init, lock_changed, stats
//   GET /api/status  Status as JSON
// ============================================================================

// newHTTPMux wires the daemon's HTTP endpoints.
func newHTTPMux(ws *StateServer, requests chan<- daemonRequest, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	if ws != nil {
		ws.Register(mux, "/ws/state")
	}
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), ipcRequestTimeout)
		defer cancel()

		st, err := requestStatus(ctx, requests)
		if err != nil {
			logger.Warn("status request failed", "error", err)
			http.Error(w, "daemon unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(st); err != nil {
			logger.Debug("status write failed", "error", err)
		}
	})
	return mux
}

// runHTTPServer serves handler on port and shuts down gracefully when ctx is
// canceled.
func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("http server listening", "port", port)

	errCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
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
