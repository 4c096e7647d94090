// Package admin serves process diagnostics on a separate listener.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Stats is the live view of the content server.
type Stats interface {
	Served() int64
	Active() int64
}

type StatsFunc struct {
	ServedFunc func() int64
	ActiveFunc func() int64
}

func (s StatsFunc) Served() int64 { return s.ServedFunc() }
func (s StatsFunc) Active() int64 { return s.ActiveFunc() }

type statsResponse struct {
	Served         int64     `json:"served"`
	ActiveSessions int64     `json:"active_sessions"`
	Timestamp      time.Time `json:"timestamp"`
}

type Server struct {
	stats      Stats
	logger     *slog.Logger
	httpServer *http.Server
}

func New(addr string, stats Stats, logger *slog.Logger) *Server {
	server := &Server{
		stats:  stats,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", server.handleHealth)
	mux.HandleFunc("GET /stats", server.handleStats)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "admin"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server
}

func (server *Server) Handler() http.Handler {
	return server.httpServer.Handler
}

func (server *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (server *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := statsResponse{
		Served:         server.stats.Served(),
		ActiveSessions: server.stats.Active(),
		Timestamp:      time.Now(),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		server.logger.Error("admin stats", "error", err)
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", server.httpServer.Addr)
	if err != nil {
		server.logger.Error("admin listen", "error", err)
		return err
	}
	return server.Serve(ctx, listener)
}

func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("admin listening", "addr", listener.Addr().String())
		if err := server.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			server.logger.Error("admin serve", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin: shutdown failed: %w", err)
	}
	return nil
}
