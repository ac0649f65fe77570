// Package server exposes the Client Channel upgrade endpoint over HTTP.
// Unlike the teacher it embeds no frontend: this core is consumed by an
// out-of-scope collaborator that owns the browser UI and the metadata
// HTTP API described in the external interfaces.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/houx15fork/agentbridge/internal/broker"
)

// Server runs the HTTP listener that upgrades /ws requests to Client
// Channels.
type Server struct {
	httpServer *http.Server
}

// New builds a Server bound to cfg.Port, routing /ws to the broker's
// Gateway and /healthz to a trivial liveness check.
func New(b *broker.Broker) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.Gateway.HandleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("0.0.0.0:%d", b.Config.Port),
			Handler: mux,
		},
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully within a fixed deadline.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
