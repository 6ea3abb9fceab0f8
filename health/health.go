// Package health serves a read-only JSON snapshot of the router state.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hupe1980/neurallink/logging"
	"github.com/hupe1980/neurallink/router"
)

// DefaultAddr listens on the port the hosting platform health-checks.
const DefaultAddr = ":10000"

// Snapshotter provides the state to report.
type Snapshotter interface {
	Snapshot() router.Snapshot
}

// Status is the JSON body of a health response.
type Status struct {
	Status string `json:"status"`
	router.Snapshot
}

// Options configures a Server.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	Logger          logging.Logger
}

// Server is the health HTTP endpoint.
type Server struct {
	src  Snapshotter
	opts Options
}

// NewServer creates a health server reporting src.
func NewServer(src Snapshotter, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:            DefaultAddr,
		ShutdownTimeout: 5 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Server{src: src, opts: opts}
}

// Handler returns the HTTP handler serving GET / and GET /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.serve)
	mux.HandleFunc("GET /{$}", s.serve)
	return mux
}

func (s *Server) serve(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(Status{Status: "ok", Snapshot: s.src.Snapshot()}); err != nil {
		s.opts.Logger.Warn("health.write.failed", "error", err)
	}
}

// Run listens on the configured address until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.opts.Logger.Info("health.started", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health: shutdown: %w", err)
	}
	<-errCh
	s.opts.Logger.Info("health.stopped")
	return nil
}
