// Package server hosts the HTTP router and its middleware chain.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options configures the HTTP server.
type Options struct {
	Addr         string
	MaxBodyBytes int64
	ServiceName  string
}

type Server struct {
	Router *chi.Mux
	logger *slog.Logger
	http   *http.Server
}

func New(opts Options, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	// Apply middleware in order. The request logger goes first so later
	// middleware and handlers can attach attributes to its line.
	r.Use(LoggingMiddleware(logger))
	r.Use(RequestIDMiddleware)
	r.Use(TraceContextMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(BodyLimitMiddleware(opts.MaxBodyBytes))

	// Wrap with OpenTelemetry HTTP instrumentation
	name := opts.ServiceName
	if name == "" {
		name = "messages-bridge"
	}
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, name)
	})

	s := &Server{
		Router: r,
		logger: logger,
	}
	// No write timeout: streamed responses stay open as long as the upstream does.
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve accepts connections on ln until Shutdown is called. It returns nil
// after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.http.Shutdown(ctx)
}
