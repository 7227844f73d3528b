/*
Package api is the Request/Stream Surface (component F): it binds the
Collection Store engine to HTTP, exposing collection administration,
record mutation, and a streaming subscription endpoint.
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quipubase/quipubase-go/internal/store"
	"go.uber.org/zap"
)

// Server wraps a chi router and the stdlib HTTP server, following the
// teacher's separation of route wiring from process lifecycle.
type Server struct {
	mux        *chi.Mux
	httpServer *http.Server
	logger     *zap.Logger
}

// Options configures a Server.
type Options struct {
	Addr              string
	Engine            *store.Engine
	Logger            *zap.Logger
	KeepAliveInterval time.Duration
	ShuttingDown      func() bool
}

// NewServer builds the middleware chain and mounts every route.
func NewServer(opts Options) *Server {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(zapRequestLogger(opts.Logger))
	mux.Use(middleware.Recoverer)
	// No blanket request timeout here: the streaming GET route must be able
	// to hold its connection open indefinitely (see handlers.mount, which
	// applies middleware.Timeout only to the routes meant to complete
	// quickly).

	h := &handlers{
		engine:            opts.Engine,
		logger:            opts.Logger,
		keepAliveInterval: opts.KeepAliveInterval,
		shuttingDown:      opts.ShuttingDown,
	}
	h.mount(mux)

	return &Server{
		mux:    mux,
		logger: opts.Logger,
		httpServer: &http.Server{
			Addr:    opts.Addr,
			Handler: mux,
		},
	}
}

// ListenAndServe starts serving; it returns http.ErrServerClosed on a
// graceful Shutdown.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Handler exposes the underlying router for in-process testing via
// httptest, without binding a network listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Shutdown gracefully stops accepting new connections and waits up to the
// context's deadline for in-flight requests to complete.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
