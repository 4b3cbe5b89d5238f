package web

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"golang.org/x/time/rate"

	"github.com/cjeanneret/zphocus/internal/debug"
)

// Options configures the panel server.
type Options struct {
	Addr string
	// CommandRate is the sustained number of commands per second accepted
	// from each page and from the REST API, CommandBurst the burst size.
	CommandRate  float64
	CommandBurst int
}

// Server wraps the HTTP server, handlers and websocket hub.
type Server struct {
	addr     string
	handlers *Handlers
	hub      *Hub
}

// NewServer creates a server for the panel ctrl. Log lines fed into
// broadcaster are streamed to /status/stream.
func NewServer(opts Options, ctrl Controller, broadcaster *StatusBroadcaster) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: failed to sub static fs: %w", err)
	}
	limit := rate.Limit(opts.CommandRate)
	limiter := rate.NewLimiter(limit, opts.CommandBurst)

	return &Server{
		addr:     opts.Addr,
		handlers: NewHandlers(broadcaster, ctrl, limiter, subFS),
		hub:      NewHub(ctrl, limit, opts.CommandBurst),
	}, nil
}

// Hub returns the websocket hub, to be fed with panel changes and alerts.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	h := s.handlers
	root := chi.NewRouter()
	root.Use(middleware.RequestID)
	root.Use(middleware.Recoverer)

	root.Get("/", h.ServeIndex)
	root.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	root.Get("/ws", s.hub.ServeHTTP)
	root.Get("/status/stream", h.HandleStatusStream)

	root.Route("/api", func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Get("/state", h.HandleState)
		r.Group(func(r chi.Router) {
			r.Use(h.Throttle)
			r.Post("/goto", h.HandleGoto)
			r.Post("/jog", h.HandleJog)
			r.Post("/speed", h.HandleSpeed)
		})
		r.Post("/stop", h.HandleStop)
	})
	return root
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
		// SSE streams end with ctx
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
