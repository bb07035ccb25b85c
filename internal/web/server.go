package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cjeanneret/RollGo/internal/debug"
)

// maxBodyBytes bounds request bodies; no route reads more than a few bytes.
const maxBodyBytes = 1 << 16

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server for addr serving the embedded UI. frames may
// be nil, in which case the /frames routes answer 404.
func NewServer(addr string, broadcaster *StatusBroadcaster, ctrl Rolling, latest FrameSource, frames FrameIndex) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: static files: %w", err)
	}
	h := NewHandlers(broadcaster, ctrl, latest, subFS)
	h.Frames = frames
	return &Server{addr: addr, handlers: h}, nil
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(limitBody)

	r.Route("/rolling", func(r chi.Router) {
		r.Post("/start", s.handlers.HandleStart)
		r.Post("/stop", s.handlers.HandleStop)
	})
	r.Get("/state", s.handlers.HandleState)
	r.Get("/frame/latest", s.handlers.HandleLatestFrame)
	r.Get("/frames", s.handlers.HandleFrames)
	r.Get("/frames/count", s.handlers.HandleFrameCount)
	r.Get("/status/stream", s.handlers.HandleStatusStream)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	r.Get("/", s.handlers.ServeIndex)

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Requests inherit ctx so SSE streams end instead of holding Shutdown open.
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
