package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cjeanneret/timelapser/internal/debug"
)

// Options configures NewServer.
type Options struct {
	Addr        string
	Broadcaster *StatusBroadcaster
	Status      *Tracker
	Abort       AbortFunc
	History     History
	// LatestFrameRate and LatestFrameBurst bound GET /frames/latest.
	LatestFrameRate  float64
	LatestFrameBurst int
}

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(opts Options) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: static fs: %w", err)
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = NewStatusBroadcaster()
	}
	if opts.Status == nil {
		opts.Status = NewTracker("", opts.Broadcaster)
	}
	var limiter *rate.Limiter
	if opts.LatestFrameRate > 0 {
		burst := opts.LatestFrameBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.LatestFrameRate), burst)
	}

	h := NewHandlers(opts.Broadcaster, opts.Status, opts.Abort, limiter, subFS)
	h.History = opts.History
	return &Server{addr: opts.Addr, handlers: h}, nil
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handlers.HandleStatus)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.HandleFunc("GET /frames/latest", s.handlers.HandleLatestFrame)
	mux.HandleFunc("POST /abort", s.handlers.HandleAbort)
	mux.HandleFunc("GET /runs", s.handlers.HandleRuns)
	mux.HandleFunc("GET /runs/{id}", s.handlers.HandleRun)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx so open SSE streams let Shutdown finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Status server listening on http://%s", ln.Addr())
		errCh <- srv.Serve(ln)
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
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return srv.Close()
		}
		return nil
	}
}
