package web

import (
	"context"
	"io/fs"
	"log"
	"maps"
	"net/http"
	"time"
)

// DefaultPumpInterval is how often the status pump samples the engine.
const DefaultPumpInterval = 200 * time.Millisecond

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	interval time.Duration
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, engine Engine, ticks TickReader, info ConfigInfo) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}

	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, engine, ticks, info, subFS),
		interval: DefaultPumpInterval,
	}
}

// SetPumpInterval changes the status pump period. Values <= 0 are ignored.
func (s *Server) SetPumpInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /drive", s.handlers.HandleDrive)
	mux.HandleFunc("POST /stop", s.handlers.HandleStop)
	mux.HandleFunc("POST /estop", s.handlers.HandleEmergencyStop)
	mux.HandleFunc("DELETE /estop", s.handlers.HandleEmergencyStop)
	mux.HandleFunc("POST /speed", s.handlers.HandleSpeed)
	mux.HandleFunc("GET /ticks", s.handlers.HandleTicks)
	mux.HandleFunc("GET /status", s.handlers.HandleStatus)
	mux.HandleFunc("GET /config", s.handlers.HandleConfig)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Snapshot is the payload of "status" events on the stream.
type Snapshot struct {
	Status any               `json:"status,omitempty"`
	Ticks  map[string]uint64 `json:"ticks,omitempty"`
}

// pump broadcasts a Snapshot whenever the engine state or the counters
// change, until ctx is done.
func (s *Server) pump(ctx context.Context) {
	h := s.handlers
	if h.Engine == nil && h.Ticks == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var snap Snapshot
		if h.Engine != nil {
			snap.Status = h.Engine.Status()
		}
		if h.Ticks != nil {
			snap.Ticks = tickSnapshot(h.Ticks)
		}
		if snap.Status == last.Status && maps.Equal(snap.Ticks, last.Ticks) {
			continue
		}
		last = snap
		h.Broadcaster.BroadcastStatus(snap)
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	log.Printf("web server listening on %s", s.addr)
	return http.ListenAndServe(s.addr, s.Mux())
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully. Drives started over HTTP are cancelled with ctx.
func (s *Server) Run(ctx context.Context) error {
	s.handlers.ctx = ctx
	go s.pump(ctx)

	srv := &http.Server{Addr: s.addr, Handler: s.Mux()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
