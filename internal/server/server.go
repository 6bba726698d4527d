package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"mediaserve/internal/cache"
	"mediaserve/internal/config"
	"mediaserve/internal/filesystem"
	"mediaserve/internal/handlers"
	"mediaserve/internal/storage"
)

const (
	shutdownTimeout = 30 * time.Second
	scanCacheSize   = 256
	// Server endpoints live under this prefix so they only hide web root
	// paths that start with "/-/".
	reservedPrefix = "/-"
)

var indexFiles = []string{"index.html", "index.htm"}

type Server struct {
	config       *config.Config
	root         *filesystem.WebRoot
	scans        *cache.ScanCache
	stats        *storage.StatsStore
	httpServer   *http.Server
	mediaHandler *handlers.MediaHandler
	apiHandler   *handlers.APIHandler
	closeOnce    sync.Once
}

func New(cfg *config.Config) (*Server, error) {
	var index []string
	if cfg.IndexFiles {
		index = indexFiles
	}

	root, err := filesystem.New(cfg.WebRoot, cfg.MediaExts, index)
	if err != nil {
		return nil, fmt.Errorf("failed to open web root: %w", err)
	}

	var stats *storage.StatsStore
	var recorder handlers.Recorder
	if cfg.DataDir != "" {
		stats, err = storage.New(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create stats store: %w", err)
		}
		recorder = stats
	}

	var scans *cache.ScanCache
	if cfg.ListingTTL > 0 {
		scans = cache.New(cfg.ListingTTL, scanCacheSize)
	}

	lister := handlers.NewDirectoryLister(root, scans, cfg.BaseURL(), cfg.AppAgents)
	content := handlers.NewContentResponder(cfg.BufferSize)

	mux := http.NewServeMux()
	server := &Server{
		config:       cfg,
		root:         root,
		scans:        scans,
		stats:        stats,
		mediaHandler: handlers.NewMediaHandler(root, content, lister, recorder, cfg.IndexFiles),
		httpServer: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
	if stats != nil {
		server.apiHandler = handlers.NewAPIHandler(stats)
	}

	server.setupRoutes(mux)

	return server, nil
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc(reservedPrefix+"/health", s.handleHealth)

	if s.apiHandler != nil {
		apiHandler := s.loggingMiddleware(http.StripPrefix(reservedPrefix, s.apiHandler).ServeHTTP)
		mux.HandleFunc(reservedPrefix+"/api/stats", apiHandler)
		mux.HandleFunc(reservedPrefix+"/api/stats/", apiHandler)
	}

	mux.HandleFunc("/", s.loggingMiddleware(s.mediaHandler.ServeHTTP))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":        "healthy",
		"stats_enabled": s.stats != nil,
	}
	if s.stats != nil {
		if count, err := s.stats.Count(); err == nil {
			response["tracked_files"] = count
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code and body size
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(wrapped, r)

		duration := time.Since(start)
		log.Printf("%s %s %d %s %v %s", r.Method, r.URL.Path, wrapped.statusCode,
			humanize.Bytes(uint64(wrapped.written)), duration, r.UserAgent())
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and bytes written
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Listen opens the TCP listener, capped at MaxConns simultaneous
// connections when configured.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	if s.config.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConns)
	}
	return ln, nil
}

func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}

	log.Printf("Serving %s on http://%s", s.root.Dir(), ln.Addr())
	log.Printf("Media extensions: %v", s.config.MediaExts)
	log.Printf("Listing base URL: %s", s.config.BaseURL())
	log.Printf("Copy buffer: %s", humanize.IBytes(uint64(s.config.BufferSize)))
	if s.config.MaxConns > 0 {
		log.Printf("Max connections: %d", s.config.MaxConns)
	}
	if s.scans != nil {
		log.Printf("Listing cache TTL: %v", s.config.ListingTTL)
	}
	log.Printf("Access stats: %v", s.stats != nil)
	log.Printf("Health endpoint: %s", reservedPrefix+"/health")
	if s.apiHandler != nil {
		log.Printf("Stats endpoint: %s", reservedPrefix+"/api/stats")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = s.Run(ctx, ln)
	s.close()
	log.Println("Server shutdown complete")
	return err
}

// Run serves ln until ctx is cancelled or serving fails, then shuts the
// HTTP server down gracefully.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
			return err
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if cerr := s.close(); err == nil {
		err = cerr
	}
	return err
}

// close releases the scan cache and the stats store exactly once
func (s *Server) close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.scans != nil {
			s.scans.Close()
		}
		if s.stats != nil {
			if err = s.stats.Close(); err != nil {
				log.Printf("Error closing stats store: %v", err)
			}
		}
	})
	return err
}
