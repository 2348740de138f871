package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bamsammich/logsync/internal/metrics"
)

// shutdownGrace bounds how long in-flight uploads may run after shutdown
// starts.
const shutdownGrace = 30 * time.Second

// ServerConfig configures the ingestion HTTP server.
type ServerConfig struct {
	ListenAddr string
	Upload     *Handler
	// Release serves GET /update. Nil answers 404.
	Release http.Handler
	Metrics bool
	Version string
	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string
	Logger      *slog.Logger
}

// Server serves uploads until its context is cancelled.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	http     *http.Server
	logger   *slog.Logger
}

// NewServer listens on cfg.ListenAddr. Call Serve to start handling requests.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Upload == nil {
		return nil, errors.New("upload handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	s := &Server{cfg: cfg, listener: listener, logger: logger}
	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 30 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s, nil
}

// Addr returns the listener's address (useful when listening on :0).
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /upload", s.cfg.Upload)
	if s.cfg.Release != nil {
		mux.Handle("GET /update", s.cfg.Release)
	} else {
		mux.HandleFunc("GET /update", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "Update file not found", http.StatusNotFound)
		})
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.Metrics {
		mux.Handle("GET /metrics", metrics.Handler())
		return metrics.Middleware(mux)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

// Serve handles requests until ctx is cancelled. In-flight uploads get
// shutdownGrace to finish; temp files of uploads cut off after that are
// removed. Blocks until shutdown completes.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("logsync server listening",
		"addr", s.listener.Addr().String(),
		"upload_dir", s.cfg.Upload.cfg.UploadDir,
		"tls", s.tls())

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		shutdownErr <- s.http.Shutdown(sctx)
	}()

	var err error
	if s.tls() {
		err = s.http.ServeTLS(s.listener, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		err = s.http.Serve(s.listener)
	}
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	err = <-shutdownErr
	s.cfg.Upload.Close()
	if err != nil {
		s.logger.Warn("shutdown did not complete cleanly", "error", err)
	}
	s.logger.Info("logsync server stopped")
	return nil
}

func (s *Server) tls() bool {
	return s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != ""
}
