package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/deploy"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/middleware"
)

// Options configures a Server.
type Options struct {
	Server   config.ServerConfig
	Metrics  config.MetricsConfig
	Encoding extract.Encoding
}

// Server owns the loaded artifact and the HTTP surface around it.
type Server struct {
	opts    Options
	loader  Loader
	handler *Handler
	checker *health.Checker
	metrics *metrics.Metrics
	reload  sync.Mutex
	logger  *slog.Logger
}

// New returns a Server that serves whatever loader produces. Nothing is
// loaded until Load is called.
func New(opts Options, loader Loader) *Server {
	var m *metrics.Metrics
	if opts.Metrics.Enabled {
		m = metrics.New()
	}
	s := &Server{
		opts:    opts,
		loader:  loader,
		handler: NewHandler(opts.Encoding, m),
		checker: health.NewChecker(opts.Server.RequestTimeout),
		metrics: m,
		logger:  logger.WithComponent("host"),
	}
	s.checker.Register("artifact", func(ctx context.Context) health.ComponentHealth {
		snap := s.handler.Snapshot()
		if snap == nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no artifact loaded"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents from %s, digest %.12s", snap.Index.Directory.DocumentCount, snap.Source, snap.Digest),
		}
	})
	return s
}

// Checker exposes the health checker so callers can register the checks of
// the dependencies they wire in.
func (s *Server) Checker() *health.Checker { return s.checker }

// Handler exposes the search handler.
func (s *Server) Handler() *Handler { return s.handler }

// Load loads the artifact for the first time. The host refuses to start on
// any load error.
func (s *Server) Load(ctx context.Context) error {
	return s.Reload(ctx)
}

// Reload loads a fresh snapshot and swaps it in. On failure the current
// snapshot, if any, keeps being served.
func (s *Server) Reload(ctx context.Context) error {
	s.reload.Lock()
	defer s.reload.Unlock()

	snap, err := s.loader(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ArtifactReloadsTotal.WithLabelValues("failure").Inc()
		}
		return err
	}
	old := s.handler.Swap(snap)
	if s.metrics != nil {
		s.metrics.ArtifactReloadsTotal.WithLabelValues("success").Inc()
	}
	dir := snap.Index.Directory
	attrs := []any{
		"source", snap.Source,
		"documents", dir.DocumentCount,
		"terms", len(dir.Terms),
		"postings_chunks", dir.PostingsChunks,
		"document_chunks", dir.DocumentChunks,
		"digest", snap.Digest,
	}
	if old != nil {
		attrs = append(attrs, "previous_digest", old.Digest)
	}
	s.logger.Info("artifact loaded", attrs...)
	return nil
}

// DeployHandler returns a Kafka message handler that reloads the host when a
// deployment of target is announced with a directory different from the one
// being served. Undecodable messages are logged and skipped.
func (s *Server) DeployHandler(target deploy.Target) kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		event, err := kafka.DecodeJSON[deploy.Event](value)
		if err != nil {
			s.logger.Warn("skipping malformed deploy event", "key", string(key), "error", err)
			return nil
		}
		if !target.Matches(event) {
			return nil
		}
		if snap := s.handler.Snapshot(); snap != nil && snap.Digest == event.Digest {
			s.logger.Debug("deploy event matches served artifact", "digest", event.Digest)
			return nil
		}
		s.logger.Info("deployment announced, reloading", "target", target.String(), "digest", event.Digest)
		if err := s.Reload(ctx); err != nil {
			s.logger.Error("reload failed, keeping current artifact", "error", err)
			return err
		}
		return nil
	}
}

// Routes returns the full HTTP handler including middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", s.handler.Search)
	mux.HandleFunc("GET /api/v1/search", s.handler.Search)
	mux.HandleFunc("GET /api/v1/artifact", s.handler.Artifact)
	mux.HandleFunc("GET /health/live", s.checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", s.checker.ReadyHandler())
	if s.metrics != nil && s.opts.Metrics.Port == 0 {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(s.opts.Server.RequestTimeout)(chain)
	if s.metrics != nil {
		chain = middleware.Metrics(s.metrics)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)
	return chain
}

// Run listens on the configured port until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Server.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.opts.Server.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
// within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.handler.Snapshot() == nil {
		ln.Close()
		return errors.New("serving before an artifact was loaded")
	}
	server := &http.Server{
		Handler:      s.Routes(),
		ReadTimeout:  s.opts.Server.ReadTimeout,
		WriteTimeout: s.opts.Server.WriteTimeout,
	}

	var stopMetrics func(context.Context) error
	if s.metrics != nil && s.opts.Metrics.Port > 0 {
		stopMetrics = s.metrics.StartServer(s.opts.Metrics.Port)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("evaluator host listening", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.Server.ShutdownTimeout)
	defer cancel()
	if stopMetrics != nil {
		if err := stopMetrics(shutdownCtx); err != nil {
			s.logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	s.logger.Info("evaluator host stopped")
	return nil
}
