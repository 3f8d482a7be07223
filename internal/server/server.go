// Package server wires the HTTP surface: the WebSocket endpoint, the REST
// API for file transcription and model control, health probes, and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lmikkelsen/parlance/internal/archive"
	"github.com/lmikkelsen/parlance/internal/auth"
	"github.com/lmikkelsen/parlance/internal/health"
	"github.com/lmikkelsen/parlance/internal/jobs"
	"github.com/lmikkelsen/parlance/internal/models"
	"github.com/lmikkelsen/parlance/internal/observe"
	"github.com/lmikkelsen/parlance/internal/session"
)

// shutdownTimeout bounds graceful drain of in-flight requests.
const shutdownTimeout = 15 * time.Second

// Config carries the server's construction parameters.
type Config struct {
	ListenAddr string

	Store    *auth.Store
	Sessions *session.Manager
	Models   *models.Manager
	Tracker  *jobs.Tracker
	Archive  archive.Store // nil disables archiving

	// EngineName labels transcription metrics (whisper-native, openai).
	EngineName string

	// HealthCheckers feed the /readyz probe.
	HealthCheckers []health.Checker
}

// Server is the HTTP front of the transcription service.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	httpSrv *http.Server
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds the server and its routes.
func New(cfg Config, opts ...Option) *Server {
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the full route tree. The WebSocket endpoint bypasses the
// observability middleware: the middleware's response wrapper hides
// http.Hijacker, which the upgrade needs.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/transcribe/audio", s.handleTranscribeAudio)
	api.HandleFunc("POST /api/transcribe/cancel", s.handleTranscribeCancel)
	api.HandleFunc("GET /api/status", s.handleStatus)
	api.HandleFunc("POST /api/models/load", s.handleModelLoad)
	api.HandleFunc("POST /api/models/unload", s.handleModelUnload)
	health.New(s.cfg.HealthCheckers...).Register(api)
	api.Handle("GET /metrics", promhttp.Handler())

	root := http.NewServeMux()
	root.HandleFunc("GET /ws", s.cfg.Sessions.HandleWS)
	root.Handle("/", observe.Middleware(s.metrics)(api))
	return root
}

// Run serves until ctx is cancelled, then drains connections and tears down
// live sessions.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("http server listening", "addr", s.cfg.ListenAddr)
		if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.cfg.Sessions.CloseAll()
		return s.httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// identify resolves the caller of an API request. Loopback connections get
// the synthesized admin identity; everyone else needs a valid bearer token.
func (s *Server) identify(r *http.Request) (auth.Identity, bool) {
	if auth.IsLocalhost(r.RemoteAddr) {
		return auth.LocalhostIdentity(), true
	}
	token := bearerToken(r)
	if token == "" {
		return auth.Identity{}, false
	}
	id, err := s.cfg.Store.Authenticate(token)
	if err != nil {
		return auth.Identity{}, false
	}
	return id, true
}

// bearerToken extracts the token from a "Bearer <token>" Authorization
// header. Missing headers and other schemes yield the empty string.
func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return token
}
