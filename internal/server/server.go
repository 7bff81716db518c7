package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/liverelay/internal/config"
	"github.com/gaspardpetit/liverelay/internal/gateway"
	"github.com/gaspardpetit/liverelay/internal/inflight"
	"github.com/gaspardpetit/liverelay/internal/live"
	"github.com/gaspardpetit/liverelay/internal/metrics"
	"github.com/gaspardpetit/liverelay/internal/relay"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	SHA     string
	Date    string
}

// Server is the relay HTTP surface.
type Server struct {
	cfg      config.ServerConfig
	info     BuildInfo
	started  time.Time
	registry *prometheus.Registry
	conns    *inflight.Counter
	router   chi.Router
}

// LiveConfig derives the upstream session settings from cfg.
func LiveConfig(cfg config.ServerConfig) live.Config {
	return live.Config{
		URL:            cfg.LiveURL,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		Transcriptions: cfg.Transcriptions,
		DialTimeout:    cfg.DialTimeout,
	}
}

// New builds the router. A nil dialer dials the Gemini Live API described
// by cfg.
func New(cfg config.ServerConfig, dialer relay.Dialer, info BuildInfo) *Server {
	if dialer == nil {
		dialer = relay.LiveDialer{Base: LiveConfig(cfg)}
	}
	s := &Server{
		cfg:      cfg,
		info:     info,
		started:  time.Now(),
		registry: prometheus.NewRegistry(),
		conns:    inflight.Connections(),
	}
	metrics.Register(s.registry)
	metrics.SetServerBuildInfo(info.Version, info.SHA, info.Date)

	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	for _, m := range middlewareChain() {
		r.Use(m)
	}

	r.Get("/", s.index)
	r.Get("/healthz", s.health)
	r.Get("/health", s.health)
	r.Get("/api/v1/health", s.health)
	r.Get("/api/status", s.status)
	r.Get(cfg.WSPath, gateway.Handler(gateway.Config{
		AllowedOrigins: originPatterns(cfg.AllowedOrigins),
		Connections:    s.conns,
		Relay: relay.Options{
			MaxPayloadBytes:          cfg.MaxPayloadBytes,
			MaxFramesPerRequest:      cfg.MaxFramesPerRequest,
			TurnTimeout:              cfg.TurnTimeout,
			DialTimeout:              cfg.DialTimeout,
			DefaultSystemInstruction: cfg.SystemInstruction,
		},
	}, dialer))
	if cfg.SharedMetrics() {
		r.Handle("/metrics", s.MetricsHandler())
	}
	r.NotFound(notFound)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// MetricsHandler serves the Prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Connections returns the open WebSocket counter used for draining.
func (s *Server) Connections() *inflight.Counter { return s.conns }
