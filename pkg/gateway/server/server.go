package server

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/handlers"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

// Deps are the process-wide components the HTTP surface serves.
type Deps struct {
	Sessions *session.Manager
	Guards   *resilience.Set
	Emitter  *events.Emitter
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Deps

	limiter *ratelimit.Limiter
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxConcurrentStreams:  cfg.LimitMaxConcurrentStreams,
		}),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{
		Config:   s.cfg,
		Sessions: s.deps.Sessions,
		Guards:   s.deps.Guards,
	})

	handlers.SessionsHandler{
		Config:   s.cfg,
		Sessions: s.deps.Sessions,
		Logger:   s.logger,
	}.Register(s.mux)

	s.mux.Handle("GET /v1/live", handlers.LiveHandler{
		Config:   s.cfg,
		Sessions: s.deps.Sessions,
		Logger:   s.logger,
	})
	s.mux.Handle("/v1/live", handlers.MethodNotAllowed(http.MethodGet))

	s.mux.Handle("GET /v1/errors/stats", handlers.ErrorStatsHandler{Emitter: s.deps.Emitter})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Handler returns the routed mux behind the middleware chain. RequestID runs
// first so every later layer, including access logs, sees the id.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Timeout(s.cfg.HandlerTimeout, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// HTTPServer builds the listener-facing server with the configured timeouts.
// WriteTimeout stays zero so live connections are not cut off.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
}
