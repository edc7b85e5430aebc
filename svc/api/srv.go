package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"

	"upldis/cfg"
	"upldis/svc/lim"
	"upldis/svc/svc"
	"upldis/svc/util"
)

// Pinger is anything the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server owns two listeners: the public paste surface and an admin surface
// for probes, metrics, profiling and cache purges. Keeping them apart leaves
// every public GET path free to be a paste id.
type Server struct {
	router      *chi.Mux
	admin       *chi.Mux
	paste       *svc.Paste
	cfg         *cfg.Cfg
	store       Pinger
	edge        Pinger
	httpServer  *http.Server
	adminServer *http.Server
}

func NewServer(c *cfg.Cfg, p *svc.Paste, l *lim.Limiter, store, edge Pinger) *Server {
	s := &Server{
		paste: p,
		cfg:   c,
		store: store,
		edge:  edge,
	}
	mw := NewMw(l, c)
	hdl := NewHdl(p)

	r := chi.NewRouter()
	r.Use(mw.Recoverer)
	r.Use(mw.RequestID)
	r.Use(hlog.NewHandler(util.GetLogger()))
	r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(req).Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("ip", util.RedactIP(lim.GetRealIP(req, c.TrustedProxies))).
			Int("status", status).
			Int("size", size).
			Dur("duration", dur).
			Str("request_id", util.GetRequestID(req.Context())).
			Msg("http request")
	}))
	r.Use(mw.ContextTimeout)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Instrument)
	r.With(mw.RateLimit(lim.EndpointInfo)).Get("/", hdl.Info)
	r.With(mw.RateLimit(lim.EndpointRetrieve)).Get("/*", hdl.Retrieve)
	r.With(mw.RateLimit(lim.EndpointUpload)).Put("/", hdl.Upload)
	r.With(mw.RateLimit(lim.EndpointUpload)).Put("/*", hdl.Upload)
	r.NotFound(hdl.Forbidden)
	r.MethodNotAllowed(hdl.Forbidden)
	s.router = r

	a := chi.NewRouter()
	a.Use(mw.Recoverer)
	a.Get("/health", s.Health)
	a.Get("/ready", s.Ready)
	a.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	a.With(mw.BasicAuthMetrics).Post("/purge/{tag}", s.Purge)
	a.Mount("/debug", middleware.Profiler())
	s.admin = a

	s.httpServer = &http.Server{
		Addr:    ":" + c.Port,
		Handler: r,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	if c.AdminPort != "" {
		s.adminServer = &http.Server{
			Addr:              ":" + c.AdminPort,
			Handler:           a,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Admin is the handler served on the admin listener.
func (s *Server) Admin() http.Handler {
	return s.admin
}
func (s *Server) SetTimeouts(read, write, idle time.Duration) {
	s.httpServer.ReadTimeout = read
	s.httpServer.WriteTimeout = write
	s.httpServer.IdleTimeout = idle
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) StartAdmin() error {
	if s.adminServer == nil {
		return nil
	}
	util.Info().Str("port", s.cfg.AdminPort).Msg("starting admin server")
	if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.AdminPort).Msg("admin server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	var adminErr error
	if s.adminServer != nil {
		adminErr = s.adminServer.Shutdown(ctx)
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	return adminErr
}
