package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"postpilot/internal/analytics"
	"postpilot/internal/paraphrase"
	"postpilot/internal/pipeline"
	"postpilot/internal/scheduler"
	logx "postpilot/pkg/logx"
)

// Config controls the HTTP facade.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Global token bucket across all requests. 0 disables limiting.
	RatePerSec int
	Burst      int
}

// Server exposes the scheduling engine over HTTP. It is a thin layer:
// validation and JSON in, registry/pipeline calls out.
type Server struct {
	log   logx.Logger
	cfg   Config
	reg   *scheduler.Registry
	pipe  *pipeline.Pipeline
	para  *paraphrase.Client
	an    *analytics.Log
	start time.Time

	limiter *rate.Limiter
}

func NewServer(cfg Config, reg *scheduler.Registry, pipe *pipeline.Pipeline, para *paraphrase.Client, an *analytics.Log, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		log:   log.With(logx.String("comp", "api")),
		cfg:   cfg,
		reg:   reg,
		pipe:  pipe,
		para:  para,
		an:    an,
		start: time.Now(),
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.RatePerSec
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return s
}

// Router builds the chi mux with the full API surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(s.rateLimit)

	r.Route("/api", func(r chi.Router) {
		r.Post("/schedule", s.handleSchedule)
		r.Post("/auto-schedule", s.handleAutoSchedule)
		r.Post("/post-now", s.handlePostNow)
		r.Post("/trigger-overdue", s.handleTriggerOverdue)
		r.Post("/preview-paraphrase", s.handlePreviewParaphrase)

		r.Get("/scheduled", s.handleListScheduled)
		r.Delete("/scheduled/{id}", s.handleCancel)
		r.Get("/scheduling-stats", s.handleStats)
		r.Get("/analytics", s.handleAnalytics)
		r.Get("/health", s.handleHealth)
	})

	return r
}

// HTTPServer wraps the router in a configured http.Server.
func (s *Server) HTTPServer() *http.Server {
	addr := s.cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:3000"
	}
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
}
