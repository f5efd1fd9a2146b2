package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"commodity-intel/internal/service"
	"commodity-intel/internal/stats"
)

const shutdownTimeout = 10 * time.Second

// Options configure the JSON API.
type Options struct {
	Addr         string
	Mode         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ZScore       stats.Params
	Now          func() time.Time
}

// Server exposes the orchestrator over HTTP.
type Server struct {
	opts   Options
	orch   *service.Orchestrator
	source service.CommoditySource
	prices service.PriceHistory
	engine *gin.Engine
	logger zerolog.Logger
}

// New builds the router. prices may be nil, in which case no z-scores are
// computed and every commodity is treated as unknown.
func New(opts Options, orch *service.Orchestrator, source service.CommoditySource, prices service.PriceHistory, logger zerolog.Logger) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}

	s := &Server{
		opts:   opts,
		orch:   orch,
		source: source,
		prices: prices,
		engine: gin.New(),
		logger: logger.With().Str("component", "http").Logger(),
	}
	s.engine.Use(gin.Recovery(), requestLogger(s.logger))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)

	api := s.engine.Group("/api/v1")
	{
		api.GET("/analysis", s.analysis)
		api.GET("/analysis/:commodity", s.commodityAnalysis)
		api.GET("/categories", s.categories)
		api.GET("/zscores", s.zscores)
		api.GET("/ratelimit", s.rateLimit)
	}
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
