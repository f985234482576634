package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/montycloud/moya/internal/memory"
	"github.com/montycloud/moya/internal/metrics"
	"github.com/montycloud/moya/internal/orchestrator"
)

// Options configura il server HTTP.
type Options struct {
	Addr           string
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	MetricsEnabled bool
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Server espone l'orchestratore via HTTP: chat sincrona e streaming,
// elenco agenti e accesso ai thread.
type Server struct {
	opts     Options
	engine   *gin.Engine
	orch     orchestrator.Orchestrator
	repo     memory.Repository
	exporter *metrics.Exporter
	httpSrv  *http.Server
}

func New(opts Options, orch orchestrator.Orchestrator, repo memory.Repository, exporter *metrics.Exporter) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		// Lo streaming tiene la risposta aperta a lungo.
		opts.WriteTimeout = 5 * time.Minute
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		opts:     opts,
		engine:   engine,
		orch:     orch,
		repo:     repo,
		exporter: exporter,
	}
	s.setupMiddlewares()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddlewares() {
	s.engine.Use(Recovery())
	s.engine.Use(RequestID())
	s.engine.Use(Logging("/health", "/metrics"))
	s.engine.Use(RateLimit(s.opts.RateLimitRPS, s.opts.RateLimitBurst))
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	if s.opts.MetricsEnabled {
		s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	auth := JWTAuth(s.opts.JWTSecret)

	// Superficie consumata dagli agenti remoti: /chat e /chat/stream
	// stanno alla radice come /health.
	s.engine.POST("/chat", auth, s.handleChat)
	s.engine.POST("/chat/stream", auth, s.handleChatStream)

	v1 := s.engine.Group("/v1", auth)
	{
		v1.POST("/chat", s.handleChat)
		v1.POST("/chat/stream", s.handleChatStream)
		v1.GET("/agents", s.handleListAgents)
		v1.GET("/threads/:id/messages", s.handleThreadMessages)
		v1.DELETE("/threads/:id", s.handleDeleteThread)
	}
}

// Handler espone l'engine, utile nei test.
func (s *Server) Handler() http.Handler { return s.engine }

// Run avvia il server e lo arresta in modo pulito alla cancellazione
// del contesto.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.Addr).Msg("server HTTP in ascolto")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("arresto del server in corso")
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
