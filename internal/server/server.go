// Package server exposes a backend.Backend over the REST surface the HTTP
// gateway client speaks: /api/apps/{app}/entities, auth, functions and the
// InvokeLLM integration.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"algotrader/internal/backend"
	"algotrader/internal/logging"
	"algotrader/internal/poller"
	"algotrader/internal/resilience"
)

// Config configures a Server.
type Config struct {
	// AppID, when set, is the only app id accepted in /api/apps/{app}.
	AppID string
	// Mode is the gin mode: debug, release or test.
	Mode string

	// LoginPerMinute and LoginBurst limit login and register attempts per
	// client IP. Zero values use 10 per minute with a burst of 5.
	LoginPerMinute int
	LoginBurst     int
	Now            func() time.Time
}

// Server is the HTTP front of a backend.
type Server struct {
	backend *backend.Backend
	appID   string
	engine  *gin.Engine
	logger  zerolog.Logger
	health  *resilience.HealthMonitor
	limiter *rateLimiter
}

// New builds the router for b.
func New(b *backend.Backend, cfg Config, logger zerolog.Logger) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.LoginPerMinute <= 0 {
		cfg.LoginPerMinute = 10
	}
	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = 5
	}
	s := &Server{
		backend: b,
		appID:   cfg.AppID,
		engine:  gin.New(),
		logger:  logger.With().Str("component", "server").Logger(),
		health:  newHealthMonitor(b),
		limiter: newRateLimiter(cfg.LoginPerMinute, cfg.LoginBurst, cfg.Now),
	}
	s.health.SetAlertCallback(func(a resilience.HealthAlert) {
		s.logger.Error().Str("check", a.Component).Str("status", string(a.Status)).Msg(a.Message)
	})
	s.routes()
	return s
}

// newHealthMonitor checks the database and reports which integrations are
// installed.
func newHealthMonitor(b *backend.Backend) *resilience.HealthMonitor {
	m := resilience.NewHealthMonitor(resilience.DefaultHealthMonitorConfig())
	m.RegisterComponent("database", resilience.DatabaseHealthCheck(func(ctx context.Context) error {
		sqlDB, err := b.DB().DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}))
	m.RegisterComponent("functions", resilience.ConfiguredCheck("Remote functions", func() bool {
		return len(b.Functions.Names()) > 0
	}))
	m.RegisterComponent("llm", resilience.ConfiguredCheck("LLM", func() bool {
		return b.LLM != nil
	}))
	return m
}

// Health returns the server's health monitor.
func (s *Server) Health() *resilience.HealthMonitor {
	return s.health
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", s.ready)
	r.GET("/health", s.healthReport)

	api := r.Group("/api/apps/:app", s.checkApp)
	limited := api.Group("", rateLimit(s.limiter))
	limited.POST("/auth/login", s.login)
	limited.POST("/auth/register", s.register)

	authed := api.Group("", authenticate(s.backend.Auth, s.logger))
	authed.GET("/auth/me", s.me)
	authed.POST("/auth/logout", s.logout)

	authed.GET("/entities/:kind", s.listEntities)
	authed.POST("/entities/:kind", s.createEntity)
	authed.PUT("/entities/:kind/:id", s.updateEntity)
	authed.DELETE("/entities/:kind/:id", s.deleteEntity)

	authed.POST("/functions/:name", s.invokeFunction)
	authed.POST("/integrations/Core/InvokeLLM", s.invokeLLM)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. Health checks run every healthInterval while it serves.
func (s *Server) ListenAndServe(ctx context.Context, addr string, healthInterval time.Duration) error {
	var bg poller.Group
	defer bg.Close()
	if healthInterval > 0 {
		bg.Add(s.health.Start(ctx, healthInterval))
	}
	bg.Add(poller.Every(ctx, 10*time.Minute, func(context.Context) {
		s.limiter.prune(time.Hour)
	}, poller.Named("rate-limit-prune")))

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("Server exited properly")
	return nil
}

func (s *Server) checkApp(c *gin.Context) {
	if s.appID != "" && c.Param("app") != s.appID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown app " + c.Param("app")})
		return
	}
	c.Next()
}

// requestLogger logs every request and puts a request-scoped logger into the
// request context for the handlers below it.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLog := logger.With().Str("method", c.Request.Method).Str("path", c.Request.URL.Path).Logger()
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), reqLog))

		c.Next()

		status := c.Writer.Status()
		event := reqLog.Info()
		if status >= http.StatusInternalServerError {
			event = reqLog.Error()
		}
		event.
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// currentHealth returns the last health run, running the checks first if
// they never ran.
func (s *Server) currentHealth(c *gin.Context) resilience.SystemHealth {
	h := s.health.Health()
	if h.TotalChecks == 0 {
		h = s.health.Check(c.Request.Context())
	}
	return h
}

func (s *Server) ready(c *gin.Context) {
	h := s.currentHealth(c)
	if !s.health.IsReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": h.Status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": h.Status})
}

func (s *Server) healthReport(c *gin.Context) {
	if c.Query("refresh") != "" {
		c.JSON(http.StatusOK, s.health.Check(c.Request.Context()))
		return
	}
	c.JSON(http.StatusOK, s.currentHealth(c))
}
