package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"tradegate/internal/audit"
	"tradegate/internal/auth"
	"tradegate/internal/collab"
	"tradegate/internal/command"
	"tradegate/internal/config"
	"tradegate/internal/logging"
	"tradegate/internal/monitoring"
	"tradegate/internal/status"
)

// Deps are the wired services the server exposes.
type Deps struct {
	Credentials *auth.CredentialStore
	Tokens      *auth.JWTManager
	Executor    *command.Executor
	Collector   *status.Collector
	Signals     *status.SignalService
	Logs        collab.LogStore
	Audit       *audit.Recorder
	Metrics     *monitoring.Metrics
}

// Server runs the two gateway listeners: the REST API and the WebSocket
// endpoint. They live on separate ports so a firewall can expose them
// independently.
type Server struct {
	cfg      *config.Config
	handlers *Handlers
	hub      *Hub

	rest *gin.Engine
	ws   *gin.Engine

	restServer *http.Server
	wsServer   *http.Server

	startedAt time.Time
}

// NewServer wires the routers. Start launches the listeners.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg: cfg,
		handlers: &Handlers{
			executor:    deps.Executor,
			collector:   deps.Collector,
			signals:     deps.Signals,
			logs:        deps.Logs,
			audit:       deps.Audit,
			tokens:      deps.Tokens,
			maxLogLines: cfg.Collaborators.MaxLogLines,
		},
		hub: NewHub(deps.Credentials, deps.Tokens, deps.Executor, deps.Collector,
			deps.Metrics, cfg.Status.BroadcastInterval),
		rest:      gin.New(),
		ws:        gin.New(),
		startedAt: time.Now(),
	}
	s.setupRESTRoutes(deps)
	s.setupWSRoutes()
	return s
}

func (s *Server) setupRESTRoutes(deps Deps) {
	s.rest.Use(gin.Recovery())
	s.rest.Use(requestLogMiddleware())
	s.rest.Use(corsMiddleware(s.cfg.CORS))
	if s.cfg.RateLimit.Enabled {
		s.rest.Use(rateLimitMiddleware(s.cfg.RateLimit))
	}
	if deps.Metrics != nil {
		s.rest.Use(deps.Metrics.MetricsMiddleware())
		if s.cfg.Monitoring.PrometheusEnabled {
			s.rest.GET(s.cfg.Monitoring.PrometheusPath, gin.WrapH(deps.Metrics.Handler()))
		}
	}

	s.rest.GET("/health", s.health)

	if s.cfg.App.Env == "development" {
		s.rest.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	remote := s.rest.Group("/remote")
	remote.Use(authMiddleware(deps.Credentials, deps.Tokens))
	{
		remote.GET("/status", s.handlers.GetStatus)
		remote.GET("/logs", s.handlers.GetLogs)
		remote.GET("/signals", s.handlers.GetSignals)
		remote.POST("/command", s.handlers.PostCommand)
		remote.POST("/auth/token", s.handlers.IssueToken)
		remote.GET("/audit", requireRole(auth.RoleAdmin), s.handlers.GetAudit)
	}
}

func (s *Server) setupWSRoutes() {
	s.ws.Use(gin.Recovery())
	s.ws.GET("/ws", s.hub.Serve)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        s.cfg.App.Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"time":           time.Now().UTC(),
	})
}

// Start runs both listeners and blocks until one of them fails. A clean
// shutdown surfaces http.ErrServerClosed.
func (s *Server) Start() error {
	s.restServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", s.cfg.Server.REST.Host, s.cfg.Server.REST.Port),
		Handler:        s.rest,
		ReadTimeout:    s.cfg.Server.REST.ReadTimeout,
		WriteTimeout:   s.cfg.Server.REST.WriteTimeout,
		MaxHeaderBytes: s.cfg.Server.REST.MaxHeaderBytes,
	}
	s.wsServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Server.WebSocket.Host, s.cfg.Server.WebSocket.Port),
		Handler:     s.ws,
		ReadTimeout: s.cfg.Server.WebSocket.ReadTimeout,
	}

	s.hub.Start()

	errCh := make(chan error, 2)
	go func() {
		logging.Infof("REST listener on %s", s.restServer.Addr)
		errCh <- s.restServer.ListenAndServe()
	}()
	go func() {
		logging.Infof("WebSocket listener on %s", s.wsServer.Addr)
		errCh <- s.wsServer.ListenAndServe()
	}()

	return <-errCh
}

// Stop gracefully stops the hub and both listeners.
func (s *Server) Stop(ctx context.Context) error {
	logging.Info("shutting down gateway listeners")

	s.hub.Stop()

	var firstErr error
	for _, srv := range []*http.Server{s.wsServer, s.restServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("listener shutdown failed: %w", err)
		}
	}
	return firstErr
}
