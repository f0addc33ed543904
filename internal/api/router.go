package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/adamscao/ovpnpanel/internal/api/handlers"
	"github.com/adamscao/ovpnpanel/internal/api/middleware"
	"github.com/adamscao/ovpnpanel/internal/auth"
	"github.com/adamscao/ovpnpanel/internal/config"
	"github.com/adamscao/ovpnpanel/internal/metrics"
	"github.com/adamscao/ovpnpanel/internal/panel"
	"github.com/adamscao/ovpnpanel/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	router  *gin.Engine
	handler http.Handler
	config  *config.Config
	http    *http.Server
}

// Deps are the services the HTTP layer is built on
type Deps struct {
	Panel    *panel.Panel
	Sessions *auth.SessionManager
	Limiter  ratelimit.Throttle // nil disables login throttling
	Metrics  *metrics.Metrics
	Logger   logrus.FieldLogger
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps) *Server {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	var rec middleware.RequestRecorder
	if deps.Metrics != nil {
		rec = deps.Metrics
	}
	router.Use(middleware.Logger(deps.Logger, rec))

	// Create handlers
	creds := auth.Credentials{
		Username:     cfg.Admin.Username,
		PasswordHash: cfg.Admin.PasswordHash,
		TOTPSecret:   cfg.Admin.TOTPSecret,
	}
	sessionHandler := handlers.NewSessionHandler(creds, deps.Sessions, deps.Limiter, deps.Panel, deps.Logger)
	clientHandler := handlers.NewClientHandler(deps.Panel)
	serverHandler := handlers.NewServerHandler(deps.Panel)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Public endpoints
	router.POST("/api/login", sessionHandler.Login)

	// Everything else requires a session
	protected := router.Group("")
	protected.Use(middleware.Session(deps.Sessions, handlers.SessionCookie, handlers.UsernameKey))
	{
		protected.POST("/api/logout", sessionHandler.Logout)

		protected.GET("/api/stats", serverHandler.Stats)
		protected.GET("/api/server/status", serverHandler.Status)
		protected.POST("/api/server/restart", serverHandler.Restart)

		protected.GET("/api/clients", clientHandler.List)
		protected.POST("/api/add_client", clientHandler.Add)
		protected.POST("/api/revoke_client", clientHandler.Revoke)
		protected.POST("/api/delete_client", clientHandler.Delete)
		protected.POST("/api/edit_client", clientHandler.Edit)
		protected.POST("/api/extend_expiry", clientHandler.Extend)
		protected.GET("/api/client_info/:name", clientHandler.Info)
		protected.GET("/api/download_config/:name", clientHandler.Download)
		protected.GET("/api/config_base64/:name", clientHandler.ConfigBase64)

		if deps.Metrics != nil {
			protected.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
		}
	}

	// CORS wraps the engine so preflight requests never reach the session check
	handler := http.Handler(router)
	if len(cfg.Server.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			AllowCredentials: true,
		}).Handler(router)
	}

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.config.Server.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the complete HTTP handler, CORS included
func (s *Server) Handler() http.Handler {
	return s.handler
}
