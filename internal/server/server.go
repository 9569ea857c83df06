// Package server assembles the gin engine: global middleware, CORS, and
// route registration. It is the wiring point, not where any coordinator
// logic lives. Component construction happens in cmd/api/main.go, which
// also owns the RecoveryService scheduler sharing these same components.
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/securestor/securestor/internal/config"
	"github.com/securestor/securestor/internal/handlers"
	"github.com/securestor/securestor/internal/logger"
)

type Server struct {
	config    *config.Config
	ginRouter *gin.Engine
	logger    *logger.Logger

	uploadHandler *handlers.UploadHandler
}

func New(cfg *config.Config, log *logger.Logger, uploadHandler *handlers.UploadHandler) *Server {
	s := &Server{
		config:        cfg,
		ginRouter:     gin.New(),
		logger:        log,
		uploadHandler: uploadHandler,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.ginRouter.Use(gin.Recovery())
	s.ginRouter.Use(gin.Logger())

	corsConfig := cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Accept", "Origin"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	s.ginRouter.Use(cors.New(corsConfig))

	s.ginRouter.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := s.ginRouter.Group("/api/v1")
	s.uploadHandler.RegisterRoutes(apiV1)
}

func (s *Server) Start() error {
	s.logger.Info("starting upload coordinator", s.config.Port)
	return http.ListenAndServe(":"+s.config.Port, s.ginRouter)
}

func (s *Server) Handler() http.Handler {
	return s.ginRouter
}
