package controller

import (
	"time"

	commonmw "academyjudge/internal/common/http/middleware"
	"academyjudge/internal/grader/service"
	"academyjudge/pkg/utils/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig wires the grader HTTP surface.
type RouterConfig struct {
	Grader       *service.GraderService
	HealthChecks map[string]HealthCheck
	// RateLimit guards the submission routes when set.
	RateLimit gin.HandlerFunc
	// CORSOrigins enables cross-origin access for the listed origins.
	CORSOrigins []string
}

// NewRouter builds the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	}
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	health := NewHealthController(cfg.HealthChecks)
	router.GET("/healthz", health.Healthz)

	api := router.Group("/api/v1/submissions")
	if cfg.RateLimit != nil {
		api.Use(cfg.RateLimit)
	}
	graderController := NewGraderController(cfg.Grader)
	streamController := NewStreamController(cfg.Grader)
	api.POST("/run", graderController.Run)
	api.POST("/submit", graderController.Submit)
	api.POST("/grade", graderController.Grade)
	api.GET("/languages", graderController.Languages)
	api.GET("/stream", streamController.Stream)
	return router
}

func corsConfig(origins []string) cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = origins
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Request-Id", "X-Trace-Id")
	corsCfg.ExposeHeaders = []string{"X-Request-Id", "X-Trace-Id"}
	corsCfg.AllowCredentials = true
	return corsCfg
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
