// Package api exposes the scan engine over a thin HTTP surface for CI and
// programmatic callers: one scan endpoint returning the same report the
// CLI renders, plus health.
package api

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nullvoid-dev/nullvoid/internal/ratelimit"
)

// APIServer wraps the Gin router and handlers.
type APIServer struct {
	router      *gin.Engine
	scanHandler *ScanHandler
	logger      *slog.Logger
}

// NewAPIServer creates a new API server with routing.
func NewAPIServer(scanHandler *ScanHandler, limiter *ratelimit.Limiter, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(logger))
	router.Use(ErrorHandlingMiddleware(logger))
	router.Use(CORSMiddleware())
	if limiter != nil {
		router.Use(RateLimitingMiddleware(limiter))
	}

	server := &APIServer{
		router:      router,
		scanHandler: scanHandler,
		logger:      logger,
	}
	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes.
func (as *APIServer) setupRoutes() {
	v1 := as.router.Group("/api/v1")
	{
		v1.GET("/health", as.scanHandler.Health)
		v1.POST("/scan", as.scanHandler.Scan)
	}
	as.logger.Info("API routes configured")
}

// Router returns the underlying Gin router.
func (as *APIServer) Router() *gin.Engine {
	return as.router
}

// Start starts the API server.
func (as *APIServer) Start(addr string) error {
	as.logger.Info("Starting API server", slog.String("address", addr))
	return as.router.Run(addr)
}

// LoggingMiddleware logs HTTP requests and responses.
func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("API request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("remote_addr", c.RemoteIP()),
			slog.Int("status_code", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// ErrorHandlingMiddleware handles panics and errors.
func ErrorHandlingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("API panic recovered",
					slog.String("method", c.Request.Method),
					slog.String("path", c.Request.URL.Path),
					slog.Any("panic", r),
				)
				c.JSON(500, gin.H{
					"error":   "internal_server_error",
					"message": "An unexpected error occurred",
				})
			}
		}()

		c.Next()
	}
}

// RateLimitingMiddleware rejects clients that exceed the shared limiter's
// per-address window.
func RateLimitingMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, resetAt := limiter.Allow("http:" + c.RemoteIP())
		if !allowed {
			c.Header("Retry-After", resetAt.UTC().Format(time.RFC1123))
			c.JSON(429, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests; retry after the window resets",
			})
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}

// CORSMiddleware handles CORS headers.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
