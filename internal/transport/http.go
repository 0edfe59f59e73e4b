package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/vuxtra/mcp-jive/internal/config"
	"github.com/vuxtra/mcp-jive/internal/namespace"
	"github.com/vuxtra/mcp-jive/internal/protocol"
	"github.com/vuxtra/mcp-jive/internal/storage"
)

// HTTPServer serves the JSON-RPC endpoint, the WebSocket upgrade endpoints
// and the health/tools conveniences over one gin engine.
type HTTPServer struct {
	cfg        *config.Config
	handler    *protocol.Handler
	hub        *WSHub
	store      *storage.Store
	logger     *logrus.Logger
	version    string
	router     *gin.Engine
	httpServer *http.Server
	inflight   *semaphore.Weighted
}

// NewHTTPServer wires routes and middleware.
func NewHTTPServer(cfg *config.Config, handler *protocol.Handler, hub *WSHub, store *storage.Store, log *logrus.Logger, version string) *HTTPServer {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	s := &HTTPServer{
		cfg:      cfg,
		handler:  handler,
		hub:      hub,
		store:    store,
		logger:   log,
		version:  version,
		router:   router,
		inflight: semaphore.NewWeighted(int64(cfg.Limits.MaxConcurrentRequests)),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		},
	}

	router.Use(gin.Recovery())
	router.Use(requestLogger(log))
	router.Use(corsMiddleware(cfg.Server.CORSOrigins))
	if cfg.Limits.RateLimitRPS > 0 {
		router.Use(rateLimiter(cfg.Limits.RateLimitRPS, cfg.Limits.RateLimitBurst))
	}

	router.POST("/mcp", s.handleMCP)
	router.POST("/mcp/:namespace", s.handleMCP)
	router.GET("/ws", s.handleWS)
	router.GET("/ws/:namespace", s.handleWS)
	router.GET("/health", s.handleHealth)
	router.GET("/tools", s.handleTools)

	return s
}

// Start begins serving; it returns once the listener stops.
func (s *HTTPServer) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("HTTP transport listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains connections within the context deadline.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.hub.Stop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// Router exposes the engine for tests.
func (s *HTTPServer) Router() http.Handler { return s.router }

func (s *HTTPServer) handleMCP(c *gin.Context) {
	if !s.inflight.TryAcquire(1) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity"})
		return
	}
	defer s.inflight.Release(1)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFrameSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	meta := protocol.TransportMeta{
		PathNamespace:   c.Param("namespace"),
		HeaderNamespace: c.GetHeader(namespace.Header),
	}
	resp := s.handler.HandleRaw(c.Request.Context(), body, meta)
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	status := "healthy"
	httpStatus := http.StatusOK
	if err := s.store.Ping(); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{"status": status, "version": s.version})
}

func (s *HTTPServer) handleTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.handler.ToolNames()})
}

func (s *HTTPServer) handleWS(c *gin.Context) {
	s.hub.Serve(c, protocol.TransportMeta{
		PathNamespace:   c.Param("namespace"),
		HeaderNamespace: c.GetHeader(namespace.Header),
	})
}

// requestLogger logs one line per request with latency and status.
func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		}).Debug("Request handled")
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, namespace.Header)
	return cors.New(corsConfig)
}

func rateLimiter(rps, burst int) gin.HandlerFunc {
	if burst <= 0 {
		burst = rps
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
