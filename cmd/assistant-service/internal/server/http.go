package server

import (
	"errors"
	"net/http"
	"time"

	"chainassistant/cmd/assistant-service/internal/biz"
	"chainassistant/cmd/assistant-service/internal/domain"
	"chainassistant/cmd/assistant-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Logger 日志接口
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// HTTPServer HTTP 服务器
type HTTPServer struct {
	engine  *gin.Engine
	service *service.AssistantService
	logger  Logger
}

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(srv *service.AssistantService, logger Logger) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)

	s := &HTTPServer{
		engine:  gin.New(),
		service: srv,
		logger:  logger,
	}

	s.registerMiddlewares()
	s.registerRoutes()

	return s
}

// registerMiddlewares 注册中间件
func (s *HTTPServer) registerMiddlewares() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())
	s.engine.Use(s.corsMiddleware())
}

// requestLogger 请求日志中间件
func (s *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// corsMiddleware CORS 中间件
func (s *HTTPServer) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// registerRoutes 注册路由
func (s *HTTPServer) registerRoutes() {
	api := s.engine.Group("/api/v1")
	{
		api.POST("/chat", s.chat)

		contexts := api.Group("/context")
		{
			contexts.POST("/initialize", s.initializeContext)
			contexts.GET("/:conversation_id", s.getContext)
			contexts.DELETE("/:conversation_id", s.clearContext)
		}

		admin := api.Group("/admin")
		{
			admin.GET("/cache/stats", s.cacheStats)
			admin.POST("/cache/flush", s.flushCaches)
			admin.GET("/failsafe/stats", s.failsafeStats)
			admin.DELETE("/failsafe/cache", s.clearFailsafeCache)
			admin.POST("/failsafe/test", s.testFallback)
		}
	}

	s.engine.GET("/health", s.healthCheck)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// chat 处理一轮会话
func (s *HTTPServer) chat(c *gin.Context) {
	var req biz.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID == "" || req.Message == "" {
		s.respondError(c, http.StatusBadRequest, "conversation_id and message are required")
		return
	}

	result, err := s.service.Chat(c.Request.Context(), &req)
	if err != nil {
		s.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// initializeContext 初始化会话上下文
func (s *HTTPServer) initializeContext(c *gin.Context) {
	var req service.InitializeContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	record, err := s.service.InitializeContext(c.Request.Context(), &req)
	if err != nil {
		s.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// getContext 读取会话上下文
func (s *HTTPServer) getContext(c *gin.Context) {
	record, err := s.service.GetContext(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		s.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// clearContext 删除会话上下文
func (s *HTTPServer) clearContext(c *gin.Context) {
	if err := s.service.ClearContext(c.Request.Context(), c.Param("conversation_id")); err != nil {
		s.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// cacheStats 缓存统计
func (s *HTTPServer) cacheStats(c *gin.Context) {
	stats, err := s.service.GetCacheStats(c.Request.Context())
	if err != nil {
		s.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// flushCaches 清空缓存
func (s *HTTPServer) flushCaches(c *gin.Context) {
	if err := s.service.FlushCaches(c.Request.Context()); err != nil {
		s.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flushed": true})
}

// failsafeStats 降级缓存统计
func (s *HTTPServer) failsafeStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.GetFailsafeStats())
}

// clearFailsafeCache 清空降级缓存
func (s *HTTPServer) clearFailsafeCache(c *gin.Context) {
	s.service.ClearFailsafeCache()
	c.Status(http.StatusNoContent)
}

// testFallback 降级链路演练
func (s *HTTPServer) testFallback(c *gin.Context) {
	var req service.TestFallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, s.service.TestFallback(&req))
}

// healthCheck 健康检查
func (s *HTTPServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "assistant-service",
		"time":    time.Now().Format(time.RFC3339),
	})
}

// Engine 返回 Gin 引擎
func (s *HTTPServer) Engine() *gin.Engine {
	return s.engine
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// respondError 响应错误
func (s *HTTPServer) respondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, ErrorResponse{
		Code:    statusCode,
		Message: message,
	})
}

// handleServiceError 处理服务层错误
func (s *HTTPServer) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrContextNotFound):
		s.respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidEntry):
		s.respondError(c, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Service error", zap.Error(err))
		s.respondError(c, http.StatusInternalServerError, "internal server error")
	}
}
