package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "keyguard/backend/internal/auth/jwt"
	"keyguard/backend/internal/config"
	"keyguard/backend/internal/health"
	"keyguard/backend/internal/middleware"
	"keyguard/backend/internal/monitoring"
	"keyguard/backend/internal/ratelimit"
	"keyguard/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	Validator     *service.KeyValidator
	APIKeyService *service.APIKeyService
	JWTManager    *jwtpkg.Manager
	RateLimiter   ratelimit.Limiter // 为空时不限流
	Metrics       *monitoring.Metrics
	Health        *health.HealthChecker
	Monitor       *monitoring.HealthChecker
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(monitor.PanicRecovery())
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(deps.Config.Server.MaxBodyBytes))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.APIKeyHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	apiKeyHandler := NewAPIKeyHandler(deps.APIKeyService)

	// 创建中间件
	apiKeyAuth := middleware.NewAPIKeyAuth(deps.Validator, logger)
	adminAuth := middleware.NewAdminAuth(deps.JWTManager, logger)

	protected := []gin.HandlerFunc{apiKeyAuth.RequireAPIKey()}
	if deps.RateLimiter != nil {
		limiter := middleware.NewRateLimiter(deps.RateLimiter, deps.Config.RateLimit.Backend, deps.Metrics, logger)
		protected = append(protected, limiter.RateLimit())
	}

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		report := deps.Monitor.CheckHealth(c.Request.Context())
		status := http.StatusOK
		if report.Status == monitoring.HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})
	router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== API Key 管理（需要管理员令牌） ==========
		apiKeyRoutes := v1.Group("/api-keys")
		apiKeyRoutes.Use(adminAuth.RequireAdmin())
		{
			apiKeyRoutes.GET("", apiKeyHandler.ListAPIKeys)
			apiKeyRoutes.GET("/by-name/:name", apiKeyHandler.GetAPIKeyByName)
			apiKeyRoutes.POST("/issue", middleware.ValidateContentType("application/json"), apiKeyHandler.IssueAPIKey)
			apiKeyRoutes.POST("/revoke", middleware.ValidateContentType("application/json"), apiKeyHandler.RevokeAPIKey)
		}

		// ========== 受 API Key 保护的端点 ==========
		v1.GET("/test-protected", append(protected, apiKeyHandler.TestProtected)...)
		v1.OPTIONS("/test-protected", apiKeyAuth.RequireAPIKey(), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
	}

	router.NoRoute(func(c *gin.Context) {
		NotFound(c, "接口不存在")
	})
	router.NoMethod(func(c *gin.Context) {
		Error(c, http.StatusMethodNotAllowed, "请求方法不允许")
	})

	return router
}
