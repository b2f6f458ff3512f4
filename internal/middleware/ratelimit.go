package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"keyguard/backend/internal/monitoring"
	"keyguard/backend/internal/ratelimit"
)

// RateLimiter 按 API Key 的限流中间件
type RateLimiter struct {
	limiter ratelimit.Limiter
	backend string
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewRateLimiter 创建限流中间件
//
// 参数:
//   - limiter: 限流实现
//   - backend: 后端名称，用于指标标签
//   - metrics: 指标，可为 nil
//   - log: 日志，可为 nil
func NewRateLimiter(limiter ratelimit.Limiter, backend string, metrics *monitoring.Metrics, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{
		limiter: limiter,
		backend: backend,
		metrics: metrics,
		log:     log,
	}
}

// RateLimit 必须放在 RequireAPIKey 之后
//
// 限流器出错时放行请求。
func (m *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := APIKeyFromContext(c)
		if !ok {
			c.Next()
			return
		}

		res, err := m.limiter.Allow(c.Request.Context(), record.Key, record.RateLimit)
		if err != nil {
			m.metrics.RecordRateLimitError()
			m.log.Warn("Rate limiter failed, allowing request",
				zap.String("name", record.Name),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(ceilSeconds(res.ResetAfter.Seconds())))

		if !res.Allowed {
			m.metrics.RecordRateLimitBlock(m.backend)
			c.Header("Retry-After", strconv.Itoa(ceilSeconds(res.RetryAfter.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func ceilSeconds(s float64) int {
	return int(math.Ceil(s))
}
