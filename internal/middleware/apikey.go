package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"keyguard/backend/internal/domain"
)

// APIKeyHeader 携带 API Key 的请求头
const APIKeyHeader = "X-API-KEY"

// 上下文中保存鉴权记录的键
const contextKeyAPIKey = "apiKey"

// Authorizer 鉴权判定
type Authorizer interface {
	Authorize(ctx context.Context, presentedKey string) (*domain.APIKey, error)
}

// APIKeyAuth API Key认证中间件
type APIKeyAuth struct {
	authorizer Authorizer
	log        *zap.Logger
}

// NewAPIKeyAuth 创建API Key认证中间件
func NewAPIKeyAuth(authorizer Authorizer, log *zap.Logger) *APIKeyAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIKeyAuth{
		authorizer: authorizer,
		log:        log,
	}
}

// RequireAPIKey 要求API Key认证
//
// OPTIONS 预检请求直接放行。存储不可用返回 503，其余拒绝返回 401。
func (m *APIKeyAuth) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		record, err := m.authorizer.Authorize(c.Request.Context(), c.GetHeader(APIKeyHeader))
		if err != nil {
			reason := domain.ReasonFor(err)
			status := http.StatusUnauthorized
			if errors.Is(err, domain.ErrBackingStoreUnavailable) || reason == domain.ReasonStoreUnavailable {
				status = http.StatusServiceUnavailable
				m.log.Error("API key check failed: store unavailable",
					zap.String("path", c.Request.URL.Path),
					zap.Error(err),
				)
			}

			c.JSON(status, gin.H{
				"error":  denyMessage(reason),
				"reason": string(reason),
			})
			c.Abort()
			return
		}

		// 将鉴权记录存入上下文
		c.Set(contextKeyAPIKey, record)
		c.Next()
	}
}

// APIKeyFromContext 读取 RequireAPIKey 放入上下文的记录
func APIKeyFromContext(c *gin.Context) (*domain.APIKey, bool) {
	v, ok := c.Get(contextKeyAPIKey)
	if !ok {
		return nil, false
	}
	record, ok := v.(*domain.APIKey)
	return record, ok && record != nil
}

func denyMessage(reason domain.DenyReason) string {
	switch reason {
	case domain.ReasonMissing:
		return "API key is missing"
	case domain.ReasonInactive:
		return "API key is not active or has been revoked"
	case domain.ReasonExpired:
		return "API key has expired"
	case domain.ReasonStoreUnavailable:
		return "authentication service temporarily unavailable"
	default:
		return "invalid API key"
	}
}
