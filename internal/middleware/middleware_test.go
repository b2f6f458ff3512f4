package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"keyguard/backend/internal/auth/jwt"
	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/monitoring"
	"keyguard/backend/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuthorizer map[string]error

func (s stubAuthorizer) Authorize(_ context.Context, key string) (*domain.APIKey, error) {
	if err, ok := s[key]; ok {
		if err != nil {
			return nil, err
		}
		return &domain.APIKey{
			Key:       key,
			Name:      "name-" + key,
			Status:    domain.KeyStatusActive,
			RateLimit: domain.RateLimit{MaxRequests: 2, WindowSeconds: 60},
		}, nil
	}
	if key == "" {
		return nil, domain.ErrMissingKey
	}
	return nil, domain.ErrInvalidKey
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, domain.RateLimit) (*ratelimit.Result, error) {
	return nil, errors.New("redis down")
}

func newProtectedRouter(authz Authorizer, limiter ratelimit.Limiter, metrics *monitoring.Metrics) *gin.Engine {
	r := gin.New()
	auth := NewAPIKeyAuth(authz, zap.NewNop())
	rl := NewRateLimiter(limiter, "memory", metrics, zap.NewNop())
	handler := func(c *gin.Context) {
		record, ok := APIKeyFromContext(c)
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, record.Name)
	}
	r.GET("/protected", auth.RequireAPIKey(), rl.RateLimit(), handler)
	r.OPTIONS("/protected", auth.RequireAPIKey(), handler)
	return r
}

func TestRequireAPIKey(t *testing.T) {
	authz := stubAuthorizer{
		"good":    nil,
		"revoked": domain.ErrInactiveKey,
		"old":     domain.ErrExpiredKey,
		"down":    fmt.Errorf("%w: timeout", domain.ErrBackingStoreUnavailable),
	}
	r := newProtectedRouter(authz, ratelimit.NewLocalLimiter(), nil)

	tests := []struct {
		name       string
		key        string
		wantStatus int
		wantReason string
	}{
		{"有效 Key", "good", http.StatusOK, ""},
		{"缺少 Key", "", http.StatusUnauthorized, "missing"},
		{"无效 Key", "nope", http.StatusUnauthorized, "invalid"},
		{"已吊销", "revoked", http.StatusUnauthorized, "inactive"},
		{"已过期", "old", http.StatusUnauthorized, "expired"},
		{"存储不可用", "down", http.StatusServiceUnavailable, "store_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantReason != "" {
				assert.Contains(t, rec.Body.String(), `"reason":"`+tt.wantReason+`"`)
			} else {
				assert.Equal(t, "name-good", rec.Body.String())
			}
		})
	}
}

func TestRequireAPIKey_HeaderCaseInsensitive(t *testing.T) {
	r := newProtectedRouter(stubAuthorizer{"good": nil}, ratelimit.NewLocalLimiter(), nil)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header["X-Api-Key"] = []string{"good"}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAPIKey_OptionsBypass(t *testing.T) {
	r := newProtectedRouter(stubAuthorizer{}, ratelimit.NewLocalLimiter(), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/protected", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	metrics := monitoring.NewMetrics()
	r := newProtectedRouter(stubAuthorizer{"good": nil}, ratelimit.NewLocalLimiter(), metrics)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set(APIKeyHeader, "good")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	require.Equal(t, http.StatusOK, do().Code)

	rec = do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitBlocks.WithLabelValues("memory")))
}

func TestRateLimit_FailsOpen(t *testing.T) {
	metrics := monitoring.NewMetrics()
	r := newProtectedRouter(stubAuthorizer{"good": nil}, failingLimiter{}, metrics)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(APIKeyHeader, "good")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitErrors))
}

func TestRequireAdmin(t *testing.T) {
	manager := jwt.NewManager("0123456789abcdef0123456789abcdef", "keyguard", time.Hour)
	admin, err := manager.GenerateToken("ops", jwt.RoleAdmin)
	require.NoError(t, err)
	viewer, err := manager.GenerateToken("bob", "viewer")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/admin", NewAdminAuth(manager, nil).RequireAdmin(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("adminSubject"))
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"管理员令牌", "Bearer " + admin.AccessToken, http.StatusOK},
		{"小写 bearer", "bearer " + admin.AccessToken, http.StatusOK},
		{"缺少令牌", "", http.StatusUnauthorized},
		{"格式错误", "Token abc", http.StatusUnauthorized},
		{"无效令牌", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"角色不足", "Bearer " + viewer.AccessToken, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/echo", BodySizeLimit(8), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("ok")))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestValidateContentType(t *testing.T) {
	r := gin.New()
	r.POST("/json", ValidateContentType("application/json"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name        string
		contentType string
		wantStatus  int
	}{
		{"JSON", "application/json; charset=utf-8", http.StatusNoContent},
		{"缺少类型", "", http.StatusBadRequest},
		{"表单", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/json", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestPanicRecoveryAndMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics()
	mm := NewMonitoringMiddleware(metrics, zap.NewNop())

	r := gin.New()
	r.Use(mm.HTTPMetrics(), mm.PanicRecovery(), SecurityHeaders(), RequestLogger(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PanicsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/boom", "500")))
}
