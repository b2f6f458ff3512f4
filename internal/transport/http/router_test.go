package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	jwtpkg "keyguard/backend/internal/auth/jwt"
	"keyguard/backend/internal/cache"
	"keyguard/backend/internal/config"
	"keyguard/backend/internal/health"
	"keyguard/backend/internal/monitoring"
	"keyguard/backend/internal/ratelimit"
	"keyguard/backend/internal/service"
	"keyguard/backend/internal/storage/memory"
)

type testServer struct {
	router     *gin.Engine
	adminToken string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server:    config.ServerConfig{MaxBodyBytes: 1 << 20},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
		RateLimit: config.RateLimitConfig{Enabled: true, Backend: "memory"},
	}

	store := memory.NewStore()
	c := cache.NewLocalCache(1000, time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	metrics := monitoring.NewMetrics()
	opts := service.DefaultOptions()
	manager := jwtpkg.NewManager("0123456789abcdef0123456789abcdef", "keyguard", time.Hour)

	token, err := manager.GenerateToken("tester", jwtpkg.RoleAdmin)
	require.NoError(t, err)

	router := NewRouter(RouterDependencies{
		Config:        cfg,
		Validator:     service.NewKeyValidator(store, c, opts, metrics, zap.NewNop()),
		APIKeyService: service.NewAPIKeyService(store, c, opts, metrics, zap.NewNop()),
		JWTManager:    manager,
		RateLimiter:   ratelimit.NewWindowLimiter(store),
		Metrics:       metrics,
		Health:        health.NewHealthChecker(store.Health, c.Ping, zap.NewNop()),
		Monitor:       monitoring.NewHealthChecker(store.Health, c.Ping, zap.NewNop(), "test"),
		Logger:        zap.NewNop(),
	})

	return &testServer{router: router, adminToken: token.AccessToken}
}

func (s *testServer) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) admin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.adminToken}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env
}

func TestRouter_IssueAuthorizeRevoke(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/v1/api-keys/issue", gin.H{
		"name":               "integration",
		"rateLimitPerWindow": 5,
	}, s.admin())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var issued apiKeyResponse
	decode(t, rec, &issued)
	assert.Len(t, issued.Key, 64)
	assert.Equal(t, "active", string(issued.Status))
	assert.Equal(t, 5, issued.RateLimitPerWindow)
	assert.Equal(t, 3600, issued.RateLimitWindowSeconds)

	rec = s.do(http.MethodGet, "/v1/test-protected", nil, map[string]string{"X-API-KEY": issued.Key})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "integration")
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))

	rec = s.do(http.MethodPost, "/v1/api-keys/revoke", gin.H{"key": issued.Key}, s.admin())
	require.Equal(t, http.StatusOK, rec.Code)
	var result service.RevokeResult
	decode(t, rec, &result)
	assert.Equal(t, service.RevokeResult{Revoked: true}, result)

	rec = s.do(http.MethodPost, "/v1/api-keys/revoke", gin.H{"key": issued.Key}, s.admin())
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &result)
	assert.True(t, result.AlreadyRevoked)

	rec = s.do(http.MethodGet, "/v1/test-protected", nil, map[string]string{"X-API-KEY": issued.Key})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "inactive")
}

func TestRouter_IssueErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/v1/api-keys/issue", gin.H{"name": "dup"}, s.admin())
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name       string
		body       interface{}
		headers    map[string]string
		wantStatus int
	}{
		{"名称重复", gin.H{"name": "dup"}, s.admin(), http.StatusConflict},
		{"缺少名称", gin.H{}, s.admin(), http.StatusBadRequest},
		{"过期时长非法", gin.H{"name": "x", "expiresIn": "soon"}, s.admin(), http.StatusBadRequest},
		{"过期时间已过", gin.H{"name": "x", "expiresAt": time.Now().Add(-time.Hour)}, s.admin(), http.StatusBadRequest},
		{"限流非法", gin.H{"name": "x", "rateLimitWindowSeconds": 0}, s.admin(), http.StatusBadRequest},
		{"缺少管理员令牌", gin.H{"name": "y"}, nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/v1/api-keys/issue", tt.body, tt.headers)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_RevokeUnknown(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/v1/api-keys/revoke", gin.H{"key": "nope"}, s.admin())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ListMasksKeys(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/v1/api-keys/issue", gin.H{"name": "listed"}, s.admin())
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued apiKeyResponse
	decode(t, rec, &issued)

	rec = s.do(http.MethodGet, "/v1/api-keys", nil, s.admin())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), issued.Key)
	assert.Contains(t, rec.Body.String(), issued.Key[:8]+"...")

	rec = s.do(http.MethodGet, "/v1/api-keys/by-name/listed", nil, s.admin())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/v1/api-keys/by-name/missing", nil, s.admin())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ProtectedRequiresKey(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/v1/test-protected", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing")

	rec = s.do(http.MethodGet, "/v1/test-protected", nil, map[string]string{"X-API-KEY": "bogus"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodOptions, "/v1/test-protected", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/metrics"} {
		rec := s.do(http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := s.do(http.MethodGet, "/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ExpiredKey(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/v1/api-keys/issue", gin.H{"name": "brief", "expiresIn": "1s"}, s.admin())
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued apiKeyResponse
	decode(t, rec, &issued)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for ctx.Err() == nil {
		rec = s.do(http.MethodGet, "/v1/test-protected", nil, map[string]string{"X-API-KEY": issued.Key})
		if rec.Code != http.StatusOK {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
}
