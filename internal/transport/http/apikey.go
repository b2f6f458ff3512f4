package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/middleware"
	"keyguard/backend/internal/service"
)

// APIKeyHandler API Key管理处理器
type APIKeyHandler struct {
	apiKeyService *service.APIKeyService
}

// NewAPIKeyHandler 创建API Key处理器
func NewAPIKeyHandler(apiKeyService *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{
		apiKeyService: apiKeyService,
	}
}

// issueAPIKeyRequest 签发请求
type issueAPIKeyRequest struct {
	Name                   string     `json:"name" binding:"required"`
	ExpiresAt              *time.Time `json:"expiresAt,omitempty"` // RFC3339 绝对时间
	ExpiresIn              string     `json:"expiresIn,omitempty"` // 相对时长，如 "720h"
	RateLimitPerWindow     *int       `json:"rateLimitPerWindow,omitempty"`
	RateLimitWindowSeconds *int       `json:"rateLimitWindowSeconds,omitempty"`
}

// revokeAPIKeyRequest 吊销请求
type revokeAPIKeyRequest struct {
	Key string `json:"key" binding:"required"`
}

// apiKeyResponse API Key响应
type apiKeyResponse struct {
	ID                     string           `json:"id,omitempty"`
	Key                    string           `json:"key"`
	Name                   string           `json:"name"`
	Status                 domain.KeyStatus `json:"status"`
	CreatedAt              *time.Time       `json:"createdAt,omitempty"`
	ExpiresAt              *time.Time       `json:"expiresAt,omitempty"`
	RateLimitPerWindow     int              `json:"rateLimitPerWindow"`
	RateLimitWindowSeconds int              `json:"rateLimitWindowSeconds"`
}

// toAPIKeyResponse 转换为响应结构，reveal 为 false 时只返回 Key 前缀
func toAPIKeyResponse(k *domain.APIKey, reveal bool) apiKeyResponse {
	resp := apiKeyResponse{
		ID:                     k.ID,
		Key:                    k.Key,
		Name:                   k.Name,
		Status:                 k.Status,
		ExpiresAt:              k.ExpiresAt,
		RateLimitPerWindow:     k.RateLimit.MaxRequests,
		RateLimitWindowSeconds: k.RateLimit.WindowSeconds,
	}
	if !k.CreatedAt.IsZero() {
		createdAt := k.CreatedAt
		resp.CreatedAt = &createdAt
	}
	if !reveal {
		resp.Key = domain.MaskKey(k.Key)
	}
	return resp
}

// IssueAPIKey godoc
// @Summary 签发API Key
// @Tags APIKeys
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body issueAPIKeyRequest true "签发参数"
// @Success 201 {object} apiKeyResponse
// @Router /v1/api-keys/issue [post]
func (h *APIKeyHandler) IssueAPIKey(c *gin.Context) {
	var req issueAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	input := service.IssueAPIKeyInput{
		Name:      req.Name,
		ExpiresAt: req.ExpiresAt,
	}

	// 解析过期时间
	if req.ExpiresIn != "" {
		duration, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			BadRequest(c, MsgInvalidExpiresIn)
			return
		}
		input.ExpiresIn = &duration
	}

	// 只传一个限流字段时另一个取默认值
	if req.RateLimitPerWindow != nil || req.RateLimitWindowSeconds != nil {
		rl := domain.DefaultRateLimit()
		if req.RateLimitPerWindow != nil {
			rl.MaxRequests = *req.RateLimitPerWindow
		}
		if req.RateLimitWindowSeconds != nil {
			rl.WindowSeconds = *req.RateLimitWindowSeconds
		}
		input.RateLimit = &rl
	}

	apiKey, err := h.apiKeyService.IssueAPIKey(c.Request.Context(), input)
	if err != nil {
		respondServiceError(c, err, MsgAPIKeyCreateFailed)
		return
	}

	// Key 明文只在签发时返回一次
	Created(c, toAPIKeyResponse(apiKey, true))
}

// RevokeAPIKey godoc
// @Summary 吊销API Key（幂等）
// @Tags APIKeys
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body revokeAPIKeyRequest true "要吊销的 Key"
// @Success 200 {object} service.RevokeResult
// @Router /v1/api-keys/revoke [post]
func (h *APIKeyHandler) RevokeAPIKey(c *gin.Context) {
	var req revokeAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.apiKeyService.RevokeAPIKey(c.Request.Context(), req.Key)
	if err != nil {
		respondServiceError(c, err, MsgAPIKeyRevokeFailed)
		return
	}

	Success(c, result)
}

// ListAPIKeys godoc
// @Summary 列出API Key（Key 已脱敏）
// @Tags APIKeys
// @Produce json
// @Security BearerAuth
// @Router /v1/api-keys [get]
func (h *APIKeyHandler) ListAPIKeys(c *gin.Context) {
	keys, err := h.apiKeyService.ListAPIKeys(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, MsgAPIKeyListFailed)
		return
	}

	response := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		response = append(response, toAPIKeyResponse(k, false))
	}

	Success(c, gin.H{
		"items": response,
		"total": len(response),
	})
}

// GetAPIKeyByName 按名称查询（Key 已脱敏）
func (h *APIKeyHandler) GetAPIKeyByName(c *gin.Context) {
	apiKey, err := h.apiKeyService.GetAPIKeyByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondServiceError(c, err, MsgAPIKeyGetFailed)
		return
	}

	Success(c, toAPIKeyResponse(apiKey, false))
}

// TestProtected 受 API Key 保护的示例端点
func (h *APIKeyHandler) TestProtected(c *gin.Context) {
	record, ok := middleware.APIKeyFromContext(c)
	if !ok {
		Unauthorized(c, MsgAPIKeyRequired)
		return
	}

	name := record.Name
	if name == "" {
		name = domain.MaskKey(record.Key)
	}

	Success(c, gin.H{
		"message":   "Hello, " + name + "! Your API key is valid.",
		"keyStatus": record.Status,
		"rateLimit": record.RateLimit,
	})
}

// respondServiceError 将服务层错误映射为 HTTP 响应
func respondServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrAPIKeyNotFound):
		NotFound(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrAPIKeyNameTaken):
		Conflict(c, GetErrorMessage(err))
	case errors.Is(err, domain.ErrNameRequired),
		errors.Is(err, domain.ErrNameTooLong),
		errors.Is(err, domain.ErrInvalidRateLimit),
		errors.Is(err, domain.ErrExpiresAtInPast),
		errors.Is(err, service.ErrAmbiguousExpiry):
		BadRequest(c, GetErrorMessage(err))
	case errors.Is(err, domain.ErrBackingStoreUnavailable):
		ServiceUnavailable(c, MsgStoreUnavailable)
	default:
		InternalError(c, fallback)
	}
}

